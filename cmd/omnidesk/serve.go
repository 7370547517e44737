package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omnitech/omnidesk/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the knowledge/tool server on stdin/stdout",
	Long: `Run the knowledge/tool server speaking the tool protocol on stdin/stdout.

Logs go to stderr. Agents started with toolserver.transport=stdio spawn this
command as a subprocess.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		a.logger.Info("tool server listening on stdio",
			zap.Int("tools", len(a.tools.Operations())), zap.String("version", version))
		err = server.NewStdioServer(a.mcp).Listen(ctx, os.Stdin, os.Stdout)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("stdio server: %w", err)
		}
		return nil
	},
}

var httpCmd = &cobra.Command{
	Use:   "http",
	Short: "Serve the agent over an HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		port, _ := cmd.Flags().GetInt("port")
		email, _ := cmd.Flags().GetString("email")
		return runHTTP(cmd.Context(), host, port, email)
	},
}

func init() {
	httpCmd.Flags().String("host", "127.0.0.1", "listen address")
	httpCmd.Flags().Int("port", 0, "listen port (defaults to server.port)")
	httpCmd.Flags().String("email", "", "initial customer email for the session")
}

func runHTTP(ctx context.Context, host string, port int, email string) error {
	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	session, err := a.newSession(ctx, email)
	if err != nil {
		return err
	}

	if port == 0 {
		port = a.cfg.Server.Port
	}
	if a.cfg.Server.APIToken == "" {
		printWarning("server.api_token is not set; the API is unauthenticated")
	}

	addr := net.JoinHostPort(host, fmt.Sprint(port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewHTTPHandler(session, a.cfg.Server.APIToken, a.logger.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		printStep("omnidesk %s listening on %s", version, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		printStep("shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
