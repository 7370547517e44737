package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/omnitech/omnidesk/internal/agent"
	"github.com/omnitech/omnidesk/internal/api"
	"github.com/omnitech/omnidesk/internal/bridge"
	"github.com/omnitech/omnidesk/internal/classify"
	"github.com/omnitech/omnidesk/internal/config"
	"github.com/omnitech/omnidesk/internal/generation"
	"github.com/omnitech/omnidesk/internal/ingest"
	"github.com/omnitech/omnidesk/internal/logging"
	"github.com/omnitech/omnidesk/internal/retrieval"
	"github.com/omnitech/omnidesk/internal/storage"
	"github.com/omnitech/omnidesk/internal/telemetry"
	"github.com/omnitech/omnidesk/internal/toolclient"
	"github.com/omnitech/omnidesk/internal/toolserver"
)

const (
	defaultOllamaURL = "http://localhost:11434"
	queryCacheTTL    = 10 * time.Minute
)

// app holds the process-wide components every command builds on. Closers run
// in reverse order on Close.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	store  *storage.Store
	seeded bool

	categories *classify.Table
	corpus     ingest.Stats
	tools      *toolserver.Server
	mcp        *server.MCPServer

	closers []func(context.Context) error
}

type appOptions struct {
	// storeOnly stops after the store is opened and seeded.
	storeOnly bool
	reload    bool
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if opts.reload {
		cfg.Corpus.Reload = true
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.init(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context, opts appOptions) error {
	shutdown, err := telemetry.Init(ctx, telemetry.Options{
		Enabled:     a.cfg.Telemetry.Enabled,
		ServiceName: "omnidesk",
		Version:     version,
	}, a.logger)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, shutdown)

	store, err := storage.Open(a.cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })

	sd, err := loadSeed(a.cfg.Storage.SeedFile)
	if err != nil {
		return err
	}
	if a.seeded, err = store.Seed(ctx, sd); err != nil {
		return fmt.Errorf("seeding storage: %w", err)
	}
	if a.seeded {
		a.logger.Info("seeded storage", zap.String("data_dir", a.cfg.Storage.DataDir))
	}

	if opts.storeOnly {
		return nil
	}

	if a.categories, err = loadCategories(a.cfg.Corpus.CategoriesFile); err != nil {
		return err
	}

	retriever := retrieval.NewRetriever(
		retrieval.NewEmbedder(a.embeddingBackend(), queryCacheTTL).Named(a.embeddingName()),
		retrieval.NewSQLiteStore(store.DB()),
	)
	a.corpus, err = ingest.NewLoader(retriever, a.categories, a.logger).Load(ctx, ingest.Options{
		Dir:       a.cfg.Corpus.Dir,
		ChunkSize: a.cfg.Corpus.ChunkSize,
		Reload:    a.cfg.Corpus.Reload,
	})
	if err != nil {
		return fmt.Errorf("loading knowledge base: %w", err)
	}
	a.logger.Info("knowledge base ready",
		zap.Int("files", a.corpus.Files),
		zap.Int("chunks", a.corpus.Chunks),
		zap.Bool("skipped", a.corpus.Skipped),
		zap.Bool("rebuilt", a.corpus.Rebuilt),
	)

	gc := a.cfg.Generation
	a.tools = toolserver.New(toolserver.Deps{
		Store:      store,
		Categories: a.categories,
		Retriever:  retriever,
		Generation: toolserver.GenerationInfo{
			Provider:    gc.Provider,
			Model:       gc.Model,
			BaseURL:     gc.BaseURL,
			APIKeySet:   gc.APIKey != "",
			MaxAttempts: gc.MaxAttempts,
			RetryDelay:  gc.RetryDelay.String(),
		},
		Logger: a.logger.Named("toolserver"),
	})
	a.mcp = api.NewMCPServer(a.tools, version)
	return nil
}

func loadSeed(path string) (storage.SeedData, error) {
	if path == "" {
		return storage.DefaultSeed()
	}
	return storage.LoadSeedFile(path)
}

func loadCategories(path string) (*classify.Table, error) {
	if path == "" {
		return classify.DefaultTable()
	}
	return classify.LoadTableFile(path)
}

func (a *app) embeddingBackend() retrieval.Backend {
	ec := a.cfg.Embedding
	if strings.EqualFold(ec.Provider, "ollama") {
		base := defaultOllamaURL
		if strings.EqualFold(a.cfg.Generation.Provider, generation.ProviderOllama) {
			base = a.cfg.Generation.BaseURL
		}
		o := generation.NewOllama(base, a.cfg.Generation.Timeout)
		return retrieval.BackendFunc(func(ctx context.Context, text string) ([]float32, error) {
			return o.Embed(ctx, ec.Model, text)
		})
	}
	return retrieval.NewHashEmbedder(ec.Dimensions)
}

// embeddingName identifies the embedding backend in the index metadata.
func (a *app) embeddingName() string {
	ec := a.cfg.Embedding
	if strings.EqualFold(ec.Provider, "ollama") {
		return "ollama/" + ec.Model
	}
	return "hash"
}

// newSession connects a tool client, builds a generator and returns an agent
// session behind a bridge. The session is closed with the app.
func (a *app) newSession(ctx context.Context, email string) (*bridge.Bridge, error) {
	if a.mcp == nil {
		return nil, errors.New("tool server not initialized")
	}

	tc, err := a.toolClient(ctx)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return tc.Close() })

	gen, err := a.generator(ctx)
	if err != nil {
		return nil, err
	}

	if email == "" {
		email = a.cfg.Agent.CustomerEmail
	}
	ac := a.cfg.Agent
	ag := agent.New(tc, gen, agent.Options{
		Model:             a.cfg.Generation.Model,
		MaxHistory:        ac.MaxHistory,
		MaxSecurityLog:    ac.MaxSecurityLog,
		ToolTimeout:       ac.ToolTimeout,
		ToolRetryBackoff:  ac.ToolRetryBackoff,
		GenerationTimeout: a.cfg.Generation.Timeout,
		MaxAttempts:       a.cfg.Generation.MaxAttempts,
		RetryDelay:        a.cfg.Generation.RetryDelay,
		CustomerEmail:     email,
	}, a.logger.Named("agent"))

	b := bridge.New(ag)
	a.closers = append(a.closers, func(context.Context) error { return b.Close() })
	return b, nil
}

func (a *app) toolClient(ctx context.Context) (*toolclient.Client, error) {
	switch strings.ToLower(a.cfg.ToolServer.Transport) {
	case "", "inprocess":
		return toolclient.NewInProcess(ctx, a.mcp, a.logger)
	case "stdio":
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locating executable: %w", err)
		}
		return toolclient.NewStdio(ctx, exe, os.Environ(), []string{"serve"}, a.logger)
	}
	return nil, fmt.Errorf("unknown tool server transport %q", a.cfg.ToolServer.Transport)
}

func (a *app) generator(ctx context.Context) (generation.Generator, error) {
	gc := a.cfg.Generation
	gen, err := generation.New(generation.Options{
		Provider: gc.Provider,
		BaseURL:  gc.BaseURL,
		Model:    gc.Model,
		APIKey:   gc.APIKey,
		Timeout:  gc.Timeout,
	})
	if err != nil {
		return nil, err
	}

	if o, ok := gen.(*generation.Ollama); ok {
		if !o.IsReady(ctx, gc.Model) {
			a.logger.Warn("model not available locally; answers will come from the knowledge base",
				zap.String("model", gc.Model), zap.String("base_url", gc.BaseURL))
		} else if err := o.WarmUp(ctx, gc.Model); err != nil {
			a.logger.Warn("model warm-up failed", zap.String("model", gc.Model), zap.Error(err))
		}
	}
	return gen, nil
}

// Close releases everything the app opened. It is safe to call on a partly
// initialized app.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}
