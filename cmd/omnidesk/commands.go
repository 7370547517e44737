package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/omnitech/omnidesk/internal/agent"
	"github.com/omnitech/omnidesk/internal/config"
	"github.com/omnitech/omnidesk/internal/storage"
)

const defaultChatEmail = "john.doe@email.com"

var demoQueries = []string{
	"How do I reset my password?",
	"My device won't turn on",
	"What is your return policy?",
	"Tell me about OmniTech",
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Answer a single customer query",
	Long: `Answer a single customer query and exit.

Examples:
  omnidesk ask "How do I reset my password?"
  omnidesk ask --email john.doe@email.com "Where is ORD-1003?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx := cmd.Context()
		a, err := newApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		session, err := a.newSession(ctx, email)
		if err != nil {
			return err
		}

		resp, err := session.ProcessQuery(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		}
		printResponse(out, resp)
		return nil
	},
}

func init() {
	askCmd.Flags().String("email", "", "customer email used for account context")
	askCmd.Flags().Bool("json", false, "print the full response as JSON")
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive support session",
	Long: `Start an interactive support session. The agent remembers the last few
exchanges for follow-up questions.

Commands:
  demo        run sample queries
  stats       show server statistics
  email:xxx   set the customer email for account context
  clear       clear conversation history
  exit        quit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")

		ctx := cmd.Context()
		a, err := newApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		session, err := a.newSession(ctx, email)
		if err != nil {
			return err
		}
		return runChat(ctx, session, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	chatCmd.Flags().String("email", defaultChatEmail, "initial customer email")
}

// chatSession is the part of the bridge the chat loop drives.
type chatSession interface {
	ProcessQuery(ctx context.Context, query string) (agent.Response, error)
	ServerStats(ctx context.Context) (json.RawMessage, error)
	ClearHistory() error
	SetCustomerEmail(email string) error
	CustomerEmail() (string, error)
}

type chatCommand int

const (
	chatQuery chatCommand = iota
	chatEmpty
	chatExit
	chatDemo
	chatStats
	chatClear
	chatEmail
)

// parseChatLine splits a chat input line into a command and its argument.
func parseChatLine(line string) (chatCommand, string) {
	line = strings.TrimSpace(line)
	lower := strings.ToLower(line)
	switch {
	case line == "":
		return chatEmpty, ""
	case lower == "exit" || lower == "quit":
		return chatExit, ""
	case lower == "demo":
		return chatDemo, ""
	case lower == "stats":
		return chatStats, ""
	case lower == "clear":
		return chatClear, ""
	case strings.HasPrefix(lower, "email:"):
		return chatEmail, strings.TrimSpace(line[len("email:"):])
	}
	return chatQuery, line
}

func runChat(ctx context.Context, s chatSession, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, labelColor.Sprint("OmniTech support"))
	fmt.Fprintln(out, dimColor.Sprint("Type 'demo', 'stats', 'email:xxx', 'clear' or 'exit'."))
	if email, err := s.CustomerEmail(); err == nil && email != "" {
		fmt.Fprintf(out, "Customer: %s\n", email)
	}

	ask := func(q string) {
		resp, err := s.ProcessQuery(ctx, q)
		if err != nil {
			printError("%v", err)
			return
		}
		printResponse(out, resp)
	}

	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\n"+queryColor.Sprint("Query:")+" ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		cmd, arg := parseChatLine(sc.Text())
		switch cmd {
		case chatEmpty:
		case chatExit:
			return nil
		case chatDemo:
			for _, q := range demoQueries {
				fmt.Fprintf(out, "\n%s %s\n", queryColor.Sprint("Query:"), q)
				ask(q)
			}
		case chatStats:
			raw, err := s.ServerStats(ctx)
			if err != nil {
				printError("%v", err)
				continue
			}
			fmt.Fprintln(out, labelColor.Sprint("Server stats:"))
			fmt.Fprintln(out, indentJSON(raw))
		case chatClear:
			if err := s.ClearHistory(); err != nil {
				return err
			}
			fmt.Fprintln(out, "Conversation history cleared.")
		case chatEmail:
			if err := s.SetCustomerEmail(arg); err != nil {
				return err
			}
			if arg == "" {
				fmt.Fprintln(out, "Customer email cleared.")
			} else {
				fmt.Fprintf(out, "Customer set to: %s\n", arg)
			}
		case chatQuery:
			ask(arg)
		}
	}
}

func indentJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// --- seed ---

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the store and index the knowledge base",
	RunE: func(cmd *cobra.Command, args []string) error {
		reload, _ := cmd.Flags().GetBool("reload")

		ctx := cmd.Context()
		a, err := newApp(ctx, appOptions{reload: reload})
		if err != nil {
			return err
		}
		defer a.Close()

		if a.seeded {
			printSuccess("Seeded customer and order data")
		} else {
			printWarning("Store already populated; seed data left untouched")
		}
		if a.corpus.Rebuilt {
			printWarning("Embedder changed since the last build; knowledge base re-indexed")
		}
		if a.corpus.Skipped {
			printWarning("Knowledge base already indexed (use --reload to rebuild)")
		} else {
			printSuccess("Indexed %d files into %d chunks", a.corpus.Files, a.corpus.Chunks)
		}

		sum, err := a.store.Summary(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printStatus(out, "Customers", "%d", sum.Customers)
		printStatus(out, "Orders", "%d", sum.Orders)
		printStatus(out, "Tickets", "%d", sum.Tickets)
		printStatus(out, "Documents", "%d", sum.Documents)
		printStatus(out, "Categories", "%d", a.categories.Len())
		printStatus(out, "Data dir", "%s", a.cfg.Storage.DataDir)
		return nil
	},
}

func init() {
	seedCmd.Flags().Bool("reload", false, "re-index the knowledge base even when already indexed")
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show tool server statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		session, err := a.newSession(ctx, "")
		if err != nil {
			return err
		}
		raw, err := session.ServerStats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), indentJSON(raw))
		return nil
	},
}

// --- tickets ---

var ticketsCmd = &cobra.Command{
	Use:   "tickets",
	Short: "List support tickets",
	RunE: func(cmd *cobra.Command, args []string) error {
		var f storage.TicketFilter
		f.CustomerEmail, _ = cmd.Flags().GetString("email")
		f.Status, _ = cmd.Flags().GetString("status")
		f.Priority, _ = cmd.Flags().GetString("priority")
		f.IssueType, _ = cmd.Flags().GetString("type")
		f.Limit, _ = cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		if f.Priority != "" && !storage.ValidPriority(f.Priority) {
			return fmt.Errorf("invalid priority %q", f.Priority)
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, appOptions{storeOnly: true})
		if err != nil {
			return err
		}
		defer a.Close()

		tickets, err := a.store.ListTickets(ctx, f)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(tickets)
		}
		if len(tickets) == 0 {
			fmt.Fprintln(out, "No tickets found.")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCUSTOMER\tTYPE\tPRIORITY\tSTATUS\tCREATED")
		for _, t := range tickets {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
				t.ID, t.CustomerEmail, t.IssueType, t.Priority, t.Status,
				t.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

func init() {
	ticketsCmd.Flags().String("email", "", "filter by customer email")
	ticketsCmd.Flags().String("status", "", "filter by status")
	ticketsCmd.Flags().String("priority", "", "filter by priority (low, medium, high, urgent)")
	ticketsCmd.Flags().String("type", "", "filter by issue type")
	ticketsCmd.Flags().Int("limit", 50, "maximum tickets to list")
	ticketsCmd.Flags().Bool("json", false, "print tickets as JSON")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s\n", labelColor.Sprint(k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			if errors.Is(err, config.ErrUnknownKey) {
				return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
			}
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Restore a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
