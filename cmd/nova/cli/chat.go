package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/nova/internal/ui"
	"github.com/felixgeelhaar/nova/internal/ui/tui"
)

var (
	interactive bool
	metricsAddr string
	showMetrics bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat line by line on stdin, or in a full-screen UI with -i",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, done, err := openRunner(cmd)
		if err != nil {
			return err
		}
		defer done()

		if metricsAddr != "" {
			serveMetrics(r, metricsAddr)
		}
		if interactive {
			return runTUI(r)
		}
		ui.Attach(r.Runtime.Events(), noteUI{out: cmd.ErrOrStderr()})
		return runREPL(cmd.Context(), r, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send one message and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, done, err := openRunner(cmd)
		if err != nil {
			return err
		}
		defer done()

		reply, err := r.Runtime.Chat(cmd.Context(), ownerID, strings.Join(args, " "))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			if err := printJSON(out, map[string]any{
				"request_id":          reply.Request.ID,
				"response_id":         reply.Response.ID,
				"response":            reply.Response.Content,
				"analysis":            reply.Result.Analysis,
				"degraded":            reply.Result.Degraded,
				"needs_memory_update": reply.Result.NeedsMemoryUpdate,
			}); err != nil {
				return err
			}
		} else {
			fmt.Fprintln(out, reply.Response.Content)
		}

		if showMetrics {
			// Let background clustering and summaries land first.
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := r.Runtime.Close(ctx); err != nil {
				return err
			}
			return r.Observer.Metrics().WriteText(out)
		}
		return nil
	},
}

func serveMetrics(r *Runner, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Observer.Metrics().Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.Observer.Log().Error().Err(err).Msg("metrics server stopped")
		}
	}()
	r.Observer.Log().Info().Str("addr", addr).Msg("serving metrics")
}

// noteUI prints memory and degradation notes between REPL turns.
type noteUI struct {
	out io.Writer
}

func (n noteUI) UpdateStatus(string) {}

func (n noteUI) Log(msg string) {
	fmt.Fprintf(n.out, "[%s]\n", msg)
}

func runREPL(ctx context.Context, r *Runner, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			fmt.Fprint(out, "> ")
			continue
		case "/quit", "/exit":
			return nil
		}

		reply, err := r.Runtime.Chat(ctx, ownerID, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		} else {
			fmt.Fprintln(out, reply.Response.Content)
		}
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}

func runTUI(r *Runner) error {
	model := tui.NewModel("Nova", func(ctx context.Context, text string) (string, error) {
		reply, err := r.Runtime.Chat(ctx, ownerID, text)
		if err != nil {
			return "", err
		}
		return reply.Response.Content, nil
	})
	program := tea.NewProgram(model, tea.WithAltScreen())
	ui.Attach(r.Runtime.Events(), tui.NewTUI(program))

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("alas, there's been an error: %w", err)
	}
	return nil
}

func init() {
	RootCmd.AddCommand(chatCmd)
	RootCmd.AddCommand(sendCmd)
	chatCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Start interactive TUI")
	chatCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address (e.g. :9090)")
	sendCmd.Flags().BoolVar(&showMetrics, "metrics", false, "Print metrics after the reply")
}
