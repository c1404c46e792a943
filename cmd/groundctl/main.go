// Package main implements groundctl, the command-line client that drives the
// engine directly through the same governor as the API server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/groundwork/engine/config"
	"github.com/WessleyAI/groundwork/engine/domain"
	"github.com/WessleyAI/groundwork/engine/governor"
	"github.com/WessleyAI/groundwork/engine/wiring"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app holds the global flags shared by every subcommand.
type app struct {
	key      string
	graph    string
	vertical string
	fixture  string
	limit    int
	verbose  bool
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "groundctl",
		Short: "Query grounded evidence from the command line",
		Long: `groundctl runs retrieval requests through the governed engine without
going over HTTP. Credentials, quotas and metering apply exactly as they do
for the API server.

Examples:
  groundctl query "pop-up retail in the gulf" --key $GROUNDWORK_KEY
  groundctl entities Nike Adidas --limit 5
  groundctl facets vertical --fixture testdata/graph.yaml`,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.key, "key", os.Getenv("GROUNDWORK_KEY"), "API credential (default $GROUNDWORK_KEY)")
	pf.StringVar(&a.graph, "graph", "", "Graph id (defaults to the credential's graph)")
	pf.StringVar(&a.vertical, "vertical", "", "Restrict results to a vertical")
	pf.StringVar(&a.fixture, "fixture", "", "Serve from a YAML graph fixture instead of Neo4j")
	pf.IntVar(&a.limit, "limit", 0, "Maximum rows or values (0 uses the default)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Log engine activity to stderr")

	root.AddCommand(
		newQueryCmd(a),
		newEntitiesCmd(a),
		newFacetsCmd(a),
		newKeysCmd(),
		newUsageCmd(),
	)
	return root
}

func (a *app) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// withEngine builds the engine for one command and releases it afterwards.
func (a *app) withEngine(cmd *cobra.Command, f func(*governor.Governor) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.fixture != "" {
		cfg.GraphFixture = a.fixture
	}
	eng, err := wiring.Build(cmd.Context(), cfg, a.logger(cmd))
	if err != nil {
		return err
	}
	defer eng.Close()
	return f(eng.Governor)
}

func (a *app) call() governor.Call {
	return governor.Call{Credential: strings.TrimSpace(a.key), Path: domain.PathDirect}
}

// printJSON returns a deliver callback writing the envelope to w.
func printJSON[T any](w io.Writer) func(T) error {
	return func(v T) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}
