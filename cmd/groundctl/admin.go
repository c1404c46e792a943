package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/WessleyAI/groundwork/engine/config"
	"github.com/WessleyAI/groundwork/engine/domain"
	"github.com/WessleyAI/groundwork/engine/identity"
	"github.com/WessleyAI/groundwork/engine/tenant"
	"github.com/WessleyAI/groundwork/pkg/natsutil"
)

var (
	errNoDatabase = errors.New("DATABASE_URL is not set")
	errNoNATS     = errors.New("NATS_URL is not set")
)

// withTenants opens the migrated tenant store named by DATABASE_URL.
func withTenants(cmd *cobra.Command, f func(config.Config, *tenant.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errNoDatabase
	}
	if err := tenant.Migrate(cfg.DatabaseURL); err != nil {
		return err
	}
	store, err := tenant.Open(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()
	return f(cfg, store)
}

func newKeysCmd() *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage tenants and API keys in Postgres",
	}

	var name, plan string
	var graphs []string
	upsert := &cobra.Command{
		Use:   "tenant <id>",
		Short: "Create or update a tenant",
		Long: `Create or update a tenant. The first --graph becomes the default graph.

Examples:
  groundctl keys tenant psfk --name PSFK --plan pro --graph psfk --graph psfk-labs`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTenants(cmd, func(_ config.Config, s *tenant.Store) error {
				if err := s.UpsertTenant(cmd.Context(), args[0], name, plan, graphs); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tenant %s saved (%s, graphs %s)\n", args[0], plan, strings.Join(graphs, ","))
				return nil
			})
		},
	}
	upsert.Flags().StringVar(&name, "name", "", "Display name")
	upsert.Flags().StringVar(&plan, "plan", "free", "Plan name")
	upsert.Flags().StringSliceVar(&graphs, "graph", nil, "Accessible graph (repeatable)")

	issue := &cobra.Command{
		Use:   "issue <tenant>",
		Short: "Issue a new API key; the plaintext is printed once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTenants(cmd, func(_ config.Config, s *tenant.Store) error {
				key, err := s.IssueKey(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
				return nil
			})
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <fingerprint>",
		Short: "Revoke the key with the given fingerprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTenants(cmd, func(cfg config.Config, s *tenant.Store) error {
				ok, err := s.RevokeKey(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no active key with fingerprint %s", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
				return announceRevocation(cmd, cfg, args[0])
			})
		},
	}

	keys.AddCommand(upsert, issue, revoke)
	return keys
}

// announceRevocation tells running servers to drop the key from their
// identity caches. Without NATS the key stays cached until its TTL expires.
func announceRevocation(cmd *cobra.Command, cfg config.Config, fingerprint string) error {
	if cfg.NATSURL == "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "NATS_URL is not set; running servers drop the key within %s\n", cfg.IdentityCacheTTL)
		return nil
	}
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("groundctl"))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()
	rev := identity.Revocation{Fingerprint: fingerprint, RevokedAt: time.Now().UTC()}
	if err := natsutil.Publish(cmd.Context(), nc, cfg.RevocationSubject, rev); err != nil {
		return err
	}
	return nc.FlushTimeout(5 * time.Second)
}

func newUsageCmd() *cobra.Command {
	usage := &cobra.Command{
		Use:   "usage",
		Short: "Inspect metered usage",
	}

	var month string
	total := &cobra.Command{
		Use:   "month <tenant>",
		Short: "Print billable units for a tenant in one UTC month",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at := time.Now()
			if month != "" {
				t, err := time.Parse("2006-01", month)
				if err != nil {
					return fmt.Errorf("invalid --month %q: want YYYY-MM", month)
				}
				at = t
			}
			return withTenants(cmd, func(_ config.Config, s *tenant.Store) error {
				units, err := s.MonthlyUsage(cmd.Context(), args[0], at)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %.2f\n", args[0], at.UTC().Format("2006-01"), units)
				return nil
			})
		},
	}
	total.Flags().StringVar(&month, "month", "", "Month as YYYY-MM (default current)")

	var maxRecords int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Stream usage records published on NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.NATSURL == "" {
				return errNoNATS
			}
			nc, err := nats.Connect(cfg.NATSURL, nats.Name("groundctl"))
			if err != nil {
				return fmt.Errorf("nats connect: %w", err)
			}
			defer nc.Close()
			return tailUsage(cmd, nc, cfg.UsageSubject, maxRecords)
		},
	}
	tail.Flags().IntVar(&maxRecords, "max", 0, "Exit after this many records (0 streams until interrupted)")

	usage.AddCommand(total, tail)
	return usage
}

// tailUsage prints one line per record until limit records arrived or the
// command context ends.
func tailUsage(cmd *cobra.Command, nc *nats.Conn, subject string, limit int) error {
	records := make(chan domain.UsageRecord, 64)
	sub, err := natsutil.Subscribe(nc, subject, func(_ context.Context, rec domain.UsageRecord) {
		select {
		case records <- rec:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	out := cmd.OutOrStdout()
	for n := 0; limit <= 0 || n < limit; n++ {
		select {
		case <-cmd.Context().Done():
			return nil
		case rec := <-records:
			fmt.Fprintf(out, "%s %s tenant=%s graph=%s path=%s units=%.2f request=%s\n",
				rec.RecordedAt.UTC().Format(time.RFC3339), rec.Operation, rec.TenantID,
				rec.GraphID, rec.CallPath, rec.Usage.BillableUnits, rec.RequestID)
		}
	}
	return nil
}
