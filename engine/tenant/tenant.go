// Package tenant stores tenants, their API keys and graphs, and delivered
// usage records in Postgres.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/WessleyAI/groundwork/engine/domain"
	"github.com/WessleyAI/groundwork/engine/identity"
	"github.com/WessleyAI/groundwork/engine/tenant/migrations"
)

// ErrTenantNotFound is returned when a key is issued for an unknown tenant.
var ErrTenantNotFound = errors.New("tenant not found")

// Store wraps a pgx connection pool.
type Store struct {
	Pool *pgxpool.Pool
}

// Open connects and pings the database.
func Open(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("tenant: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("tenant: ping database: %w", err)
	}
	return &Store{Pool: pool}, nil
}

// Migrate applies the embedded migrations.
func Migrate(connString string) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("tenant: migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, connString)
	if err != nil {
		return fmt.Errorf("tenant: create migrator: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("tenant: migrate: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() { s.Pool.Close() }


const resolveQuery = `
	SELECT t.id, t.plan, t.default_graph_id, k.fingerprint,
	       COALESCE(array_agg(g.graph_id ORDER BY g.graph_id) FILTER (WHERE g.graph_id IS NOT NULL), '{}')
	FROM api_keys k
	JOIN tenants t ON t.id = k.tenant_id
	LEFT JOIN tenant_graphs g ON g.tenant_id = t.id
	WHERE k.key_hash = $1 AND k.revoked_at IS NULL
	GROUP BY t.id, t.plan, t.default_graph_id, k.fingerprint
`

// Resolve implements identity.Resolver.
func (s *Store) Resolve(ctx context.Context, credential string) (identity.Identity, error) {
	if credential == "" {
		return identity.Identity{}, identity.Missing()
	}
	var id identity.Identity
	err := s.Pool.QueryRow(ctx, resolveQuery, identity.KeyHash(credential)).
		Scan(&id.TenantID, &id.Plan, &id.DefaultGraphID, &id.Fingerprint, &id.GraphIDs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return identity.Identity{}, identity.Invalid(credential)
		}
		return identity.Identity{}, fmt.Errorf("tenant: resolve key: %w", err)
	}
	return id, nil
}

// UpsertTenant creates or updates a tenant and replaces its graph list.
func (s *Store) UpsertTenant(ctx context.Context, id, name, plan string, graphs []string) error {
	if len(graphs) == 0 {
		return fmt.Errorf("tenant: %s: at least one graph is required", id)
	}
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO tenants (id, name, plan, default_graph_id)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, plan = EXCLUDED.plan, default_graph_id = EXCLUDED.default_graph_id
		`, id, name, plan, graphs[0])
		if err != nil {
			return fmt.Errorf("tenant: upsert %s: %w", id, err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM tenant_graphs WHERE tenant_id = $1`, id); err != nil {
			return fmt.Errorf("tenant: clear graphs: %w", err)
		}
		for _, g := range graphs {
			if _, err := tx.Exec(ctx, `INSERT INTO tenant_graphs (tenant_id, graph_id) VALUES ($1, $2)`, id, g); err != nil {
				return fmt.Errorf("tenant: add graph %s: %w", g, err)
			}
		}
		return nil
	})
}

// IssueKey creates a new credential for tenantID. The plaintext is
// returned once and only its hash is stored.
func (s *Store) IssueKey(ctx context.Context, tenantID string) (string, error) {
	credential := NewCredential()
	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO api_keys (key_hash, fingerprint, tenant_id)
		SELECT $1, $2, id FROM tenants WHERE id = $3
	`, identity.KeyHash(credential), identity.Fingerprint(credential), tenantID)
	if err != nil {
		return "", fmt.Errorf("tenant: issue key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", fmt.Errorf("tenant: issue key for %s: %w", tenantID, ErrTenantNotFound)
	}
	return credential, nil
}

// RevokeKey disables the key with the given fingerprint.
func (s *Store) RevokeKey(ctx context.Context, fingerprint string) (bool, error) {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE api_keys SET revoked_at = now() WHERE fingerprint = $1 AND revoked_at IS NULL`, fingerprint)
	if err != nil {
		return false, fmt.Errorf("tenant: revoke key: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// NewCredential generates an opaque API key.
func NewCredential() string {
	return "gw_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Record implements usage.Recorder. A replayed request id is ignored.
func (s *Store) Record(ctx context.Context, rec domain.UsageRecord) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO usage_records (
			request_id, tenant_id, key_fingerprint, graph_id, operation, call_path,
			query_units, graph_weight, billable_units, latency_ms, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (request_id) DO NOTHING
	`,
		rec.RequestID, rec.TenantID, rec.KeyFingerprint, rec.GraphID,
		string(rec.Operation), string(rec.CallPath),
		rec.Usage.QueryUnits, rec.Usage.GraphWeight, rec.Usage.BillableUnits,
		float64(rec.Latency)/float64(time.Millisecond), rec.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("tenant: record usage %s: %w", rec.RequestID, err)
	}
	return nil
}

// MonthlyUsage sums billable units for tenantID in the UTC month of t.
func (s *Store) MonthlyUsage(ctx context.Context, tenantID string, t time.Time) (float64, error) {
	start := time.Date(t.UTC().Year(), t.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	var total float64
	err := s.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(billable_units), 0)::float8
		FROM usage_records
		WHERE tenant_id = $1 AND recorded_at >= $2 AND recorded_at < $3
	`, tenantID, start, start.AddDate(0, 1, 0)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("tenant: monthly usage: %w", err)
	}
	return total, nil
}
