package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/WessleyAI/groundwork/engine/domain"
	"github.com/WessleyAI/groundwork/pkg/fn"
	"github.com/WessleyAI/groundwork/pkg/repo"
	"github.com/WessleyAI/groundwork/pkg/resilience"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// facetScanLimit bounds the raw rows read for split facets before values are
// expanded and truncated in Go.
const facetScanLimit = 1000

// Neo4jStore implements Store on a Neo4j database.
type Neo4jStore struct {
	opener  repo.Opener
	breaker *resilience.Breaker
	observe func(query string, d time.Duration)
	logger  *slog.Logger
}

// Option configures a Neo4jStore.
type Option func(*Neo4jStore)

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(s *Neo4jStore) { s.breaker = b }
}

// WithQueryObserver reports the duration of every store query.
func WithQueryObserver(f func(query string, d time.Duration)) Option {
	return func(s *Neo4jStore) { s.observe = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Neo4jStore) { s.logger = l }
}

// NewNeo4jStore creates a store drawing one session per query from opener.
func NewNeo4jStore(opener repo.Opener, opts ...Option) *Neo4jStore {
	s := &Neo4jStore{
		opener:  opener,
		observe: func(string, time.Duration) {},
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.breaker == nil {
		s.breaker = resilience.NewBreaker(resilience.BreakerOpts{
			FailThreshold: 5,
			Timeout:       15 * time.Second,
			Trip:          tripsBreaker,
			OnStateChange: func(from, to resilience.State) {
				s.logger.Warn("graph store breaker", "from", from.String(), "to", to.String())
			},
		})
	}
	return s
}

// NewDriverStore is a convenience for a store over a pooled driver.
func NewDriverStore(driver neo4j.DriverWithContext, database string, queryTimeout time.Duration, opts ...Option) *Neo4jStore {
	return NewNeo4jStore(&repo.DriverOpener{Driver: driver, Database: database, QueryTimeout: queryTimeout}, opts...)
}

// MatchConcepts implements Store.
func (s *Neo4jStore) MatchConcepts(ctx context.Context, q ConceptQuery) ([]ConceptRecord, error) {
	terms := q.Terms
	if terms == nil {
		terms = []string{}
	}
	params := map[string]any{
		"graphId":       q.GraphID,
		"vertical":      nullable(q.Vertical),
		"conceptId":     nullable(q.ConceptID),
		"terms":         terms,
		"limit":         int64(q.Limit),
		"evidenceLimit": int64(min(q.EvidenceLimit, MaxEvidencePerConcept)),
	}
	return run(ctx, s, "concept_match", BuildConceptMatch(q.Depth), params, conceptFromRecord)
}

// SearchEvidence implements Store.
func (s *Neo4jStore) SearchEvidence(ctx context.Context, q EvidenceQuery) ([]EvidenceRecord, error) {
	if len(q.Terms) == 0 {
		return nil, nil
	}
	params := map[string]any{
		"graphId":  q.GraphID,
		"vertical": nullable(q.Vertical),
		"terms":    q.Terms,
		"limit":    int64(q.Limit),
	}
	return run(ctx, s, "evidence_fallback", EvidenceFallbackQuery, params, evidenceFromRecord)
}

// EvidenceForEntities implements Store.
func (s *Neo4jStore) EvidenceForEntities(ctx context.Context, q EntityQuery) ([]EvidenceRecord, error) {
	names := fn.FilterMap(q.Names, entityKey)
	if len(names) == 0 {
		return nil, nil
	}
	params := map[string]any{
		"graphId":  q.GraphID,
		"vertical": nullable(q.Vertical),
		"names":    names,
		"limit":    int64(q.Limit),
	}
	return run(ctx, s, "entity_evidence", EntityEvidenceQuery, params, evidenceFromRecord)
}

// FacetValues implements Store.
func (s *Neo4jStore) FacetValues(ctx context.Context, q FacetQuery) ([]string, error) {
	f, ok := LookupFacet(q.Facet)
	if !ok {
		return nil, domain.NewValidationError("facet", q.Facet, domain.ErrUnknownFacet)
	}
	limit := q.Limit
	if f.Split {
		limit = facetScanLimit
	}
	params := map[string]any{"graphId": q.GraphID, "limit": int64(limit)}
	raw, err := run(ctx, s, "facet_"+f.Name, f.Query, params, valueFromRecord)
	if err != nil {
		return nil, err
	}
	return FacetResult(f, raw, q.Limit), nil
}

// FacetResult post-processes raw facet values: split facets are expanded,
// every facet is trimmed, deduplicated, sorted and truncated to limit.
func FacetResult(f Facet, raw []string, limit int) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			return
		}
		seen[v] = true
		out = append(out, v)
	}
	for _, v := range raw {
		if f.Split {
			for _, part := range strings.Split(v, ",") {
				add(part)
			}
			continue
		}
		add(v)
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// run executes one query through the breaker and maps failures onto
// domain.StoreError. Client cancellation is returned as is; an expired
// deadline counts as the store being unavailable.
func run[T any](
	ctx context.Context,
	s *Neo4jStore,
	name, cypher string,
	params map[string]any,
	project func(*neo4j.Record) (T, error),
) ([]T, error) {
	var items []T
	start := time.Now()
	err := s.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		items, err = repo.Collect(ctx, s.opener, cypher, params, project)
		return err
	})
	s.observe(name, time.Since(start))
	if err == nil {
		return items, nil
	}
	if errors.Is(ctx.Err(), context.Canceled) && errors.Is(err, context.Canceled) {
		return nil, fmt.Errorf("graph: %s: %w", name, ctx.Err())
	}
	return nil, &domain.StoreError{
		Op: name,
		Unavailable: errors.Is(err, resilience.ErrCircuitOpen) ||
			errors.Is(err, context.DeadlineExceeded) ||
			neo4j.IsConnectivityError(err),
		Cause:       err,
	}
}

// tripsBreaker keeps caller cancellations from opening the breaker.
func tripsBreaker(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// entityKey normalizes an entity name for matching.
func entityKey(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	return name, name != ""
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
