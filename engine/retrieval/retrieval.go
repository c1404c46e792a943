// Package retrieval runs the two-tier lookup behind every query: curated
// Concepts first, a labelled Evidence search when Concepts carry no
// evidence, then the coverage decision over whatever was found.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/WessleyAI/groundwork/engine/coverage"
	"github.com/WessleyAI/groundwork/engine/domain"
	"github.com/WessleyAI/groundwork/engine/evidence"
	"github.com/WessleyAI/groundwork/engine/graph"
	"github.com/WessleyAI/groundwork/engine/terms"
	"github.com/WessleyAI/groundwork/pkg/fn"
)

// Request is one retrieval scoped to a single graph. Depth and caps are
// expected to be clamped by the caller.
type Request struct {
	GraphID   string
	Vertical  string
	Text      string
	Explicit  []string
	ConceptID string
	Depth     int
	Caps      evidence.Caps
}

// EntityRequest looks up evidence mentioning named entities.
type EntityRequest struct {
	GraphID  string
	Vertical string
	Names    []string
	Caps     evidence.Caps
}

// Result is the outcome of a retrieval before enveloping.
type Result struct {
	Status  domain.DataStatus
	Rows    []domain.Row
	Terms   terms.Terms
	Verdict domain.Verdict
}

// Service wires the term extractor, the graph store and the aggregator.
type Service struct {
	store     graph.Store
	extractor *terms.Extractor
	logger    *slog.Logger
	query     fn.Stage[*state, *state]
	entities  fn.Stage[EntityRequest, *Result]
}

// state threads one request through the query stages.
type state struct {
	req      Request
	terms    terms.Terms
	concepts []domain.Row
	rows     []domain.Row
	status   domain.DataStatus
	verdict  domain.Verdict
	done     bool
}

// New creates a Service. A nil extractor uses the default vocabulary.
func New(store graph.Store, extractor *terms.Extractor, logger *slog.Logger) *Service {
	if extractor == nil {
		extractor = terms.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{store: store, extractor: extractor, logger: logger}
	s.query = fn.Pipeline(
		fn.TracedStage("retrieval.terms", fn.MapStage(s.extract)),
		fn.TracedStage("retrieval.concepts", s.matchConcepts),
		fn.TracedStage("retrieval.fallback", s.searchEvidence),
		fn.TracedStage("retrieval.coverage", fn.MapStage(s.assess)),
	)
	s.entities = fn.Then(
		fn.TracedStage("retrieval.entities", s.lookupEntities),
		fn.TracedStage("retrieval.coverage", fn.MapStage(entityResult)),
	)
	return s
}

// Query runs the concept pass, the evidence fallback when needed, and the
// coverage decision. An empty query without a concept context returns
// NO_MATCH without touching the store.
func (s *Service) Query(ctx context.Context, req Request) (*Result, error) {
	st, err := s.query(ctx, &state{req: req}).Unwrap()
	if err != nil {
		return nil, err
	}
	s.logger.Debug("retrieval done",
		"graph_id", req.GraphID,
		"status", st.status,
		"rows", len(st.rows),
		"decision", st.verdict.Decision,
	)
	return &Result{Status: st.status, Rows: st.rows, Terms: st.terms, Verdict: st.verdict}, nil
}

func (s *Service) extract(st *state) *state {
	st.terms = s.extractor.Extract(st.req.Text, st.req.Explicit)
	if st.terms.Empty() && st.req.ConceptID == "" {
		st.status = domain.StatusNoMatch
		st.rows = []domain.Row{}
		st.verdict = coverage.Refuse()
		st.done = true
	}
	return st
}

func (s *Service) matchConcepts(ctx context.Context, st *state) fn.Result[*state] {
	if st.done {
		return fn.Ok(st)
	}
	recs, err := s.store.MatchConcepts(ctx, graph.ConceptQuery{
		GraphID:       st.req.GraphID,
		Vertical:      st.req.Vertical,
		Terms:         st.terms.Search,
		ConceptID:     st.req.ConceptID,
		Depth:         st.req.Depth,
		Limit:         st.req.Caps.TopK,
		EvidenceLimit: st.req.Caps.EvidencePerRow,
	})
	if err != nil {
		return fn.Err[*state](fmt.Errorf("retrieval: concepts: %w", err))
	}
	st.concepts = evidence.ConceptRows(recs, st.req.Caps)
	if hasEvidence(st.concepts) {
		st.status = domain.StatusConceptMatch
		st.rows = st.concepts
		st.done = true
	}
	return fn.Ok(st)
}

// searchEvidence runs only when the concept pass found nothing to ground
// with. Fallback rows take the row budget first; concept rows without
// evidence fill what is left. The status reflects the rows that survive the
// caps, so a result without any evidence is NO_MATCH.
func (s *Service) searchEvidence(ctx context.Context, st *state) fn.Result[*state] {
	if st.done {
		return fn.Ok(st)
	}
	hits, err := s.store.SearchEvidence(ctx, graph.EvidenceQuery{
		GraphID:  st.req.GraphID,
		Vertical: st.req.Vertical,
		Terms:    st.terms.Search,
		Limit:    st.req.Caps.TopK,
	})
	if err != nil {
		return fn.Err[*state](fmt.Errorf("retrieval: evidence fallback: %w", err))
	}
	st.rows = evidence.Merge(st.req.Caps, evidence.EvidenceRows(hits, st.req.Caps), st.concepts)
	st.status = domain.StatusNoMatch
	if hasEvidence(st.rows) {
		st.status = domain.StatusEvidenceMatch
	}
	return fn.Ok(st)
}

func (s *Service) assess(st *state) *state {
	if st.verdict.Decision != "" {
		return st
	}
	st.verdict = verdictFor(st.terms.Required, st.rows)
	return st
}

// Entities returns flat evidence rows for the named entities.
func (s *Service) Entities(ctx context.Context, req EntityRequest) (*Result, error) {
	return s.entities(ctx, req).Unwrap()
}

func (s *Service) lookupEntities(ctx context.Context, req EntityRequest) fn.Result[[]domain.Row] {
	hits, err := s.store.EvidenceForEntities(ctx, graph.EntityQuery{
		GraphID:  req.GraphID,
		Vertical: req.Vertical,
		Names:    req.Names,
		Limit:    req.Caps.TopK,
	})
	if err != nil {
		return fn.Err[[]domain.Row](fmt.Errorf("retrieval: entities: %w", err))
	}
	return fn.Ok(evidence.EvidenceRows(hits, req.Caps))
}

func entityResult(rows []domain.Row) *Result {
	status := domain.StatusEvidenceMatch
	if len(rows) == 0 {
		status = domain.StatusNoMatch
	}
	return &Result{Status: status, Rows: rows, Verdict: verdictFor(nil, rows)}
}

// Facets returns the distinct values of a whitelisted facet.
func (s *Service) Facets(ctx context.Context, graphID, facet string, limit int) ([]string, error) {
	values, err := fn.MapResult(
		fn.FromPair(s.store.FacetValues(ctx, graph.FacetQuery{GraphID: graphID, Facet: facet, Limit: limit})),
		nonNil,
	).Unwrap()
	if err != nil {
		return nil, fmt.Errorf("retrieval: facets: %w", err)
	}
	return values, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// verdictFor refuses outright when there is nothing to ground an answer on.
func verdictFor(required []string, rows []domain.Row) domain.Verdict {
	v := coverage.Assess(required, rows)
	if len(rows) == 0 {
		v.Ratio = 0
		v.Decision = domain.DecisionRefuse
	}
	return v
}

func hasEvidence(rows []domain.Row) bool {
	for _, r := range rows {
		if len(r.Evidence) > 0 {
			return true
		}
	}
	return false
}
