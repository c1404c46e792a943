package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/WessleyAI/groundwork/engine/domain"
	"github.com/WessleyAI/groundwork/pkg/repo/repotest"
	"github.com/WessleyAI/groundwork/pkg/resilience"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

func TestBuildConceptMatch_Depth(t *testing.T) {
	cases := map[int]string{
		1:  "RELATED_TO*0..0",
		2:  "RELATED_TO*0..1",
		0:  "RELATED_TO*0..0",
		-5: "RELATED_TO*0..0",
	}
	for depth, want := range cases {
		if q := BuildConceptMatch(depth); !strings.Contains(q, want) {
			t.Errorf("depth %d: expected %s in query", depth, want)
		}
	}
}

func TestQueriesAreGraphScoped(t *testing.T) {
	queries := map[string]string{
		"concept":  BuildConceptMatch(2),
		"fallback": EvidenceFallbackQuery,
		"entity":   EntityEvidenceQuery,
	}
	for _, name := range FacetNames() {
		f, _ := LookupFacet(name)
		queries["facet "+name] = f.Query
	}
	for name, q := range queries {
		if !strings.Contains(q, "graph_id = $graphId") {
			t.Errorf("%s query is not scoped to $graphId", name)
		}
		if strings.Contains(q, "%") {
			t.Errorf("%s query has an unformatted verb", name)
		}
	}
}

func TestEvidenceFallbackQuery_MatchesByTermRule(t *testing.T) {
	if strings.Contains(EvidenceFallbackQuery, "score > 0") {
		t.Error("the fallback must not filter on score")
	}
	for _, want := range []string{
		"any(term IN $terms",
		"[title, summary, snippet, excerpt]",
		"size(term) > 3 AND f CONTAINS term",
		"ORDER BY score DESC",
	} {
		if !strings.Contains(EvidenceFallbackQuery, want) {
			t.Errorf("fallback query missing %q", want)
		}
	}
}

func TestNeo4jStore_MatchConcepts(t *testing.T) {
	evidence := []any{
		map[string]any{
			"id": "e1", "title": "Nike Pop-Up", "published_at": "2024-05-01",
			"graph_id": "psfk", "brands": []any{"Nike"},
		},
		"not-a-map",
	}
	o := repotest.NewOpener(repotest.Response{Records: []*neo4j.Record{
		repotest.Record("id", "c1", "name", "Pop-Up Retail", "description", "desc",
			"vertical", "retail", "graph_id", "psfk", "evidence", evidence),
		repotest.Record("id", "c2", "name", "Empty", "description", nil,
			"vertical", nil, "graph_id", "psfk", "evidence", []any{}),
	}})
	s := NewNeo4jStore(o)

	recs, err := s.MatchConcepts(context.Background(), ConceptQuery{
		GraphID: "psfk", Terms: []string{"pop"}, Depth: 2, Limit: 10, EvidenceLimit: 99,
	})
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "c1" || len(recs[0].Evidence) != 1 {
		t.Fatalf("unexpected records: %+v", recs)
	}
	if e := recs[0].Evidence[0]; e.Title != "Nike Pop-Up" || len(e.Brands) != 1 || e.GraphID != "psfk" {
		t.Errorf("nested evidence projection: %+v", e)
	}
	if len(recs[1].Evidence) != 0 {
		t.Errorf("expected empty evidence, got %+v", recs[1].Evidence)
	}

	call := o.Calls[0]
	if !strings.Contains(call.Cypher, "RELATED_TO*0..1") {
		t.Errorf("depth not applied")
	}
	if call.Params["vertical"] != nil || call.Params["conceptId"] != nil {
		t.Errorf("empty filters must be bound as null: %v", call.Params)
	}
	if call.Params["evidenceLimit"] != int64(MaxEvidencePerConcept) {
		t.Errorf("evidenceLimit = %v, want %d", call.Params["evidenceLimit"], MaxEvidencePerConcept)
	}
	if !o.Balanced() {
		t.Error("session leaked")
	}
}

func TestNeo4jStore_BindsUntrustedInput(t *testing.T) {
	o := repotest.NewOpener()
	s := NewNeo4jStore(o)
	hostile := "x' OR 1=1 //"
	_, _ = s.MatchConcepts(context.Background(), ConceptQuery{GraphID: hostile, Vertical: hostile, ConceptID: hostile, Terms: []string{hostile}, Depth: 1, Limit: 1})
	_, _ = s.SearchEvidence(context.Background(), EvidenceQuery{GraphID: hostile, Terms: []string{hostile}, Limit: 1})
	for _, c := range o.Calls {
		if strings.Contains(c.Cypher, hostile) {
			t.Fatalf("untrusted input interpolated into query")
		}
	}
	if o.Calls[0].Params["graphId"] != hostile {
		t.Errorf("graphId not bound")
	}
}

func TestNeo4jStore_SearchEvidence(t *testing.T) {
	o := repotest.NewOpener(repotest.Response{Records: []*neo4j.Record{
		repotest.Record("id", "e1", "title", "Loyalty apps", "published_at", "2024-04-02",
			"graph_id", "psfk", "brands", []any{"Starbucks", nil}, "score", int64(130)),
	}})
	s := NewNeo4jStore(o)
	ev, err := s.SearchEvidence(context.Background(), EvidenceQuery{GraphID: "psfk", Terms: []string{"loyalty"}, Limit: 5})
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(ev) != 1 || ev[0].Score != 130 || len(ev[0].Brands) != 1 {
		t.Fatalf("unexpected: %+v", ev)
	}
	if o.Calls[0].Params["limit"] != int64(5) {
		t.Errorf("limit = %v", o.Calls[0].Params["limit"])
	}

	if _, err := s.SearchEvidence(context.Background(), EvidenceQuery{GraphID: "psfk"}); err != nil {
		t.Fatalf("no terms: %v", err)
	}
	if len(o.Calls) != 1 {
		t.Errorf("a search without terms must not reach the store")
	}
}

func TestNeo4jStore_EntityNamesLowercased(t *testing.T) {
	o := repotest.NewOpener()
	s := NewNeo4jStore(o)
	_, _ = s.EvidenceForEntities(context.Background(), EntityQuery{GraphID: "psfk", Names: []string{" Nike ", "", "ADIDAS"}, Limit: 5})
	names, _ := o.Calls[0].Params["names"].([]string)
	if len(names) != 2 || names[0] != "nike" || names[1] != "adidas" {
		t.Errorf("names = %v", names)
	}
}

func TestNeo4jStore_Facets(t *testing.T) {
	o := repotest.NewOpener(repotest.Response{Records: []*neo4j.Record{
		repotest.Record("value", "retail, hospitality"),
		repotest.Record("value", "retail"),
		repotest.Record("value", " beauty "),
	}})
	s := NewNeo4jStore(o)
	got, err := s.FacetValues(context.Background(), FacetQuery{GraphID: "psfk", Facet: "vertical", Limit: 2})
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if !equal(got, []string{"beauty", "hospitality"}) {
		t.Errorf("got %v", got)
	}
	if o.Calls[0].Params["limit"] != int64(facetScanLimit) {
		t.Errorf("split facets scan wider than the requested limit")
	}

	if _, err := s.FacetValues(context.Background(), FacetQuery{GraphID: "psfk", Facet: "nope"}); !errors.Is(err, domain.ErrUnknownFacet) {
		t.Errorf("expected ErrUnknownFacet, got %v", err)
	}
}

func TestNeo4jStore_StoreErrors(t *testing.T) {
	o := repotest.NewOpener(repotest.Response{RunErr: errors.New("Neo.ClientError.Statement.SyntaxError")})
	var observed []string
	s := NewNeo4jStore(o,
		WithBreaker(resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 2, Timeout: time.Minute})),
		WithQueryObserver(func(q string, _ time.Duration) { observed = append(observed, q) }),
	)
	ctx := context.Background()
	q := ConceptQuery{GraphID: "psfk", Terms: []string{"pop"}, Depth: 1, Limit: 1}

	_, err := s.MatchConcepts(ctx, q)
	var se *domain.StoreError
	if !errors.As(err, &se) || se.Unavailable || !se.Retryable() {
		t.Fatalf("expected retryable query failure, got %v", err)
	}
	_, _ = s.MatchConcepts(ctx, q)

	// Breaker is open now: fail fast without a session.
	opened := o.Opened
	_, err = s.MatchConcepts(ctx, q)
	if !errors.As(err, &se) || !se.Unavailable || !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected unavailable store error, got %v", err)
	}
	if o.Opened != opened {
		t.Errorf("open breaker must not open sessions")
	}
	if len(observed) != 3 || observed[0] != "concept_match" {
		t.Errorf("observed = %v", observed)
	}
	if !o.Balanced() {
		t.Error("session leaked on error")
	}
}

func TestNeo4jStore_CancellationIsNotAStoreError(t *testing.T) {
	o := repotest.NewOpener(repotest.Response{Records: []*neo4j.Record{repotest.Record("value", "x")}})
	s := NewNeo4jStore(o)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.FacetValues(ctx, FacetQuery{GraphID: "psfk", Facet: "source", Limit: 5})
	var se *domain.StoreError
	if errors.As(err, &se) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected plain cancellation, got %v", err)
	}
	if s.breaker.State() != resilience.StateClosed {
		t.Errorf("cancellation must not count against the breaker")
	}
}

func TestNeo4jStore_ExpiredDeadlineIsRetryable(t *testing.T) {
	o := repotest.NewOpener(repotest.Response{Records: []*neo4j.Record{repotest.Record("value", "x")}})
	s := NewNeo4jStore(o)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err := s.FacetValues(ctx, FacetQuery{GraphID: "psfk", Facet: "source", Limit: 5})
	var se *domain.StoreError
	if !errors.As(err, &se) || !se.Unavailable {
		t.Fatalf("expected an unavailable store error, got %v", err)
	}
	code, status, retryable := domain.Classify(err)
	if code != domain.CodeStoreUnavailable || status != 503 || !retryable {
		t.Errorf("Classify = %s %d %v", code, status, retryable)
	}
}

func TestAsString(t *testing.T) {
	d := dbtype.Date(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	cases := []struct {
		in   any
		want string
	}{
		{"x", "x"},
		{nil, ""},
		{d, "2024-05-01"},
		{int64(7), "7"},
	}
	for _, tc := range cases {
		if got := asString(tc.in); got != tc.want {
			t.Errorf("asString(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
