package governor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/WessleyAI/groundwork/engine/domain"
	"github.com/WessleyAI/groundwork/engine/graph"
	"github.com/WessleyAI/groundwork/engine/identity"
	"github.com/WessleyAI/groundwork/engine/retrieval"
	"github.com/WessleyAI/groundwork/engine/usage"
	"github.com/WessleyAI/groundwork/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const testKey = "psfk-key"

// recordingStore captures the concept queries that reach the store.
type recordingStore struct {
	*graph.MemoryStore
	concepts []graph.ConceptQuery
}

func (r *recordingStore) MatchConcepts(ctx context.Context, q graph.ConceptQuery) ([]graph.ConceptRecord, error) {
	r.concepts = append(r.concepts, q)
	return r.MemoryStore.MatchConcepts(ctx, q)
}

type harness struct {
	gov     *Governor
	store   *recordingStore
	records []domain.UsageRecord
	logs    *bytes.Buffer
	metrics *metrics.Engine
}

func newHarness(t *testing.T, plans map[string]usage.Plan) *harness {
	t.Helper()
	f, err := graph.LoadFixture("../graph/testdata/graph.yaml")
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
	h := &harness{
		store:   &recordingStore{MemoryStore: graph.NewMemoryStore(f)},
		logs:    &bytes.Buffer{},
		metrics: metrics.New(),
	}
	logger := slog.New(slog.NewJSONHandler(h.logs, nil))
	resolver := identity.NewStaticResolver(map[string]identity.Identity{
		testKey: {TenantID: "psfk", Plan: "pro", DefaultGraphID: "psfk", GraphIDs: []string{"psfk"}},
	})
	if plans == nil {
		plans = map[string]usage.Plan{"pro": {}}
	}
	h.gov = New(resolver, retrieval.New(h.store, nil, logger), Options{
		Quota:   usage.NewQuota(plans, usage.NewMemoryLedger(), logger),
		Metrics: h.metrics,
		Logger:  logger,
		Recorder: usage.RecorderFunc(func(_ context.Context, rec domain.UsageRecord) error {
			h.records = append(h.records, rec)
			return nil
		}),
	})
	return h
}

func text(s string) *string { return &s }

func (h *harness) query(ctx context.Context, call Call, req domain.QueryRequest) (*domain.Envelope[domain.QueryData], error) {
	var got *domain.Envelope[domain.QueryData]
	err := h.gov.Query(ctx, call, req, func(env *domain.Envelope[domain.QueryData]) error {
		got = env
		return nil
	})
	return got, err
}

func TestClamp(t *testing.T) {
	cases := []struct {
		name string
		in   Limits
		want Limits
	}{
		{"zero takes defaults", Limits{}, DefaultLimits},
		{"oversized", Limits{Depth: 999, EvidencePerRow: 100, TopK: 1000, NodeCap: 1e6, RelationshipCap: 1e6}, HardLimits},
		{"negative", Limits{Depth: -5, EvidencePerRow: -1, TopK: -1, NodeCap: -1, RelationshipCap: -1}, DefaultLimits},
		{"in range", Limits{Depth: 2, EvidencePerRow: 3, TopK: 4, NodeCap: 5, RelationshipCap: 6}, Limits{2, 3, 4, 5, 6}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Clamp(tc.in); got != tc.want {
				t.Errorf("Clamp(%+v) = %+v, want %+v", tc.in, got, tc.want)
			}
		})
	}
	if Clamp(Limits{Depth: 999}).Depth != 2 || Clamp(Limits{Depth: -5}).Depth != 1 {
		t.Error("depth bounds")
	}
}

func TestClamp_AlwaysWithinBounds(t *testing.T) {
	for v := -1000; v <= 1000; v += 7 {
		got := Clamp(Limits{Depth: v, EvidencePerRow: v, TopK: v, NodeCap: v, RelationshipCap: v})
		if got.Depth < 1 || got.Depth > HardLimits.Depth ||
			got.EvidencePerRow < 1 || got.EvidencePerRow > HardLimits.EvidencePerRow ||
			got.TopK < 1 || got.TopK > HardLimits.TopK ||
			got.NodeCap < 1 || got.NodeCap > HardLimits.NodeCap ||
			got.RelationshipCap < 1 || got.RelationshipCap > HardLimits.RelationshipCap {
			t.Fatalf("Clamp(%d) = %+v", v, got)
		}
	}
}

func TestQuery_Success(t *testing.T) {
	h := newHarness(t, nil)
	env, err := h.query(context.Background(),
		Call{Credential: testKey, Path: domain.PathHTTP, RequestID: "req-1"},
		domain.QueryRequest{Text: text("pop-up stores"), Vertical: "retail"})
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if env.RequestID != "req-1" || env.GraphID != "psfk" || env.SchemaVersion != DefaultSchemaVersion || env.GeneratedAt.IsZero() {
		t.Errorf("envelope = %+v", env)
	}
	d := env.Data
	if d.DataStatus != domain.StatusConceptMatch || len(d.Rows) == 0 || d.Meta.Decision != domain.DecisionAnswer {
		t.Errorf("data = %+v", d)
	}
	if d.Meta.Usage.BillableUnits <= 0 {
		t.Errorf("usage missing: %+v", d.Meta.Usage)
	}
	if len(h.records) != 1 || h.records[0].RequestID != "req-1" || h.records[0].KeyFingerprint != identity.Fingerprint(testKey) {
		t.Fatalf("records = %+v", h.records)
	}
	if h.records[0].Usage != d.Meta.Usage {
		t.Errorf("recorded usage differs from enveloped usage")
	}
	if got := testutil.ToFloat64(h.metrics.Decisions.WithLabelValues("ANSWER")); got != 1 {
		t.Errorf("decision metric = %v", got)
	}
}

func TestQuery_DepthClampedBeforeStore(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.query(context.Background(), Call{Credential: testKey},
		domain.QueryRequest{Text: text("pop-up"), Depth: 50, EvidencePerRow: 99, Limit: 500})
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(h.store.concepts) != 1 {
		t.Fatalf("concept calls = %d", len(h.store.concepts))
	}
	q := h.store.concepts[0]
	if q.Depth != 2 || q.EvidenceLimit != 15 || q.Limit != 10 {
		t.Errorf("store saw unclamped limits: %+v", q)
	}
}

func TestQuery_AuthFailuresCostNothing(t *testing.T) {
	cases := []struct {
		name string
		call Call
		req  domain.QueryRequest
		code string
	}{
		{"missing credential", Call{}, domain.QueryRequest{Text: text("pop-up")}, domain.CodeCredentialMissing},
		{"blank credential", Call{Credential: "  "}, domain.QueryRequest{Text: text("pop-up")}, domain.CodeCredentialMissing},
		{"invalid credential", Call{Credential: "stolen"}, domain.QueryRequest{Text: text("pop-up")}, domain.CodeCredentialInvalid},
		{"foreign graph", Call{Credential: testKey}, domain.QueryRequest{Text: text("pop-up"), GraphID: "acme"}, domain.CodeGraphForbidden},
		{"missing text", Call{Credential: testKey}, domain.QueryRequest{}, domain.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			delivered := false
			err := h.gov.Query(context.Background(), tc.call, tc.req, func(*domain.Envelope[domain.QueryData]) error {
				delivered = true
				return nil
			})
			if code, _, _ := domain.Classify(err); code != tc.code {
				t.Fatalf("code = %s, want %s (%v)", code, tc.code, err)
			}
			if delivered || h.store.Calls() != 0 || len(h.records) != 0 {
				t.Errorf("delivered=%v store calls=%d records=%d", delivered, h.store.Calls(), len(h.records))
			}
			if !strings.Contains(h.logs.String(), `"msg":"request failed"`) || !strings.Contains(h.logs.String(), `"code":"`+tc.code+`"`) {
				t.Errorf("failure not logged: %s", h.logs.String())
			}
		})
	}
}

func TestQuery_PlanLimit(t *testing.T) {
	h := newHarness(t, map[string]usage.Plan{"pro": {RequestsPerMinute: 1}})
	call := Call{Credential: testKey}
	if _, err := h.query(context.Background(), call, domain.QueryRequest{Text: text("pop-up")}); err != nil {
		t.Fatalf("first request: %v", err)
	}
	calls := h.store.Calls()
	_, err := h.query(context.Background(), call, domain.QueryRequest{Text: text("pop-up")})
	var pe *domain.PlanLimitError
	if !errors.As(err, &pe) || pe.Code() != domain.CodeRateLimited {
		t.Fatalf("expected RATE_LIMITED, got %v", err)
	}
	if h.store.Calls() != calls || len(h.records) != 1 {
		t.Errorf("rejected request reached the store or was billed")
	}
}

func TestQuery_StoreFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.store.Fail = errors.New("dial tcp 10.0.0.5:7687: connection refused")
	_, err := h.query(context.Background(), Call{Credential: testKey, RequestID: "req-9"}, domain.QueryRequest{Text: text("pop-up")})
	code, status, retryable := domain.Classify(err)
	if code != domain.CodeStoreUnavailable || status != 503 || !retryable {
		t.Fatalf("got %s/%d/%v", code, status, retryable)
	}
	if len(h.records) != 0 {
		t.Error("failed request was billed")
	}
	logs := h.logs.String()
	if !strings.Contains(logs, `"request_id":"req-9"`) || !strings.Contains(logs, `"level":"ERROR"`) {
		t.Errorf("store failure not logged with correlation id: %s", logs)
	}
}

func TestQuery_EmptyTextIsNoMatch(t *testing.T) {
	h := newHarness(t, nil)
	env, err := h.query(context.Background(), Call{Credential: testKey}, domain.QueryRequest{Text: text("   ")})
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if env.Data.DataStatus != domain.StatusNoMatch || env.Data.Meta.Decision != domain.DecisionRefuse {
		t.Errorf("got %s/%s", env.Data.DataStatus, env.Data.Meta.Decision)
	}
	if h.store.Calls() != 0 {
		t.Errorf("store calls = %d", h.store.Calls())
	}
	if env.Data.Rows == nil || env.Data.Meta.Terms == nil {
		t.Error("empty lists must encode as arrays")
	}
}

func TestQuery_SettleOnDelivery(t *testing.T) {
	h := newHarness(t, nil)
	req := domain.QueryRequest{Text: text("pop-up")}

	err := h.gov.Query(context.Background(), Call{Credential: testKey}, req, func(*domain.Envelope[domain.QueryData]) error {
		return errors.New("write: broken pipe")
	})
	if err == nil || len(h.records) != 0 {
		t.Fatalf("failed delivery must not be billed: err=%v records=%d", err, len(h.records))
	}

	ctx, cancel := context.WithCancel(context.Background())
	err = h.gov.Query(ctx, Call{Credential: testKey}, req, func(*domain.Envelope[domain.QueryData]) error {
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) || len(h.records) != 0 {
		t.Fatalf("disconnected client must not be billed: err=%v records=%d", err, len(h.records))
	}
	if !strings.Contains(h.logs.String(), "request cancelled") {
		t.Error("cancellation not logged")
	}
}

func TestUsageIdenticalAcrossCallPaths(t *testing.T) {
	h := newHarness(t, nil)
	req := domain.QueryRequest{Text: text("loyalty"), Vertical: "retail"}
	var usages []domain.Usage
	for _, p := range []domain.CallPath{domain.PathDirect, domain.PathHTTP, domain.PathIntermediary} {
		env, err := h.query(context.Background(), Call{Credential: testKey, Path: p}, req)
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		usages = append(usages, env.Data.Meta.Usage)
	}
	for i := 1; i < len(usages); i++ {
		if usages[i] != usages[0] {
			t.Fatalf("usage differs by call path: %+v", usages)
		}
	}
	for i, rec := range h.records {
		if rec.Usage != usages[0] {
			t.Errorf("record %d usage = %+v", i, rec.Usage)
		}
	}
}

func TestEntityEvidence(t *testing.T) {
	h := newHarness(t, nil)
	var env *domain.Envelope[domain.QueryData]
	err := h.gov.EntityEvidence(context.Background(), Call{Credential: testKey},
		domain.EntityRequest{EntityNames: []string{"Nike"}, Limit: 1},
		func(e *domain.Envelope[domain.QueryData]) error { env = e; return nil })
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if env.Data.DataStatus != domain.StatusEvidenceMatch || len(env.Data.Rows) != 1 {
		t.Errorf("data = %+v", env.Data)
	}
	if len(h.records) != 1 || h.records[0].Operation != domain.OpEntityEvidence {
		t.Errorf("records = %+v", h.records)
	}

	err = h.gov.EntityEvidence(context.Background(), Call{Credential: testKey}, domain.EntityRequest{},
		func(*domain.Envelope[domain.QueryData]) error { return nil })
	if code, _, _ := domain.Classify(err); code != domain.CodeValidation {
		t.Errorf("empty names: %s", code)
	}
}

func TestFacets(t *testing.T) {
	h := newHarness(t, nil)
	var env *domain.Envelope[domain.FacetData]
	deliver := func(e *domain.Envelope[domain.FacetData]) error { env = e; return nil }
	if err := h.gov.Facets(context.Background(), Call{Credential: testKey}, domain.FacetRequest{Facet: "vertical", Limit: 1000}, deliver); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if env.Data.Facet != "vertical" || len(env.Data.Values) != 3 || env.Data.Meta.Usage.QueryUnits != 0.25 {
		t.Errorf("data = %+v", env.Data)
	}
	err := h.gov.Facets(context.Background(), Call{Credential: testKey}, domain.FacetRequest{Facet: "password"}, deliver)
	if code, status, _ := domain.Classify(err); code != domain.CodeValidation || status != 400 {
		t.Errorf("unknown facet: %s/%d", code, status)
	}
}

func TestFacets_UnknownFacetConsumesNoQuota(t *testing.T) {
	h := newHarness(t, map[string]usage.Plan{"pro": {RequestsPerMinute: 1}})
	call := Call{Credential: testKey}
	deliver := func(*domain.Envelope[domain.FacetData]) error { return nil }
	err := h.gov.Facets(context.Background(), call, domain.FacetRequest{Facet: "password"}, deliver)
	if code, _, _ := domain.Classify(err); code != domain.CodeValidation {
		t.Fatalf("unknown facet: %v", err)
	}
	if h.store.Calls() != 0 {
		t.Errorf("unknown facet reached the store")
	}
	if err := h.gov.Facets(context.Background(), call, domain.FacetRequest{Facet: "source"}, deliver); err != nil {
		t.Fatalf("valid facet after rejection: %v", err)
	}
}
