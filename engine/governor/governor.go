// Package governor wraps every engine operation, whatever the call path:
// identity resolution, graph scoping, limit clamping, quota admission,
// metering, enveloping and usage settlement on delivery.
package governor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/WessleyAI/groundwork/engine/domain"
	"github.com/WessleyAI/groundwork/engine/graph"
	"github.com/WessleyAI/groundwork/engine/identity"
	"github.com/WessleyAI/groundwork/engine/retrieval"
	"github.com/WessleyAI/groundwork/engine/usage"
	"github.com/WessleyAI/groundwork/pkg/metrics"
)

// DefaultSchemaVersion is stamped on envelopes when none is configured.
const DefaultSchemaVersion = "2024-06-01"

// Call describes who is calling and how.
type Call struct {
	Credential string
	Path       domain.CallPath
	RequestID  string // generated when empty
}

// Options configures a Governor. Nil fields get working defaults.
type Options struct {
	Quota         *usage.Quota
	Meter         *usage.Meter
	Recorder      usage.Recorder
	Metrics       *metrics.Engine
	Logger        *slog.Logger
	SchemaVersion string
}

// Governor is safe for concurrent use.
type Governor struct {
	resolver      identity.Resolver
	svc           *retrieval.Service
	quota         *usage.Quota
	meter         *usage.Meter
	recorder      usage.Recorder
	metrics       *metrics.Engine
	logger        *slog.Logger
	schemaVersion string
	now           func() time.Time
}

// New creates a Governor.
func New(resolver identity.Resolver, svc *retrieval.Service, opts Options) *Governor {
	g := &Governor{
		resolver:      resolver,
		svc:           svc,
		quota:         opts.Quota,
		meter:         opts.Meter,
		recorder:      opts.Recorder,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		schemaVersion: opts.SchemaVersion,
		now:           time.Now,
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.quota == nil {
		g.quota = usage.NewQuota(nil, nil, g.logger)
	}
	if g.meter == nil {
		g.meter = usage.NewMeter(usage.MeterConfig{})
	}
	if g.recorder == nil {
		g.recorder = usage.NewFanout(g.metrics, g.logger)
	}
	if g.schemaVersion == "" {
		g.schemaVersion = DefaultSchemaVersion
	}
	return g
}

// Query runs a governed retrieval and hands the envelope to deliver.
func (g *Governor) Query(ctx context.Context, call Call, req domain.QueryRequest, deliver func(*domain.Envelope[domain.QueryData]) error) error {
	limits := Clamp(Limits{
		Depth:           int(req.Depth),
		EvidencePerRow:  int(req.EvidencePerRow),
		TopK:            int(req.Limit),
		NodeCap:         int(req.NodeCap),
		RelationshipCap: int(req.RelationshipCap),
	})
	op := operation[domain.QueryData]{
		name:     domain.OpQuery,
		graphID:  req.GraphID,
		vertical: req.Vertical,
		validate: func() error { return domain.ValidateQuery(req) },
		exec: func(ctx context.Context, graphID string, u domain.Usage) (domain.QueryData, domain.Decision, error) {
			res, err := g.svc.Query(ctx, retrieval.Request{
				GraphID:   graphID,
				Vertical:  strings.TrimSpace(req.Vertical),
				Text:      req.QueryText(),
				Explicit:  req.ExplicitTerms,
				ConceptID: strings.TrimSpace(req.ConceptContextID),
				Depth:     limits.Depth,
				Caps:      limits.Caps(),
			})
			if err != nil {
				return domain.QueryData{}, "", err
			}
			return queryData(res, u), res.Verdict.Decision, nil
		},
	}
	return run(ctx, g, call, op, deliver)
}

// EntityEvidence returns evidence mentioning the named entities.
func (g *Governor) EntityEvidence(ctx context.Context, call Call, req domain.EntityRequest, deliver func(*domain.Envelope[domain.QueryData]) error) error {
	limits := Clamp(Limits{TopK: int(req.Limit)})
	op := operation[domain.QueryData]{
		name:     domain.OpEntityEvidence,
		graphID:  req.GraphID,
		vertical: req.Vertical,
		validate: func() error { return domain.ValidateEntities(req) },
		exec: func(ctx context.Context, graphID string, u domain.Usage) (domain.QueryData, domain.Decision, error) {
			res, err := g.svc.Entities(ctx, retrieval.EntityRequest{
				GraphID:  graphID,
				Vertical: strings.TrimSpace(req.Vertical),
				Names:    req.EntityNames,
				Caps:     limits.Caps(),
			})
			if err != nil {
				return domain.QueryData{}, "", err
			}
			return queryData(res, u), res.Verdict.Decision, nil
		},
	}
	return run(ctx, g, call, op, deliver)
}

// Facets lists the distinct values of a facet in a graph.
func (g *Governor) Facets(ctx context.Context, call Call, req domain.FacetRequest, deliver func(*domain.Envelope[domain.FacetData]) error) error {
	limit := clamp(int(req.Limit), DefaultFacetLimit, MaxFacetLimit)
	op := operation[domain.FacetData]{
		name:     domain.OpFacets,
		graphID:  req.GraphID,
		validate: func() error {
			if err := domain.ValidateFacet(req); err != nil {
				return err
			}
			if _, ok := graph.LookupFacet(req.Facet); !ok {
				return domain.NewValidationError("facet", req.Facet, domain.ErrUnknownFacet)
			}
			return nil
		},
		exec: func(ctx context.Context, graphID string, u domain.Usage) (domain.FacetData, domain.Decision, error) {
			values, err := g.svc.Facets(ctx, graphID, req.Facet, limit)
			if err != nil {
				return domain.FacetData{}, "", err
			}
			return domain.FacetData{Facet: req.Facet, Values: values, Meta: domain.FacetMeta{Usage: u}}, "", nil
		},
	}
	return run(ctx, g, call, op, deliver)
}

type operation[T any] struct {
	name     domain.Operation
	graphID  string
	vertical string
	validate func() error
	exec     func(ctx context.Context, graphID string, u domain.Usage) (T, domain.Decision, error)
}

// run is the governed request lifecycle. Nothing touches the store before
// the caller is authenticated, the request validated and quota admitted.
// Usage is recorded only after deliver succeeded on a live context.
func run[T any](ctx context.Context, g *Governor, call Call, op operation[T], deliver func(*domain.Envelope[T]) error) error {
	start := g.now()
	if call.RequestID == "" {
		call.RequestID = uuid.NewString()
	}
	if call.Path == "" {
		call.Path = domain.PathDirect
	}
	f := failure{g: g, call: call, op: op.name}

	if strings.TrimSpace(call.Credential) == "" {
		return f.fail(ctx, identity.Missing())
	}
	id, err := g.resolver.Resolve(ctx, call.Credential)
	if err != nil {
		return f.fail(ctx, err)
	}
	f.tenant = id.TenantID
	if err := op.validate(); err != nil {
		return f.fail(ctx, err)
	}
	graphID, err := id.GraphFor(op.graphID)
	if err != nil {
		return f.fail(ctx, err)
	}
	f.graphID = graphID

	u := g.meter.Measure(op.name, graphID, op.vertical)
	if err := g.quota.Admit(ctx, id.TenantID, id.Plan, u.BillableUnits); err != nil {
		return f.fail(ctx, err)
	}

	data, decision, err := op.exec(ctx, graphID, u)
	if err != nil {
		return f.fail(ctx, err)
	}
	f.decision = decision

	env := &domain.Envelope[T]{
		RequestID:     call.RequestID,
		GraphID:       graphID,
		SchemaVersion: g.schemaVersion,
		GeneratedAt:   g.now().UTC(),
		Data:          data,
	}
	if err := deliver(env); err != nil {
		return f.fail(ctx, err)
	}
	if err := ctx.Err(); err != nil {
		return f.fail(ctx, err)
	}

	g.metrics.Request(string(op.name), string(call.Path), "ok")
	if decision != "" {
		g.metrics.Decision(string(decision))
	}
	_ = g.recorder.Record(ctx, domain.UsageRecord{
		RequestID:      call.RequestID,
		TenantID:       id.TenantID,
		KeyFingerprint: id.Fingerprint,
		GraphID:        graphID,
		Operation:      op.name,
		CallPath:       call.Path,
		Usage:          u,
		Latency:        g.now().Sub(start),
		RecordedAt:     g.now().UTC(),
	})
	g.logger.Info("request served",
		"request_id", call.RequestID,
		"tenant", id.TenantID,
		"graph_id", graphID,
		"op", op.name,
		"path", call.Path,
		"decision", decision,
		"billable_units", u.BillableUnits,
	)
	return nil
}

// failure logs and counts a terminal error once.
type failure struct {
	g        *Governor
	call     Call
	op       domain.Operation
	tenant   string
	graphID  string
	decision domain.Decision
}

func (f failure) fail(ctx context.Context, err error) error {
	attrs := []any{
		"request_id", f.call.RequestID,
		"tenant", f.tenant,
		"graph_id", f.graphID,
		"op", f.op,
		"path", f.call.Path,
	}
	if f.decision != "" {
		attrs = append(attrs, "decision", f.decision)
	}
	if errors.Is(err, context.Canceled) {
		f.g.metrics.Request(string(f.op), string(f.call.Path), "cancelled")
		f.g.logger.Info("request cancelled", append(attrs, "err", err)...)
		return err
	}
	code, status, retryable := domain.Classify(err)
	f.g.metrics.Request(string(f.op), string(f.call.Path), code)
	level := slog.LevelWarn
	if status >= 500 {
		level = slog.LevelError
	}
	f.g.logger.Log(ctx, level, "request failed",
		append(attrs, "code", code, "status", status, "retryable", retryable, "err", err)...)
	return err
}

func queryData(res *retrieval.Result, u domain.Usage) domain.QueryData {
	searchTerms := res.Terms.Search
	if searchTerms == nil {
		searchTerms = []string{}
	}
	rows := res.Rows
	if rows == nil {
		rows = []domain.Row{}
	}
	return domain.QueryData{
		DataStatus: res.Status,
		Rows:       rows,
		Meta: domain.Meta{
			Terms:         searchTerms,
			RequiredTerms: res.Verdict.RequiredTerms,
			MatchedTerms:  res.Verdict.MatchedTerms,
			CoverageRatio: res.Verdict.Ratio,
			Decision:      res.Verdict.Decision,
			Usage:         u,
		},
	}
}
