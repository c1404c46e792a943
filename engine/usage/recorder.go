package usage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/WessleyAI/groundwork/engine/domain"
	"github.com/WessleyAI/groundwork/pkg/fn"
	"github.com/WessleyAI/groundwork/pkg/metrics"
	"github.com/WessleyAI/groundwork/pkg/natsutil"
)

// Recorder persists one delivered usage record.
type Recorder interface {
	Record(ctx context.Context, rec domain.UsageRecord) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, rec domain.UsageRecord) error

func (f RecorderFunc) Record(ctx context.Context, rec domain.UsageRecord) error { return f(ctx, rec) }

type sink struct {
	name string
	rec  Recorder
}

// Fanout writes every record to all sinks. Sink failures are logged and
// counted; they never reach the caller.
type Fanout struct {
	sinks   []sink
	metrics *metrics.Engine
	logger  *slog.Logger
}

// NewFanout creates an empty fanout.
func NewFanout(m *metrics.Engine, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{metrics: m, logger: logger}
}

// Add registers a named sink.
func (f *Fanout) Add(name string, r Recorder) *Fanout {
	f.sinks = append(f.sinks, sink{name: name, rec: r})
	return f
}

// Sinks lists the registered sink names in order.
func (f *Fanout) Sinks() []string {
	return fn.Map(f.sinks, func(s sink) string { return s.name })
}

// Record implements Recorder. Sinks are written concurrently and the call
// returns once all of them finished. It always returns nil.
func (f *Fanout) Record(ctx context.Context, rec domain.UsageRecord) error {
	ctx = context.WithoutCancel(ctx)
	errs := fn.ParMap(f.sinks, 0, func(s sink) error {
		return s.rec.Record(ctx, rec)
	})
	for i, s := range f.sinks {
		if err := errs[i]; err != nil {
			f.metrics.SinkError(s.name)
			f.logger.Error("usage sink failed",
				"sink", s.name,
				"request_id", rec.RequestID,
				"tenant", rec.TenantID,
				"err", err,
			)
		}
	}
	return nil
}

// LedgerRecorder charges billable units to the tenant's monthly ledger.
type LedgerRecorder struct{ Ledger Ledger }

func (l LedgerRecorder) Record(ctx context.Context, rec domain.UsageRecord) error {
	_, err := l.Ledger.Add(ctx, rec.TenantID, MonthKey(rec.RecordedAt), rec.Usage.BillableUnits)
	return err
}

// MetricsRecorder counts billable units per graph.
type MetricsRecorder struct{ Metrics *metrics.Engine }

func (m MetricsRecorder) Record(_ context.Context, rec domain.UsageRecord) error {
	m.Metrics.Billable(rec.GraphID, rec.Usage.BillableUnits)
	return nil
}

// DefaultSubject is the NATS subject usage records are published on.
const DefaultSubject = "groundwork.usage"

// NATSRecorder publishes records as JSON.
type NATSRecorder struct {
	Publisher natsutil.Publisher
	Subject   string
}

func (n NATSRecorder) Record(ctx context.Context, rec domain.UsageRecord) error {
	subject := n.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	if err := natsutil.Publish(ctx, n.Publisher, subject, rec); err != nil {
		return fmt.Errorf("usage: publish: %w", err)
	}
	return nil
}
