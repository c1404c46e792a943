package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/WessleyAI/groundwork/engine/domain"
	"github.com/WessleyAI/groundwork/pkg/resilience"
)

// Plan bounds a tenant's usage. Zero limits are unlimited.
type Plan struct {
	Name              string  `yaml:"name"`
	RequestsPerMinute int     `yaml:"requests_per_minute"`
	MonthlyUnits      float64 `yaml:"monthly_units"`
}

// FallbackPlan applies to identities whose plan is not configured.
const FallbackPlan = "free"

// DefaultPlans are used when no plan table is configured.
func DefaultPlans() map[string]Plan {
	return map[string]Plan{
		"free":       {Name: "free", RequestsPerMinute: 30, MonthlyUnits: 1_000},
		"pro":        {Name: "pro", RequestsPerMinute: 600, MonthlyUnits: 100_000},
		"enterprise": {Name: "enterprise"},
	}
}

// Quota admits requests against the tenant's plan.
type Quota struct {
	plans   map[string]Plan
	limiter *resilience.KeyedLimiter
	ledger  Ledger
	logger  *slog.Logger
	now     func() time.Time
}

// NewQuota creates a Quota. A nil ledger disables the monthly check.
func NewQuota(plans map[string]Plan, ledger Ledger, logger *slog.Logger) *Quota {
	if len(plans) == 0 {
		plans = DefaultPlans()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Quota{
		plans:   plans,
		limiter: resilience.NewKeyedLimiter(),
		ledger:  ledger,
		logger:  logger,
		now:     time.Now,
	}
}

// Plan returns the effective plan for name.
func (q *Quota) Plan(name string) Plan {
	if p, ok := q.plans[name]; ok {
		if p.Name == "" {
			p.Name = name
		}
		return p
	}
	p := q.plans[FallbackPlan]
	p.Name = FallbackPlan
	return p
}

// Admit rejects the request with a *domain.PlanLimitError when the tenant is
// over its request rate, or when cost would take it past its monthly units.
// A ledger that cannot be read admits the request.
func (q *Quota) Admit(ctx context.Context, tenantID, planName string, cost float64) error {
	plan := q.Plan(planName)
	if !q.limiter.Allow(tenantID, plan.RequestsPerMinute) {
		return &domain.PlanLimitError{TenantID: tenantID, Plan: plan.Name, Wrapped: domain.ErrRateLimited}
	}
	if plan.MonthlyUnits <= 0 || q.ledger == nil {
		return nil
	}
	used, err := q.ledger.Total(ctx, tenantID, MonthKey(q.now()))
	if err != nil {
		q.logger.Warn("quota ledger unavailable, admitting", "tenant", tenantID, "err", err)
		return nil
	}
	if toMilli(used)+toMilli(cost) > toMilli(plan.MonthlyUnits) {
		return &domain.PlanLimitError{TenantID: tenantID, Plan: plan.Name, Wrapped: domain.ErrMonthlyQuota}
	}
	return nil
}
