package quota

import (
	"context"
	"strings"
)

// Unlimited is the daily limit of plans without a cap
const Unlimited int64 = -1

// PlanLimits maps a plan tier to its daily unit limit
type PlanLimits map[string]int64

// Limit returns the daily limit of plan
func (p PlanLimits) Limit(plan string) (int64, bool) {
	limit, ok := p[plan]
	return limit, ok
}

type planKey struct{}

// ContextWithPlan records the caller's plan tier, typically from a token claim
func ContextWithPlan(ctx context.Context, plan string) context.Context {
	return context.WithValue(ctx, planKey{}, strings.ToLower(strings.TrimSpace(plan)))
}

// PlanFromContext returns the plan stored by ContextWithPlan
func PlanFromContext(ctx context.Context) (string, bool) {
	plan, ok := ctx.Value(planKey{}).(string)
	return plan, ok && plan != ""
}

// PlanResolver determines which plan tier applies to a caller
type PlanResolver interface {
	ResolvePlan(ctx context.Context, callerID string) string
}

// ContextPlanResolver reads the plan from the request context and falls back
// to a default plan for anonymous callers and tokens without a plan claim
type ContextPlanResolver struct {
	DefaultPlan string
}

func (r ContextPlanResolver) ResolvePlan(ctx context.Context, _ string) string {
	if plan, ok := PlanFromContext(ctx); ok {
		return plan
	}
	return r.DefaultPlan
}
