package entitlements

import (
	"context"
	"errors"
	"fmt"

	"github.com/genesis-provenance/genesis/internal/pkg/billing"
	"github.com/genesis-provenance/genesis/internal/pkg/metrics"
	"github.com/genesis-provenance/genesis/internal/pkg/plans"
	"github.com/genesis-provenance/genesis/internal/pkg/usage"
)

var (
	ErrUnknownFeature       = usage.ErrUnknownFeature
	ErrOrganizationNotFound = errors.New("entitlements: organization not found")
	// ErrStandingFeature is returned when a standing-count feature is consumed
	// without the action that creates the counted row.
	ErrStandingFeature = errors.New("entitlements: standing-count feature needs an action")
)

// StandingCounter counts live rows for standing-count limits.
type StandingCounter interface {
	Count(ctx context.Context, orgID uint, key plans.LimitKey) (int64, error)
}

// Decision is the outcome of an entitlement check. A denied decision is a
// normal result, not an error.
type Decision struct {
	Allowed         bool           `json:"allowed"`
	Feature         plans.Feature  `json:"feature"`
	LimitKey        plans.LimitKey `json:"limit_key"`
	Limit           int64          `json:"limit"`
	Current         int64          `json:"current"`
	Remaining       int64          `json:"remaining"`
	Plan            plans.PlanID   `json:"plan"`
	PlanName        string         `json:"plan_name"`
	UpgradeRequired bool           `json:"upgrade_required"`
}

// Checker answers whether an organization may perform a metered action.
// It never writes.
type Checker struct {
	catalog *plans.Catalog
	subs    usage.SubscriptionResolver
	ledger  usage.Ledger
	counter StandingCounter
}

func NewChecker(catalog *plans.Catalog, subs usage.SubscriptionResolver, ledger usage.Ledger, counter StandingCounter) *Checker {
	return &Checker{catalog: catalog, subs: subs, ledger: ledger, counter: counter}
}

// CheckAccess decides whether one more unit of feature is allowed.
func (c *Checker) CheckAccess(ctx context.Context, orgID uint, feature plans.Feature) (Decision, error) {
	return c.CheckAccessN(ctx, orgID, feature, 1)
}

// CheckAccessN decides whether need more units of feature are allowed.
func (c *Checker) CheckAccessN(ctx context.Context, orgID uint, feature plans.Feature, need int64) (Decision, error) {
	if need < 1 {
		need = 1
	}
	if !feature.Valid() {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownFeature, feature)
	}
	res, err := c.subs.GetSubscriptionOrDefault(ctx, orgID)
	if err != nil {
		return Decision{}, err
	}
	d, err := c.decide(ctx, orgID, feature, res, need)
	if err != nil {
		return Decision{}, err
	}
	metrics.ObserveDecision(string(feature), d.Allowed)
	return d, nil
}

// decide evaluates whether need more units fit under the limit.
func (c *Checker) decide(ctx context.Context, orgID uint, feature plans.Feature, res billing.Resolved, need int64) (Decision, error) {
	key, ok := plans.LimitKeyFor(feature)
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownFeature, feature)
	}
	limit, ok := res.Plan.Limits.Get(key)
	if !ok {
		return Decision{}, fmt.Errorf("plan %s has no %s limit", res.Plan.ID, key)
	}

	current, err := c.current(ctx, orgID, feature, key, res.Period)
	if err != nil {
		return Decision{}, fmt.Errorf("measure %s for organization %d: %w", key, orgID, err)
	}

	d := Decision{
		Feature:  feature,
		LimitKey: key,
		Limit:    limit,
		Current:  current,
		Plan:     res.Plan.ID,
		PlanName: res.Plan.Name,
	}
	if plans.IsUnlimited(limit) {
		d.Allowed = true
		d.Remaining = plans.Unlimited
		return d, nil
	}
	d.Allowed = current+need <= limit
	d.Remaining = limit - current
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	d.UpgradeRequired = !d.Allowed && !c.catalog.IsHighest(res.Plan.ID)
	return d, nil
}

func (c *Checker) current(ctx context.Context, orgID uint, feature plans.Feature, key plans.LimitKey, period billing.Period) (int64, error) {
	if plans.KindOf(key) == plans.PeriodBounded {
		return c.ledger.Sum(ctx, orgID, feature, period.Start, period.End)
	}
	return c.counter.Count(ctx, orgID, key)
}
