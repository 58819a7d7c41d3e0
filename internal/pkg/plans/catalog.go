package plans

import (
	"errors"
	"fmt"
	"strings"
)

// Unlimited marks a numeric limit without an upper bound.
const Unlimited int64 = -1

var ErrUnknownPlan = errors.New("plans: unknown plan id")

type PlanID string

const (
	PlanCollector  PlanID = "collector"
	PlanDealer     PlanID = "dealer"
	PlanEnterprise PlanID = "enterprise"
)

// LimitKey names one numeric limit of a plan. Several features can
// consume the same key.
type LimitKey string

const (
	LimitAssets      LimitKey = "assets"
	LimitTeamMembers LimitKey = "team_members"
	LimitAIAnalyses  LimitKey = "ai_analyses"
	LimitStorageGB   LimitKey = "storage_gb"
	LimitLookups     LimitKey = "lookups"
)

type Limits struct {
	Assets      int64 `json:"assets" mapstructure:"assets"`
	TeamMembers int64 `json:"team_members" mapstructure:"team_members"`
	AIAnalyses  int64 `json:"ai_analyses" mapstructure:"ai_analyses"`
	StorageGB   int64 `json:"storage_gb" mapstructure:"storage_gb"`
	Lookups     int64 `json:"lookups" mapstructure:"lookups"`
}

// Get returns the value for key. ok is false for keys the plan does not know.
func (l Limits) Get(key LimitKey) (int64, bool) {
	switch key {
	case LimitAssets:
		return l.Assets, true
	case LimitTeamMembers:
		return l.TeamMembers, true
	case LimitAIAnalyses:
		return l.AIAnalyses, true
	case LimitStorageGB:
		return l.StorageGB, true
	case LimitLookups:
		return l.Lookups, true
	default:
		return 0, false
	}
}

type Features struct {
	Certificates      bool `json:"certificates" mapstructure:"certificates"`
	AdvancedAnalytics bool `json:"advanced_analytics" mapstructure:"advanced_analytics"`
	PrioritySupport   bool `json:"priority_support" mapstructure:"priority_support"`
	APIAccess         bool `json:"api_access" mapstructure:"api_access"`
}

type Plan struct {
	ID       PlanID   `json:"id"`
	Name     string   `json:"name"`
	Limits   Limits   `json:"limits"`
	Features Features `json:"features"`
}

// IsUnlimited reports whether v is the Unlimited sentinel.
func IsUnlimited(v int64) bool { return v == Unlimited }

// Catalog is the immutable plan table. Build it once at startup and pass it
// to every component that needs plan data.
type Catalog struct {
	order  []PlanID
	plans  map[PlanID]Plan
	prices map[string]PlanID
}

// NewCatalog builds a catalog from plans ordered from entry tier to highest
// tier. prices maps gateway price ids to plan ids.
func NewCatalog(ordered []Plan, prices map[string]PlanID) (*Catalog, error) {
	if len(ordered) < 2 {
		return nil, fmt.Errorf("plans: catalog needs at least two tiers, got %d", len(ordered))
	}
	c := &Catalog{
		order:  make([]PlanID, 0, len(ordered)),
		plans:  make(map[PlanID]Plan, len(ordered)),
		prices: make(map[string]PlanID, len(prices)),
	}
	for _, p := range ordered {
		if p.ID == "" {
			return nil, errors.New("plans: plan without id")
		}
		if _, dup := c.plans[p.ID]; dup {
			return nil, fmt.Errorf("plans: duplicate plan %q", p.ID)
		}
		if err := validateLimits(p); err != nil {
			return nil, err
		}
		c.order = append(c.order, p.ID)
		c.plans[p.ID] = p
	}
	if err := requireUnlimited(ordered[len(ordered)-1]); err != nil {
		return nil, err
	}
	for price, id := range prices {
		price = strings.TrimSpace(price)
		if price == "" {
			continue
		}
		if _, ok := c.plans[id]; !ok {
			return nil, fmt.Errorf("%w: price %q maps to %q", ErrUnknownPlan, price, id)
		}
		c.prices[price] = id
	}
	return c, nil
}

func validateLimits(p Plan) error {
	for _, v := range []int64{p.Limits.Assets, p.Limits.TeamMembers, p.Limits.AIAnalyses, p.Limits.StorageGB, p.Limits.Lookups} {
		if v < Unlimited {
			return fmt.Errorf("plans: plan %q has invalid limit %d", p.ID, v)
		}
	}
	return nil
}

// requireUnlimited rejects a highest tier with any finite limit.
func requireUnlimited(p Plan) error {
	for _, key := range []LimitKey{LimitAssets, LimitTeamMembers, LimitAIAnalyses, LimitStorageGB, LimitLookups} {
		if v, _ := p.Limits.Get(key); !IsUnlimited(v) {
			return fmt.Errorf("plans: highest tier %q must be unlimited, %s is %d", p.ID, key, v)
		}
	}
	return nil
}

// Lookup returns the plan for id.
func (c *Catalog) Lookup(id PlanID) (Plan, bool) {
	p, ok := c.plans[id]
	return p, ok
}

// Plan returns the plan for id and panics when id is not in the catalog.
// Plan ids reaching this point have been validated on write, so an unknown
// id means the deployment and the stored data disagree.
func (c *Catalog) Plan(id PlanID) Plan {
	p, ok := c.plans[id]
	if !ok {
		panic(fmt.Sprintf("%v: %q", ErrUnknownPlan, id))
	}
	return p
}

// Limit resolves a single numeric limit. It returns Unlimited or a
// non-negative value.
func (c *Catalog) Limit(id PlanID, key LimitKey) int64 {
	v, ok := c.Plan(id).Limits.Get(key)
	if !ok {
		panic(fmt.Sprintf("plans: unknown limit key %q", key))
	}
	return v
}

// Entry is the lowest tier, used for organizations without a subscription.
func (c *Catalog) Entry() Plan { return c.plans[c.order[0]] }

// Highest is the top tier. Denials on this tier never ask for an upgrade.
func (c *Catalog) Highest() Plan { return c.plans[c.order[len(c.order)-1]] }

func (c *Catalog) IsHighest(id PlanID) bool { return id == c.order[len(c.order)-1] }

// Plans returns all plans from entry to highest tier.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.plans[id])
	}
	return out
}

// PlanForPrice is the reverse lookup from a gateway price id.
func (c *Catalog) PlanForPrice(priceID string) (PlanID, bool) {
	id, ok := c.prices[strings.TrimSpace(priceID)]
	return id, ok
}

// ParsePlanID normalizes user input into a known plan id.
func (c *Catalog) ParsePlanID(s string) (PlanID, error) {
	id := PlanID(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := c.plans[id]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlan, s)
	}
	return id, nil
}

// DefaultPlans is the built-in three tier table.
func DefaultPlans() []Plan {
	return []Plan{
		{
			ID:   PlanCollector,
			Name: "Collector",
			Limits: Limits{
				Assets:      50,
				TeamMembers: 1,
				AIAnalyses:  10,
				StorageGB:   5,
				Lookups:     10,
			},
			Features: Features{Certificates: true},
		},
		{
			ID:   PlanDealer,
			Name: "Dealer",
			Limits: Limits{
				Assets:      500,
				TeamMembers: 10,
				AIAnalyses:  100,
				StorageGB:   50,
				Lookups:     100,
			},
			Features: Features{Certificates: true, AdvancedAnalytics: true, APIAccess: true},
		},
		{
			ID:   PlanEnterprise,
			Name: "Enterprise",
			Limits: Limits{
				Assets:      Unlimited,
				TeamMembers: Unlimited,
				AIAnalyses:  Unlimited,
				StorageGB:   Unlimited,
				Lookups:     Unlimited,
			},
			Features: Features{Certificates: true, AdvancedAnalytics: true, PrioritySupport: true, APIAccess: true},
		},
	}
}

// ParsePriceIDs reads "price_a:collector,price_b:dealer" style lists.
func ParsePriceIDs(raw string) (map[string]PlanID, error) {
	out := make(map[string]PlanID)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		price, plan, ok := strings.Cut(pair, ":")
		if !ok || strings.TrimSpace(price) == "" || strings.TrimSpace(plan) == "" {
			return nil, fmt.Errorf("plans: malformed price mapping %q", pair)
		}
		out[strings.TrimSpace(price)] = PlanID(strings.ToLower(strings.TrimSpace(plan)))
	}
	return out, nil
}
