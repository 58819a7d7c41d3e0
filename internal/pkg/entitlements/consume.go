package entitlements

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/genesis-provenance/genesis/app/models"
	"github.com/genesis-provenance/genesis/app/repository"
	"github.com/genesis-provenance/genesis/internal/pkg/billing"
	"github.com/genesis-provenance/genesis/internal/pkg/metrics"
	"github.com/genesis-provenance/genesis/internal/pkg/plans"
	"github.com/genesis-provenance/genesis/internal/pkg/usage"
)

// Consumer performs check, action and ledger write in one transaction. The
// organization row is locked for the duration, so concurrent consumers of
// the same tenant are serialized and cannot overrun a limit.
type Consumer struct {
	db          *gorm.DB
	catalog     *plans.Catalog
	invalidator usage.Invalidator
	now         func() time.Time
}

type ConsumerOption func(*Consumer)

func WithConsumerInvalidator(i usage.Invalidator) ConsumerOption {
	return func(c *Consumer) { c.invalidator = i }
}

func WithConsumerClock(now func() time.Time) ConsumerOption {
	return func(c *Consumer) { c.now = now }
}

func NewConsumer(db *gorm.DB, catalog *plans.Catalog, opts ...ConsumerOption) *Consumer {
	c := &Consumer{db: db, catalog: catalog, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Consume admits count units of feature when current+count stays within the
// limit. On admission action runs inside the transaction and the ledger entry
// is appended. A denied decision is returned with a nil entry and no error.
// Standing-count features require an action creating the counted row.
func (c *Consumer) Consume(ctx context.Context, orgID uint, feature plans.Feature, count int64, metadata map[string]interface{}, action func(tx *gorm.DB) error) (Decision, *models.UsageLogEntry, error) {
	if !feature.Valid() {
		return Decision{}, nil, ErrUnknownFeature
	}
	if count == 0 {
		count = 1
	}
	if count < 0 {
		return Decision{}, nil, usage.ErrInvalidCount
	}
	key, _ := plans.LimitKeyFor(feature)
	if action == nil && plans.KindOf(key) != plans.PeriodBounded {
		return Decision{}, nil, ErrStandingFeature
	}

	var (
		decision Decision
		entry    *models.UsageLogEntry
	)
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var org models.Organization
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&org, orgID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOrganizationNotFound
		}
		if err != nil {
			return err
		}

		subs := billing.NewServiceFromDB(tx, c.catalog).WithClock(c.now)
		ledger := usage.NewLedger(tx)
		checker := NewChecker(c.catalog, subs, ledger, repository.NewStandingCounter(tx))

		res, err := subs.GetSubscriptionOrDefault(ctx, orgID)
		if err != nil {
			return err
		}
		decision, err = checker.decide(ctx, orgID, feature, res, count)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return nil
		}

		if action != nil {
			if err := action(tx); err != nil {
				return err
			}
		}
		e, err := usage.NewRecorder(subs, ledger, usage.WithClock(c.now)).NewEntry(ctx, orgID, feature, count, metadata)
		if err != nil {
			return err
		}
		if err := ledger.Append(ctx, &e); err != nil {
			return err
		}
		entry = &e
		return nil
	})
	if err != nil {
		return Decision{}, nil, err
	}

	metrics.ObserveDecision(string(feature), decision.Allowed)
	if entry != nil {
		metrics.ObserveUsage(string(feature), "stored")
		// the check ran before this entry existed
		decision.Current += count
		if decision.Remaining != plans.Unlimited {
			decision.Remaining -= count
		}
		if c.invalidator != nil {
			c.invalidator.Invalidate(ctx, orgID)
		}
	}
	return decision, entry, nil
}
