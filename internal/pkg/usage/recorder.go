package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/genesis-provenance/genesis/app/models"
	"github.com/genesis-provenance/genesis/internal/pkg/billing"
	"github.com/genesis-provenance/genesis/internal/pkg/metrics"
	"github.com/genesis-provenance/genesis/internal/pkg/plans"
)

var (
	ErrUnknownFeature = errors.New("usage: unknown feature")
	ErrInvalidCount   = errors.New("usage: count must be positive")
)

// SubscriptionResolver is the subscription record accessor.
type SubscriptionResolver interface {
	GetSubscriptionOrDefault(ctx context.Context, orgID uint) (billing.Resolved, error)
}

// Invalidator drops cached usage views for an organization.
type Invalidator interface {
	Invalidate(ctx context.Context, orgID uint)
}

// Buffer keeps entries the ledger refused so they can be replayed later.
type Buffer interface {
	Push(ctx context.Context, entry models.UsageLogEntry) error
}

// Result of a Record call. Deferred entries sit in the pending buffer and
// are not yet visible to entitlement checks.
type Result struct {
	Entry    models.UsageLogEntry
	Deferred bool
}

// Recorder writes usage entries stamped with the organization's current
// billing period. Recording is best effort: callers log failures and carry on
// with the action that was already performed.
type Recorder struct {
	subs        SubscriptionResolver
	ledger      Ledger
	buffer      Buffer
	invalidator Invalidator
	now         func() time.Time
}

type RecorderOption func(*Recorder)

func WithBuffer(b Buffer) RecorderOption {
	return func(r *Recorder) { r.buffer = b }
}

func WithInvalidator(i Invalidator) RecorderOption {
	return func(r *Recorder) { r.invalidator = i }
}

func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

func NewRecorder(subs SubscriptionResolver, ledger Ledger, opts ...RecorderOption) *Recorder {
	r := &Recorder{subs: subs, ledger: ledger, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends count units of feature for orgID. A zero count means one.
func (r *Recorder) Record(ctx context.Context, orgID uint, feature plans.Feature, count int64, metadata map[string]interface{}) (Result, error) {
	entry, err := r.NewEntry(ctx, orgID, feature, count, metadata)
	if err != nil {
		return Result{}, err
	}

	appendErr := r.ledger.Append(ctx, &entry)
	if appendErr == nil {
		metrics.ObserveUsage(string(feature), "stored")
		r.invalidate(ctx, orgID)
		return Result{Entry: entry}, nil
	}

	if r.buffer != nil {
		err := r.buffer.Push(ctx, entry)
		if err == nil {
			log.Warnf("[Usage] ledger write failed for organization %d, entry %s deferred: %v", orgID, entry.UUID, appendErr)
			metrics.ObserveUsage(string(feature), "deferred")
			return Result{Entry: entry, Deferred: true}, nil
		}
		log.Errorf("[Usage] pending buffer rejected entry %s: %v", entry.UUID, err)
	}
	metrics.ObserveUsage(string(feature), "failed")
	return Result{}, fmt.Errorf("record %s for organization %d: %w", feature, orgID, appendErr)
}

// NewEntry builds a validated entry without persisting it. The period is
// copied from the organization's current subscription.
func (r *Recorder) NewEntry(ctx context.Context, orgID uint, feature plans.Feature, count int64, metadata map[string]interface{}) (models.UsageLogEntry, error) {
	if !feature.Valid() {
		return models.UsageLogEntry{}, fmt.Errorf("%w: %q", ErrUnknownFeature, feature)
	}
	if count == 0 {
		count = 1
	}
	if count < 0 {
		return models.UsageLogEntry{}, ErrInvalidCount
	}

	now := r.now().UTC()
	period := billing.VirtualPeriod(now)
	var subID *uint
	res, err := r.subs.GetSubscriptionOrDefault(ctx, orgID)
	if err != nil {
		log.Warnf("[Usage] subscription lookup for organization %d failed, stamping virtual period: %v", orgID, err)
	} else {
		period = res.Period
		subID = res.SubscriptionID()
	}

	entry := models.UsageLogEntry{
		UUID:           uuid.New().String(),
		OrganizationID: orgID,
		SubscriptionID: subID,
		Feature:        feature,
		Count:          count,
		PeriodStart:    period.Start,
		PeriodEnd:      period.End,
		CreatedAt:      now,
	}
	if len(metadata) > 0 {
		entry.Metadata = datatypes.JSONMap(metadata)
	}
	return entry, nil
}

func (r *Recorder) invalidate(ctx context.Context, orgID uint) {
	if r.invalidator != nil {
		r.invalidator.Invalidate(ctx, orgID)
	}
}
