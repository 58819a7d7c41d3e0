package usage

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/genesis-provenance/genesis/app/models"
	"github.com/genesis-provenance/genesis/internal/pkg/plans"
)

// Ledger is the append-only usage log. Entries are never updated or deleted;
// period queries match created_at in [start, end).
type Ledger interface {
	Append(ctx context.Context, entry *models.UsageLogEntry) error
	Sum(ctx context.Context, orgID uint, feature plans.Feature, start, end time.Time) (int64, error)
	SumByFeature(ctx context.Context, orgID uint, start, end time.Time) (map[plans.Feature]int64, error)
	List(ctx context.Context, orgID uint, start, end time.Time) ([]models.UsageLogEntry, error)
}

type gormLedger struct {
	db *gorm.DB
}

// NewLedger creates a ledger backed by GORM.
func NewLedger(db *gorm.DB) Ledger {
	return &gormLedger{db: db}
}

// Append inserts entry. Re-appending an entry with the same UUID is a no-op,
// which keeps replays from the pending buffer from double counting.
func (l *gormLedger) Append(ctx context.Context, entry *models.UsageLogEntry) error {
	return l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uuid"}},
		DoNothing: true,
	}).Create(entry).Error
}

func (l *gormLedger) Sum(ctx context.Context, orgID uint, feature plans.Feature, start, end time.Time) (int64, error) {
	var total int64
	err := l.db.WithContext(ctx).Model(&models.UsageLogEntry{}).
		Where("organization_id = ? AND feature = ? AND created_at >= ? AND created_at < ?", orgID, feature, start.UTC(), end.UTC()).
		Select("COALESCE(SUM(count), 0)").
		Scan(&total).Error
	return total, err
}

func (l *gormLedger) SumByFeature(ctx context.Context, orgID uint, start, end time.Time) (map[plans.Feature]int64, error) {
	var rows []struct {
		Feature string
		Total   int64
	}
	err := l.db.WithContext(ctx).Model(&models.UsageLogEntry{}).
		Where("organization_id = ? AND created_at >= ? AND created_at < ?", orgID, start.UTC(), end.UTC()).
		Select("feature, COALESCE(SUM(count), 0) AS total").
		Group("feature").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[plans.Feature]int64, len(rows))
	for _, r := range rows {
		out[plans.Feature(r.Feature)] = r.Total
	}
	return out, nil
}

func (l *gormLedger) List(ctx context.Context, orgID uint, start, end time.Time) ([]models.UsageLogEntry, error) {
	var entries []models.UsageLogEntry
	err := l.db.WithContext(ctx).
		Where("organization_id = ? AND created_at >= ? AND created_at < ?", orgID, start.UTC(), end.UTC()).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}
