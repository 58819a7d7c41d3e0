package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/genesis-provenance/genesis/internal/pkg/plans"
)

const bytesPerGB = 1 << 30

// StandingCounter measures standing-count limits from live rows. Storage is
// reported in whole gigabytes, rounded down.
type StandingCounter struct {
	db *gorm.DB
}

func NewStandingCounter(db *gorm.DB) *StandingCounter {
	return &StandingCounter{db: db}
}

func (c *StandingCounter) Count(ctx context.Context, orgID uint, key plans.LimitKey) (int64, error) {
	db := c.db.WithContext(ctx)
	switch key {
	case plans.LimitAssets:
		return countAssets(db, orgID)
	case plans.LimitTeamMembers:
		return countMembers(db, orgID)
	case plans.LimitStorageGB:
		b, err := sumMediaBytes(db, orgID)
		if err != nil {
			return 0, err
		}
		return b / bytesPerGB, nil
	default:
		return 0, fmt.Errorf("repository: %q is not a standing-count limit", key)
	}
}
