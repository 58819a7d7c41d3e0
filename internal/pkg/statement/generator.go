package statement

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/genesis-provenance/genesis/app/models"
	"github.com/genesis-provenance/genesis/internal/pkg/billing"
	"github.com/genesis-provenance/genesis/internal/pkg/metrics"
	"github.com/genesis-provenance/genesis/internal/pkg/objectstore"
	"github.com/genesis-provenance/genesis/internal/pkg/usage"
)

// Uploader stores a finished statement.
type Uploader interface {
	Put(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) (*objectstore.UploadResult, error)
	Exists(ctx context.Context, key string) (bool, error)
}

type OrganizationLookup interface {
	GetByID(id uint) (*models.Organization, error)
}

// Generator builds statements for closed billing periods and archives them
// when an uploader is configured.
type Generator struct {
	ledger   usage.Ledger
	orgs     OrganizationLookup
	subs     usage.SubscriptionResolver
	uploader Uploader
	now      func() time.Time
}

func NewGenerator(ledger usage.Ledger, orgs OrganizationLookup, subs usage.SubscriptionResolver, uploader Uploader) *Generator {
	return &Generator{ledger: ledger, orgs: orgs, subs: subs, uploader: uploader, now: time.Now}
}

// Result of one generation run. Key is empty when nothing was uploaded.
// Archived is set when a closed period was already in the bucket.
type Result struct {
	Key      string
	Data     []byte
	Entries  int
	Archived bool
}

func (g *Generator) Generate(ctx context.Context, orgID uint, period billing.Period) (Result, error) {
	res, err := g.generate(ctx, orgID, period)
	if err != nil {
		metrics.ObserveStatement("failed")
		return Result{}, err
	}
	switch {
	case res.Archived:
		metrics.ObserveStatement("archived")
	case res.Key != "":
		metrics.ObserveStatement("uploaded")
	default:
		metrics.ObserveStatement("built")
	}
	return res, nil
}

func (g *Generator) generate(ctx context.Context, orgID uint, period billing.Period) (Result, error) {
	org, err := g.orgs.GetByID(orgID)
	if err != nil {
		return Result{}, fmt.Errorf("load organization %d: %w", orgID, err)
	}
	resolved, err := g.subs.GetSubscriptionOrDefault(ctx, orgID)
	if err != nil {
		return Result{}, err
	}
	entries, err := g.ledger.List(ctx, orgID, period.Start, period.End)
	if err != nil {
		return Result{}, fmt.Errorf("list usage for organization %d: %w", orgID, err)
	}

	data, err := Build(Input{
		Organization: *org,
		Plan:         resolved.Plan,
		Period:       period,
		Entries:      entries,
		GeneratedAt:  g.now(),
	})
	if err != nil {
		return Result{}, err
	}

	out := Result{Data: data, Entries: len(entries)}
	if g.uploader == nil {
		log.Infof("[Statement] built statement for organization %d (%d entries), archival disabled", orgID, len(entries))
		return out, nil
	}

	key := objectstore.StatementKey(orgID, period.Start, period.End)
	// closed periods are final, open ones are overwritten
	if !period.End.After(g.now()) {
		exists, err := g.uploader.Exists(ctx, key)
		if err != nil {
			return Result{}, err
		}
		if exists {
			log.Infof("[Statement] %s already archived, skipping upload", key)
			out.Key = key
			out.Archived = true
			return out, nil
		}
	}
	if _, err := g.uploader.Put(ctx, key, data, objectstore.ContentTypeXLSX, map[string]string{
		"organization-id": strconv.FormatUint(uint64(orgID), 10),
		"plan":            string(resolved.Plan.ID),
	}); err != nil {
		return Result{}, err
	}
	out.Key = key
	return out, nil
}
