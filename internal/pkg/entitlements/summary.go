package entitlements

import (
	"context"
	"fmt"
	"time"

	"github.com/genesis-provenance/genesis/internal/pkg/plans"
)

// UsageCounts is the current consumption per metered quantity. Assets, team
// members and storage are live counts; the rest are sums over the period.
type UsageCounts struct {
	Assets          int64 `json:"assets"`
	TeamMembers     int64 `json:"teamMembers"`
	AIAnalyses      int64 `json:"aiAnalyses"`
	VINLookups      int64 `json:"vinLookups"`
	PDFCertificates int64 `json:"pdfCertificates"`
	StorageGB       int64 `json:"storageGb"`
}

type Summary struct {
	OrganizationID uint           `json:"organizationId"`
	Plan           plans.PlanID   `json:"plan"`
	PlanName       string         `json:"planName"`
	Status         string         `json:"status"`
	Trial          bool           `json:"trial"`
	Limits         plans.Limits   `json:"limits"`
	Features       plans.Features `json:"features"`
	Usage          UsageCounts    `json:"usage"`
	PeriodStart    time.Time      `json:"periodStart"`
	PeriodEnd      time.Time      `json:"periodEnd"`
}

// UsageSummary reports plan, limits and usage for the active period.
func (c *Checker) UsageSummary(ctx context.Context, orgID uint) (Summary, error) {
	res, err := c.subs.GetSubscriptionOrDefault(ctx, orgID)
	if err != nil {
		return Summary{}, err
	}

	var u UsageCounts
	standing := []struct {
		key plans.LimitKey
		dst *int64
	}{
		{plans.LimitAssets, &u.Assets},
		{plans.LimitTeamMembers, &u.TeamMembers},
		{plans.LimitStorageGB, &u.StorageGB},
	}
	for _, s := range standing {
		n, err := c.counter.Count(ctx, orgID, s.key)
		if err != nil {
			return Summary{}, fmt.Errorf("count %s for organization %d: %w", s.key, orgID, err)
		}
		*s.dst = n
	}

	sums, err := c.ledger.SumByFeature(ctx, orgID, res.Period.Start, res.Period.End)
	if err != nil {
		return Summary{}, fmt.Errorf("sum usage for organization %d: %w", orgID, err)
	}
	u.AIAnalyses = sums[plans.FeatureAIAnalysis]
	u.VINLookups = sums[plans.FeatureVINLookup]
	u.PDFCertificates = sums[plans.FeaturePDFCertificate]

	return Summary{
		OrganizationID: orgID,
		Plan:           res.Plan.ID,
		PlanName:       res.Plan.Name,
		Status:         res.Subscription.Status,
		Trial:          res.Virtual,
		Limits:         res.Plan.Limits,
		Features:       res.Plan.Features,
		Usage:          u,
		PeriodStart:    res.Period.Start,
		PeriodEnd:      res.Period.End,
	}, nil
}
