package statement

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/genesis-provenance/genesis/app/models"
	"github.com/genesis-provenance/genesis/internal/pkg/billing"
	"github.com/genesis-provenance/genesis/internal/pkg/plans"
)

const (
	SummarySheet = "Summary"
	EntriesSheet = "Entries"
	timeLayout   = "2006-01-02 15:04:05"
)

// Input is everything that goes into one billing-period statement.
type Input struct {
	Organization models.Organization
	Plan         plans.Plan
	Period       billing.Period
	Entries      []models.UsageLogEntry
	GeneratedAt  time.Time
}

// Build renders a statement workbook with a summary sheet of per-feature
// totals and a sheet listing every ledger entry of the period.
func Build(in Input) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), SummarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(EntriesSheet); err != nil {
		return nil, err
	}

	if err := writeSummary(f, in); err != nil {
		return nil, fmt.Errorf("summary sheet: %w", err)
	}
	if err := writeEntries(f, in.Entries); err != nil {
		return nil, fmt.Errorf("entries sheet: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeSummary(f *excelize.File, in Input) error {
	head := [][]interface{}{
		{"Organization", in.Organization.Name},
		{"Organization ID", in.Organization.ID},
		{"Plan", in.Plan.Name},
		{"Period start", in.Period.Start.UTC().Format(timeLayout)},
		{"Period end", in.Period.End.UTC().Format(timeLayout)},
		{"Generated", in.GeneratedAt.UTC().Format(timeLayout)},
		{},
		{"Feature", "Units", "Limit", "Limit key"},
	}
	row := 1
	for _, r := range head {
		if err := f.SetSheetRow(SummarySheet, cell(row), &r); err != nil {
			return err
		}
		row++
	}

	totals := make(map[plans.Feature]int64)
	for _, e := range in.Entries {
		totals[e.Feature] += e.Count
	}
	features := make([]string, 0, len(totals))
	for feat := range totals {
		features = append(features, string(feat))
	}
	sort.Strings(features)

	for _, name := range features {
		feat := plans.Feature(name)
		key, _ := plans.LimitKeyFor(feat)
		limit := "unlimited"
		if v, ok := in.Plan.Limits.Get(key); ok && !plans.IsUnlimited(v) {
			limit = fmt.Sprintf("%d", v)
		}
		r := []interface{}{name, totals[feat], limit, string(key)}
		if err := f.SetSheetRow(SummarySheet, cell(row), &r); err != nil {
			return err
		}
		row++
	}
	return nil
}

func writeEntries(f *excelize.File, entries []models.UsageLogEntry) error {
	header := []interface{}{"id", "feature", "count", "created_at", "subscription_id", "metadata"}
	if err := f.SetSheetRow(EntriesSheet, "A1", &header); err != nil {
		return err
	}
	for i, e := range entries {
		var subID interface{} = ""
		if e.SubscriptionID != nil {
			subID = *e.SubscriptionID
		}
		meta := ""
		if len(e.Metadata) > 0 {
			raw, err := json.Marshal(e.Metadata)
			if err != nil {
				return err
			}
			meta = string(raw)
		}
		r := []interface{}{e.UUID, string(e.Feature), e.Count, e.CreatedAt.UTC().Format(timeLayout), subID, meta}
		if err := f.SetSheetRow(EntriesSheet, cell(i+2), &r); err != nil {
			return err
		}
	}
	return nil
}

func cell(row int) string {
	return fmt.Sprintf("A%d", row)
}
