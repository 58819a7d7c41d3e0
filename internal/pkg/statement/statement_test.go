package statement

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/datatypes"

	"github.com/genesis-provenance/genesis/app/models"
	"github.com/genesis-provenance/genesis/app/repository"
	"github.com/genesis-provenance/genesis/internal/pkg/billing"
	"github.com/genesis-provenance/genesis/internal/pkg/database/dbtest"
	"github.com/genesis-provenance/genesis/internal/pkg/objectstore"
	"github.com/genesis-provenance/genesis/internal/pkg/plans"
	"github.com/genesis-provenance/genesis/internal/pkg/usage"
)

var march = billing.Period{
	Start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
}

func open(t *testing.T, data []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestBuild(t *testing.T) {
	subID := uint(7)
	data, err := Build(Input{
		Organization: models.Organization{ID: 3, Name: "Pebble Beach Classics"},
		Plan:         plans.DefaultPlans()[0],
		Period:       march,
		GeneratedAt:  time.Date(2026, 4, 1, 0, 5, 0, 0, time.UTC),
		Entries: []models.UsageLogEntry{
			{UUID: "a", Feature: plans.FeatureVINLookup, Count: 2, CreatedAt: march.Start.Add(time.Hour), SubscriptionID: &subID},
			{UUID: "b", Feature: plans.FeatureAIAnalysis, Count: 1, CreatedAt: march.Start.Add(2 * time.Hour), Metadata: datatypes.JSONMap{"model": "v2"}},
			{UUID: "c", Feature: plans.FeatureVINLookup, Count: 3, CreatedAt: march.Start.Add(3 * time.Hour)},
		},
	})
	require.NoError(t, err)

	f := open(t, data)
	assert.Equal(t, []string{SummarySheet, EntriesSheet}, f.GetSheetList())

	summary, err := f.GetRows(SummarySheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"Organization", "Pebble Beach Classics"}, summary[0])
	assert.Equal(t, []string{"Plan", "Collector"}, summary[2])
	assert.Equal(t, []string{"Period start", "2026-03-01 00:00:00"}, summary[3])
	assert.Equal(t, []string{"Feature", "Units", "Limit", "Limit key"}, summary[7])
	assert.Equal(t, []string{"ai_analysis", "1", "10", "ai_analyses"}, summary[8])
	assert.Equal(t, []string{"vin_lookup", "5", "10", "lookups"}, summary[9])

	entries, err := f.GetRows(EntriesSheet)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "id", entries[0][0])
	assert.Equal(t, []string{"a", "vin_lookup", "2", "2026-03-01 01:00:00", "7"}, entries[1])
	assert.Equal(t, `{"model":"v2"}`, entries[2][5])
}

func TestBuildEnterpriseShowsUnlimited(t *testing.T) {
	data, err := Build(Input{
		Organization: models.Organization{ID: 1, Name: "Big Auction"},
		Plan:         plans.DefaultPlans()[2],
		Period:       march,
		Entries:      []models.UsageLogEntry{{UUID: "x", Feature: plans.FeatureVINLookup, Count: 1, CreatedAt: march.Start}},
	})
	require.NoError(t, err)

	rows, err := open(t, data).GetRows(SummarySheet)
	require.NoError(t, err)
	assert.Equal(t, "unlimited", rows[8][2])
}

type memUploader struct {
	objects map[string][]byte
	puts    int
	err     error
}

func (m *memUploader) Put(_ context.Context, key string, body []byte, contentType string, _ map[string]string) (*objectstore.UploadResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.objects[key] = body
	m.puts++
	return &objectstore.UploadResult{ObjectKey: key, Size: int64(len(body)), ContentType: contentType}, nil
}

func (m *memUploader) Exists(_ context.Context, key string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.objects[key]
	return ok, nil
}

func TestGeneratorUploadsClosedPeriod(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	catalog, err := plans.NewCatalog(plans.DefaultPlans(), nil)
	require.NoError(t, err)

	org := models.Organization{Name: "Route 66 Garage"}
	require.NoError(t, db.Create(&org).Error)
	ledger := usage.NewLedger(db)
	require.NoError(t, ledger.Append(ctx, &models.UsageLogEntry{OrganizationID: org.ID, Feature: plans.FeatureVINLookup, Count: 1, PeriodStart: march.Start, PeriodEnd: march.End, CreatedAt: march.Start.Add(time.Hour)}))
	require.NoError(t, ledger.Append(ctx, &models.UsageLogEntry{OrganizationID: org.ID, Feature: plans.FeatureVINLookup, Count: 1, PeriodStart: march.End, PeriodEnd: march.End.AddDate(0, 1, 0), CreatedAt: march.End.Add(time.Hour)}))

	up := &memUploader{objects: map[string][]byte{}}
	gen := NewGenerator(ledger, repository.NewOrganizationRepository(db), billing.NewServiceFromDB(db, catalog), up)

	res, err := gen.Generate(ctx, org.ID, march)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Entries)
	assert.Equal(t, objectstore.StatementKey(org.ID, march.Start, march.End), res.Key)
	assert.Equal(t, res.Data, up.objects[res.Key])
	assert.False(t, res.Archived)

	// a closed period is uploaded once
	res, err = gen.Generate(ctx, org.ID, march)
	require.NoError(t, err)
	assert.True(t, res.Archived)
	assert.Equal(t, 1, up.puts)

	up.err = errors.New("bucket gone")
	_, err = gen.Generate(ctx, org.ID, march)
	assert.Error(t, err)

	noArchive := NewGenerator(ledger, repository.NewOrganizationRepository(db), billing.NewServiceFromDB(db, catalog), nil)
	res, err = noArchive.Generate(ctx, org.ID, march)
	require.NoError(t, err)
	assert.Empty(t, res.Key)
	assert.NotEmpty(t, res.Data)

	_, err = gen.Generate(ctx, 999, march)
	assert.Error(t, err)
}
