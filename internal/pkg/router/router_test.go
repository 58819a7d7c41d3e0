package router

import (
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genesis-provenance/genesis/app/controllers"
	"github.com/genesis-provenance/genesis/app/models"
	"github.com/genesis-provenance/genesis/app/repository"
	apiv1 "github.com/genesis-provenance/genesis/internal/api/v1"
	"github.com/genesis-provenance/genesis/internal/pkg/billing"
	"github.com/genesis-provenance/genesis/internal/pkg/database/dbtest"
	"github.com/genesis-provenance/genesis/internal/pkg/entitlements"
	"github.com/genesis-provenance/genesis/internal/pkg/metrics"
	"github.com/genesis-provenance/genesis/internal/pkg/plans"
	"github.com/genesis-provenance/genesis/internal/pkg/usage"
)

func newTestApp(t *testing.T, limit LimiterConfig, users map[string]string) (*fiber.App, string) {
	t.Helper()
	catalog, err := plans.NewCatalog(plans.DefaultPlans(), nil)
	require.NoError(t, err)

	db := dbtest.Open(t)
	repos := repository.NewRepositories(db)
	svc := billing.NewServiceFromDB(db, catalog)
	ledger := usage.NewLedger(db)
	checker := entitlements.NewChecker(catalog, svc, ledger, repository.NewStandingCounter(db))
	consumer := entitlements.NewConsumer(db, catalog)
	recorder := usage.NewRecorder(svc, ledger)

	server := apiv1.NewAPIServer(
		controllers.NewEntitlementController(checker),
		controllers.NewUsageController(checker, recorder, consumer),
		controllers.NewAssetController(consumer, checker, repos.Asset, nil),
		controllers.NewMemberController(consumer, repos.Member, nil),
	)
	sync := billing.NewSynchronizer(billing.NewRepository(db), catalog)

	app := fiber.New()
	InstallRouter(app,
		NewWebhookRouter(controllers.NewBillingController(svc, sync, "whsec_router")),
		NewApiRouter(server, repos.Organization, limit),
		NewAdminRouter(controllers.NewAdminController(repos.Organization, svc, nil, nil), users),
	)

	org := &models.Organization{Name: "Router Test"}
	key, err := org.IssueAPIKey()
	require.NoError(t, err)
	require.NoError(t, repos.Organization.Create(org))
	return app, key
}

func get(t *testing.T, app *fiber.App, path string, headers map[string]string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestAPIRequiresKeyAndIsRateLimited(t *testing.T) {
	app, key := newTestApp(t, LimiterConfig{Max: 2, Expiration: time.Minute}, nil)

	resp := get(t, app, "/api/v1/ping", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	auth := map[string]string{"X-API-Key": key}
	assert.Equal(t, fiber.StatusOK, get(t, app, "/api/v1/ping", auth).StatusCode)
	assert.Equal(t, fiber.StatusOK, get(t, app, "/api/v1/usage/summary", auth).StatusCode)

	resp = get(t, app, "/api/v1/ping", auth)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "rate_limited")
}

func TestAdminRoutesUseBasicAuth(t *testing.T) {
	app, _ := newTestApp(t, LimiterConfig{}, map[string]string{"ops": "s3cret"})
	metrics.ObserveDecision("asset_created", true)

	assert.Equal(t, fiber.StatusUnauthorized, get(t, app, "/metrics", nil).StatusCode)
	assert.Equal(t, fiber.StatusUnauthorized, get(t, app, "/admin/organizations/1/subscription", nil).StatusCode)

	basic := map[string]string{"Authorization": "Basic " + base64.StdEncoding.EncodeToString([]byte("ops:s3cret"))}
	resp := get(t, app, "/metrics", basic)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(body), "genesis_entitlement_decisions_total"))

	resp = get(t, app, "/admin/organizations/1/subscription", basic)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAdminRoutesDisabledWithoutPassword(t *testing.T) {
	app, _ := newTestApp(t, LimiterConfig{}, nil)
	assert.Equal(t, fiber.StatusNotFound, get(t, app, "/metrics", nil).StatusCode)
	assert.Equal(t, fiber.StatusNotFound, get(t, app, "/admin/organizations/1/subscription", nil).StatusCode)
}

func TestWebhookRouteBypassesAPIKey(t *testing.T) {
	app, _ := newTestApp(t, LimiterConfig{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	// reaches the handler, which rejects the missing signature
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestLimiterCountersLiveInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)
	t.Setenv("CACHE_HOST", host)
	t.Setenv("CACHE_PORT", port)
	t.Setenv("RATE_LIMIT_REDIS_DB", "0")
	t.Setenv("RATE_LIMIT_MAX", "1")

	cfg := LoadLimiterConfig()
	assert.Equal(t, 1, cfg.Max)
	assert.Equal(t, time.Minute, cfg.Expiration)
	require.NotNil(t, cfg.Storage)

	app, key := newTestApp(t, cfg, nil)
	auth := map[string]string{"X-API-Key": key}
	assert.Equal(t, fiber.StatusOK, get(t, app, "/api/v1/ping", auth).StatusCode)
	assert.Equal(t, fiber.StatusTooManyRequests, get(t, app, "/api/v1/ping", auth).StatusCode)
	assert.NotEmpty(t, mr.Keys())
}
