package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"github.com/genesis-provenance/genesis/app/controllers"
	"github.com/genesis-provenance/genesis/app/repository"
	apiv1 "github.com/genesis-provenance/genesis/internal/api/v1"
	"github.com/genesis-provenance/genesis/internal/pkg/billing"
	"github.com/genesis-provenance/genesis/internal/pkg/cache"
	"github.com/genesis-provenance/genesis/internal/pkg/constants"
	"github.com/genesis-provenance/genesis/internal/pkg/database"
	"github.com/genesis-provenance/genesis/internal/pkg/entitlements"
	"github.com/genesis-provenance/genesis/internal/pkg/env"
	"github.com/genesis-provenance/genesis/internal/pkg/jobqueue"
	"github.com/genesis-provenance/genesis/internal/pkg/mail"
	"github.com/genesis-provenance/genesis/internal/pkg/objectstore"
	"github.com/genesis-provenance/genesis/internal/pkg/plans"
	"github.com/genesis-provenance/genesis/internal/pkg/router"
	"github.com/genesis-provenance/genesis/internal/pkg/statement"
	"github.com/genesis-provenance/genesis/internal/pkg/usage"
)

func main() {
	app := NewApplication()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		if err := app.ShutdownWithTimeout(20 * time.Second); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	rdb := cache.GetClient()

	catalog, err := loadCatalog()
	if err != nil {
		panic(err)
	}

	factory := repository.NewFactory(db)
	repos := factory.GetRepositories()
	subs := billing.NewServiceFromDB(db, catalog)
	ledger := usage.NewLedger(db)
	checker := entitlements.NewChecker(catalog, subs, ledger, factory.GetStandingCounter())
	summaries := entitlements.NewSummaryCache(rdb, checker, entitlements.DefaultSummaryTTL)
	pending := usage.NewPendingBuffer(rdb)
	recorder := usage.NewRecorder(subs, ledger, usage.WithBuffer(pending), usage.WithInvalidator(summaries))
	consumer := entitlements.NewConsumer(db, catalog, entitlements.WithConsumerInvalidator(summaries))

	// JOB QUEUE
	queue := jobqueue.NewQueue(rdb, env.GetEnvInt("JOBQUEUE_WORKERS", 3))
	generator := statement.NewGenerator(ledger, repos.Organization, subs, statementUploader())
	queue.Register(jobqueue.JobTypeUsageStatement, jobqueue.StatementHandler(generator))
	replayEvery := time.Duration(env.GetEnvInt("USAGE_REPLAY_INTERVAL_SECONDS", 30)) * time.Second
	manager := jobqueue.NewManager(queue, pending, ledger, replayEvery)
	scheduler := jobqueue.NewStatementScheduler(queue)

	sync := newSynchronizer(db, catalog, repos, scheduler, summaries)

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName:   "genesis",
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	app.Get(constants.HealthRoute, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// SWAGGER / OPENAPI
	if specPath, ok := findOpenAPISpec(); ok {
		app.Use(swagger.New(swagger.Config{
			BasePath: constants.DocsRoute,
			FilePath: specPath,
			Path:     "v1",
		}))
	}

	// ROUTER
	apiServer := apiv1.NewAPIServer(
		controllers.NewEntitlementController(checker),
		controllers.NewUsageController(summaries, recorder, consumer),
		controllers.NewAssetController(consumer, checker, repos.Asset, summaries),
		controllers.NewMemberController(consumer, repos.Member, summaries),
	)
	router.InstallRouter(app,
		router.NewWebhookRouter(controllers.NewBillingController(subs, sync, env.GetEnv("STRIPE_WEBHOOK_SECRET", ""))),
		router.NewApiRouter(apiServer, repos.Organization, router.LoadLimiterConfig()),
		router.NewAdminRouter(controllers.NewAdminController(repos.Organization, subs, summaries, scheduler), router.AdminUsersFromEnv()),
	)

	manager.Start()
	app.Hooks().OnShutdown(func() error {
		manager.Stop()
		return nil
	})

	return app
}

// loadCatalog builds the plan catalog from the built-in tiers, STRIPE_PRICE_IDS
// and the optional PLAN_CATALOG_FILE override.
func loadCatalog() (*plans.Catalog, error) {
	prices, err := plans.ParsePriceIDs(env.GetEnv("STRIPE_PRICE_IDS", ""))
	if err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		fiberlog.Warn("[Billing] STRIPE_PRICE_IDS is empty, every subscription event will be dropped")
	}
	if path := env.GetEnv("PLAN_CATALOG_FILE", ""); path != "" {
		return plans.LoadCatalogFile(path, plans.DefaultPlans(), prices)
	}
	return plans.NewCatalog(plans.DefaultPlans(), prices)
}

func newSynchronizer(db *gorm.DB, catalog *plans.Catalog, repos *repository.Repositories, scheduler billing.StatementScheduler, listener billing.ChangeListener) *billing.Synchronizer {
	opts := []billing.SyncOption{
		billing.WithFetcher(billing.NewStripeFetcher(env.GetEnv("STRIPE_SECRET_KEY", ""))),
		billing.WithStatementScheduler(scheduler),
		billing.WithChangeListener(listener),
	}
	if smtpCfg := mail.LoadSMTPConfig(); smtpCfg.Enabled() {
		opts = append(opts, billing.WithNotifier(mail.NewBillingNotifier(repos.Organization, mail.NewSMTPMailer(smtpCfg), catalog)))
	} else {
		fiberlog.Info("[Mail] SMTP_HOST not set, billing notices are disabled")
	}
	return billing.NewSynchronizer(billing.NewRepository(db), catalog, opts...)
}

// statementUploader returns the S3 client, or nil when archival is off.
func statementUploader() statement.Uploader {
	cfg, err := objectstore.LoadConfig()
	if err != nil {
		fiberlog.Errorf("[ObjectStore] invalid configuration, statements will not be archived: %v", err)
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, err := objectstore.NewClient(ctx, cfg)
	if errors.Is(err, objectstore.ErrDisabled) {
		fiberlog.Info("[ObjectStore] S3 statements are disabled")
		return nil
	}
	if err != nil {
		fiberlog.Errorf("[ObjectStore] could not connect, statements will not be archived: %v", err)
		return nil
	}
	return client
}

func findOpenAPISpec() (string, bool) {
	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/genesis to project root
		"../../../", // Fallback
	}
	for _, base := range basePaths {
		p := base + "public/docs/v1/openapi.yml"
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	fiberlog.Warn("[Docs] public/docs/v1/openapi.yml not found, API docs are disabled")
	return "", false
}
