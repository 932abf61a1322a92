package cmd

import (
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jfcalderon/rodarpay/internal"
	"github.com/jfcalderon/rodarpay/internal/core/events"
	enforcementpg "github.com/jfcalderon/rodarpay/internal/enforcement/postgres"
	"github.com/jfcalderon/rodarpay/internal/gateway"
	"github.com/jfcalderon/rodarpay/internal/gateway/wompi"
	"github.com/jfcalderon/rodarpay/internal/invoicing"
	invoicingpg "github.com/jfcalderon/rodarpay/internal/invoicing/postgres"
	"github.com/jfcalderon/rodarpay/internal/settlement"
	settlementpg "github.com/jfcalderon/rodarpay/internal/settlement/postgres"
	"github.com/jfcalderon/rodarpay/internal/tenant"
	tenantpg "github.com/jfcalderon/rodarpay/internal/tenant/postgres"
)

// coreServices is the domain wiring shared by the server and scheduler
// commands: repositories over one database handle, the gateway adapter, and
// the settlement engine with its ledger.
type coreServices struct {
	EventBus       *events.EventBus
	Adapter        gateway.Adapter
	GatewayClient  *wompi.Client
	Payments       settlement.PaymentRepositoryAPI
	WebhookEvents  settlement.WebhookEventRepositoryAPI
	Invoices       *invoicingpg.InvoiceRepository
	Devices        *enforcementpg.DeviceRepository
	TenantResolver *tenant.Resolver
	Invoicing      *invoicing.Service
	Engine         *settlement.Engine
	Ledger         *settlement.Ledger
}

func buildCoreServices(cfg *internal.Config, gormDB *gorm.DB, log *slog.Logger) (*coreServices, error) {
	eventBus := events.NewEventBus(log)

	factory := gateway.NewFactory(log, wompi.NewAdapter(log))
	adapter, err := factory.ForProvider(wompi.ProviderName)
	if err != nil {
		return nil, fmt.Errorf("resolve gateway adapter: %w", err)
	}

	gatewayClient := wompi.NewClient(wompi.ClientConfig{
		APIURL:         cfg.Gateway.APIURL,
		PrivateKey:     cfg.Gateway.PrivateKey,
		RequestTimeout: cfg.Gateway.RequestTimeout,
	}, log)

	payments := settlementpg.NewPaymentRepository(gormDB)
	webhookEvents := settlementpg.NewWebhookEventRepository(gormDB)
	invoices := invoicingpg.NewInvoiceRepository(gormDB)
	devices := enforcementpg.NewDeviceRepository(gormDB)

	resolver := tenant.NewResolver(tenantpg.NewTenantRepository(gormDB), tenant.Defaults{
		EventsSecret:       cfg.Gateway.EventsSecret,
		MaxConfirmAttempts: cfg.Enforcement.MaxConfirmAttempts,
		ConfirmInterval:    cfg.Enforcement.ConfirmInterval,
	}, log)

	invoicingService := invoicing.NewService(invoices, devices, log)
	engine := settlement.NewEngine(payments, invoices, adapter, eventBus, log)
	ledger := settlement.NewLedger(webhookEvents, log)

	return &coreServices{
		EventBus:       eventBus,
		Adapter:        adapter,
		GatewayClient:  gatewayClient,
		Payments:       payments,
		WebhookEvents:  webhookEvents,
		Invoices:       invoices,
		Devices:        devices,
		TenantResolver: resolver,
		Invoicing:      invoicingService,
		Engine:         engine,
		Ledger:         ledger,
	}, nil
}

// initDB opens the pgx connection pool used for health checks and migrations.
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm layers gorm over the already-open pgx pool so both handles share
// one set of connections.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm over pgx pool: %w", err)
	}
	return gormDB, nil
}
