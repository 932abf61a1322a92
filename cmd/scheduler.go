package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jfcalderon/rodarpay/internal"
	"github.com/jfcalderon/rodarpay/internal/enforcement"
	"github.com/jfcalderon/rodarpay/internal/enforcement/tracker"
	"github.com/jfcalderon/rodarpay/internal/invoicing"
	"github.com/jfcalderon/rodarpay/internal/scheduler"
	"github.com/jfcalderon/rodarpay/internal/settlement"
	"github.com/jfcalderon/rodarpay/internal/tenant"
	"github.com/jfcalderon/rodarpay/pkg/logger"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Start the billing scheduler",
	Long:  `Run the daily invoice generation, payment recovery sweep, and per-tenant enforcement jobs`,
	Run: func(cmd *cobra.Command, args []string) {
		startScheduler()
	},
}

func startScheduler() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(os.Getenv("APP_ENV"))
	log := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	gormDB, err := initGorm(db)
	if err != nil {
		log.Error("failed to initialize orm", "error", err)
		os.Exit(1)
	}

	core, err := buildCoreServices(config, gormDB, log)
	if err != nil {
		log.Error("failed to build core services", "error", err)
		os.Exit(1)
	}

	registry := scheduler.NewRegistry()

	hour, minute, err := parseClock(config.Scheduler.InvoiceGeneration)
	if err != nil {
		log.Error("invalid invoice generation time", "value", config.Scheduler.InvoiceGeneration, "error", err)
		os.Exit(1)
	}
	registry.ScheduleDaily("invoicing.daily-generation", hour, minute,
		invoicing.NewScheduler(core.Invoicing, log))

	sweeper := settlement.NewRecoverySweeper(core.Payments, core.GatewayClient, core.Engine, log)
	registry.ScheduleEvery("settlement.recovery-sweep", config.Scheduler.RecoveryOlderThan, scheduler.JobFunc{
		JobName: "settlement.recovery-sweep",
		Fn: func(ctx context.Context) error {
			_, err := sweeper.RecoverPendingPayments(ctx, config.Scheduler.RecoveryOlderThan)
			return err
		},
	})

	if config.Scheduler.EnforcementEnabled {
		channel := tracker.NewChannel(tracker.ChannelConfig{
			APIURL:         config.Enforcement.Tracker.APIURL,
			APIToken:       config.Enforcement.Tracker.APIToken,
			RequestTimeout: config.Enforcement.Tracker.RequestTimeout,
		}, log)
		protocol := enforcement.NewRetryConfirmProtocol(channel, log)
		enforcer := enforcement.NewService(core.TenantResolver, core.Devices, core.Invoicing, protocol, core.EventBus, log)

		registerEnforcementJobs(registry, enforcer, core.TenantResolver, config)
		// Re-resolve tenant policies each hour so new tenants and changed
		// cut-off hours take effect without a restart.
		registry.ScheduleEvery("enforcement.refresh-tenants", enforcementRefreshInterval, scheduler.JobFunc{
			JobName: "enforcement.refresh-tenants",
			Fn: func(ctx context.Context) error {
				return registerEnforcementJobs(registry, enforcer, core.TenantResolver, config)
			},
		})
	}

	runner := scheduler.NewRunner(registry, config.Scheduler.TickInterval, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runner.Run(ctx); err != nil && err != context.Canceled {
		log.Error("scheduler stopped with error", "error", err)
		os.Exit(1)
	}
}

const enforcementRefreshInterval = time.Hour

// enforcementJobIDs remembers which per-tenant jobs exist so stale ones can
// be canceled when a tenant disables automatic cut-off.
var enforcementJobIDs = map[string]struct{}{}

func registerEnforcementJobs(registry *scheduler.Registry, enforcer *enforcement.Service, resolver *tenant.Resolver, config *internal.Config) error {
	ctx := context.Background()
	configs, err := resolver.ResolveAllWithAutoCutOff(ctx)
	if err != nil {
		return fmt.Errorf("resolve enforcement tenants: %w", err)
	}

	seen := map[string]struct{}{}
	for _, tc := range configs {
		tenantID := tc.TenantID
		hour := tc.CutOffHour
		if hour < 0 || hour > 23 {
			hour = config.Enforcement.DefaultCutOffHour
		}

		jobID := "enforcement.tenant." + tenantID
		seen[jobID] = struct{}{}
		// The tenant config is resolved again when the job fires, so a
		// policy change between registration and run is honored.
		registry.ScheduleDaily(jobID, hour, 0, scheduler.JobFunc{
			JobName: jobID,
			Fn: func(ctx context.Context) error {
				cfg, err := resolver.Resolve(ctx, tenantID)
				if err != nil {
					return fmt.Errorf("resolve tenant %s: %w", tenantID, err)
				}
				enforcer.RunForTenant(ctx, cfg)
				return nil
			},
		})
	}

	for jobID := range enforcementJobIDs {
		if _, ok := seen[jobID]; !ok {
			registry.Cancel(jobID)
		}
	}
	enforcementJobIDs = seen
	return nil
}

// parseClock splits an "HH:MM" wall-clock string.
func parseClock(value string) (hour, minute int, err error) {
	parts := strings.SplitN(value, ":", 2)
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", value)
	}
	if len(parts) == 2 {
		minute, err = strconv.Atoi(parts[1])
		if err != nil || minute < 0 || minute > 59 {
			return 0, 0, fmt.Errorf("invalid minute in %q", value)
		}
	}
	return hour, minute, nil
}
