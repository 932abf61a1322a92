package enforcement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jfcalderon/rodarpay/internal/core/datamodel/device"
	"github.com/jfcalderon/rodarpay/internal/core/datamodel/invoice"
	tenantmodel "github.com/jfcalderon/rodarpay/internal/core/datamodel/tenant"
	"github.com/jfcalderon/rodarpay/internal/core/events"
	"github.com/jfcalderon/rodarpay/internal/tenant"
)

type DeviceRepositoryAPI interface {
	GetActiveByTenant(tenantID string) ([]*device.Device, error)
	SetCutOffStatus(deviceID string, status int16) error
}

// InvoiceLookupAPI answers "what does this device owe for that day". A nil
// invoice means none exists, which enforcement treats as up to date.
type InvoiceLookupAPI interface {
	InvoiceForDeviceOnDate(deviceID string, date time.Time) (*invoice.Invoice, error)
}

type TenantSourceAPI interface {
	ResolveAllWithAutoCutOff(ctx context.Context) ([]*tenant.Config, error)
}

// RunResult summarizes one enforcement pass.
type RunResult struct {
	TenantsProcessed int
	CutOffConfirmed  int
	CutOffUnconfirm  int
	SendFailures     int
	Resumed          int
	Skipped          int
	Errors           int
}

// Service decides which devices are delinquent each day and drives the
// cut-off and resume commands through the retry-confirm protocol.
type Service struct {
	tenants  TenantSourceAPI
	devices  DeviceRepositoryAPI
	invoices InvoiceLookupAPI
	protocol *RetryConfirmProtocol
	eventBus *events.EventBus
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(
	tenants TenantSourceAPI,
	devices DeviceRepositoryAPI,
	invoices InvoiceLookupAPI,
	protocol *RetryConfirmProtocol,
	eventBus *events.EventBus,
	logger *slog.Logger,
) *Service {
	return &Service{
		tenants:  tenants,
		devices:  devices,
		invoices: invoices,
		protocol: protocol,
		eventBus: eventBus,
		logger:   logger,
		now:      time.Now,
	}
}

// PerformDailyCutOff runs enforcement for every tenant with automatic
// cut-off enabled.
func (s *Service) PerformDailyCutOff(ctx context.Context) (*RunResult, error) {
	configs, err := s.tenants.ResolveAllWithAutoCutOff(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve enforcement tenants: %w", err)
	}

	result := &RunResult{}
	for _, cfg := range configs {
		if cfg.EnforcementStrategy == tenantmodel.StrategyDisabled {
			continue
		}
		result.TenantsProcessed++
		s.runTenant(ctx, cfg, result)
	}

	s.logger.Info("daily enforcement run complete",
		"tenants", result.TenantsProcessed,
		"cut_off_confirmed", result.CutOffConfirmed,
		"cut_off_unconfirmed", result.CutOffUnconfirm,
		"send_failures", result.SendFailures,
		"resumed", result.Resumed,
		"skipped", result.Skipped,
		"errors", result.Errors)

	return result, nil
}

// RunForTenant enforces one tenant's policy; used by per-tenant scheduled
// jobs that fire at the tenant's configured hour.
func (s *Service) RunForTenant(ctx context.Context, cfg *tenant.Config) *RunResult {
	result := &RunResult{}
	if cfg.EnforcementStrategy == tenantmodel.StrategyDisabled {
		return result
	}
	result.TenantsProcessed = 1
	s.runTenant(ctx, cfg, result)
	return result
}

func (s *Service) runTenant(ctx context.Context, cfg *tenant.Config, result *RunResult) {
	checkDate := s.checkDateFor(cfg.EnforcementStrategy)

	devices, err := s.devices.GetActiveByTenant(cfg.TenantID)
	if err != nil {
		s.logger.Error("failed to list devices for enforcement",
			"tenant_id", cfg.TenantID,
			"error", err)
		result.Errors++
		return
	}

	for _, d := range devices {
		// Exemption overrides everything, including a pending resume.
		if d.Exempt {
			result.Skipped++
			continue
		}

		upToDate, err := s.isUpToDate(d.ID, checkDate)
		if err != nil {
			s.logger.Error("failed to check invoice for enforcement",
				"device_id", d.ID,
				"date", checkDate.Format("2006-01-02"),
				"error", err)
			result.Errors++
			continue
		}

		if upToDate {
			if d.CutOffStatus != device.CutOffNone {
				s.resume(ctx, cfg, d, result)
			} else {
				result.Skipped++
			}
			continue
		}

		if d.CutOffStatus == device.CutOffConfirmed {
			// Already off; nothing to send.
			result.Skipped++
			continue
		}

		s.cutOff(ctx, cfg, d, result)
	}
}

// isUpToDate applies the delinquency test: no invoice for the checked date,
// a paid invoice, or a non-monetary resolution all count as current.
func (s *Service) isUpToDate(deviceID string, checkDate time.Time) (bool, error) {
	inv, err := s.invoices.InvoiceForDeviceOnDate(deviceID, checkDate)
	if err != nil {
		return false, err
	}
	if inv == nil {
		return true, nil
	}
	return inv.IsUpToDate(), nil
}

func (s *Service) cutOff(ctx context.Context, cfg *tenant.Config, d *device.Device, result *RunResult) {
	outcome := s.protocol.Execute(ctx, d.ID, CommandEngineStop, cfg.MaxConfirmAttempts, cfg.ConfirmInterval)

	var status int16
	switch {
	case outcome.SendFailed:
		status = device.CutOffNone
		result.SendFailures++
	case outcome.Confirmed:
		status = device.CutOffConfirmed
		result.CutOffConfirmed++
	default:
		status = device.CutOffSent
		result.CutOffUnconfirm++
	}

	if err := s.devices.SetCutOffStatus(d.ID, status); err != nil {
		s.logger.Error("failed to persist cut-off status",
			"device_id", d.ID,
			"status", status,
			"error", err)
		result.Errors++
		return
	}

	s.eventBus.Publish(ctx, events.NewDeviceEnforcementEvent(
		d.ID, cfg.TenantID, string(CommandEngineStop), status, outcome.Attempts))
}

func (s *Service) resume(ctx context.Context, cfg *tenant.Config, d *device.Device, result *RunResult) {
	outcome := s.protocol.Execute(ctx, d.ID, CommandEngineResume, cfg.MaxConfirmAttempts, cfg.ConfirmInterval)

	if !outcome.Confirmed {
		// Keep the current flag; the next run retries the resume.
		s.logger.Warn("resume command not confirmed",
			"device_id", d.ID,
			"send_failed", outcome.SendFailed,
			"attempts", outcome.Attempts)
		result.Errors++
		return
	}

	if err := s.devices.SetCutOffStatus(d.ID, device.CutOffNone); err != nil {
		s.logger.Error("failed to clear cut-off status",
			"device_id", d.ID,
			"error", err)
		result.Errors++
		return
	}
	result.Resumed++

	s.eventBus.Publish(ctx, events.NewDeviceEnforcementEvent(
		d.ID, cfg.TenantID, string(CommandEngineResume), device.CutOffNone, outcome.Attempts))
}

func (s *Service) checkDateFor(strategy string) time.Time {
	today := s.now().UTC()
	today = time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	if strategy == tenantmodel.StrategyYesterday {
		return today.AddDate(0, 0, -1)
	}
	return today
}
