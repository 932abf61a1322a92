package invoicing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/jfcalderon/rodarpay/internal/core/datamodel/device"
	"github.com/jfcalderon/rodarpay/internal/core/datamodel/invoice"
)

// InvoiceRepositoryAPI is the invoice store. The compound uniqueness on
// (device, date) belongs to the storage layer; Create surfaces the violation
// and the service treats it as "already exists".
type InvoiceRepositoryAPI interface {
	Create(inv *invoice.Invoice) error
	GetByID(id string) (*invoice.Invoice, error)
	GetByDeviceAndDate(deviceID string, date time.Time) (*invoice.Invoice, error)
	GetOldestUnpaidForDevice(deviceID string) (*invoice.Invoice, error)
}

type DeviceRepositoryAPI interface {
	GetByID(id string) (*device.Device, error)
	GetActive() ([]*device.Device, error)
}

// GenerationResult summarizes one daily generation run.
type GenerationResult struct {
	Created  int
	Existing int
	Skipped  int
}

// Service owns the daily billing obligations: one invoice per active device
// per calendar day.
type Service struct {
	invoices InvoiceRepositoryAPI
	devices  DeviceRepositoryAPI
	logger   *slog.Logger
}

func NewService(invoices InvoiceRepositoryAPI, devices DeviceRepositoryAPI, logger *slog.Logger) *Service {
	return &Service{
		invoices: invoices,
		devices:  devices,
		logger:   logger,
	}
}

// GenerateDailyInvoices ensures every active device has an invoice for the
// given day. Safe to run more than once per day and safe to run late; the
// compound key absorbs re-runs.
func (s *Service) GenerateDailyInvoices(ctx context.Context, today time.Time) (*GenerationResult, error) {
	day := truncateToDay(today)

	devices, err := s.devices.GetActive()
	if err != nil {
		return nil, fmt.Errorf("list active devices: %w", err)
	}

	result := &GenerationResult{}
	for _, d := range devices {
		if d.DailyRateInCents <= 0 {
			// Data-quality problem, not a failure: the device is active but
			// nobody configured a rate for it.
			s.logger.Warn("skipping device with no daily rate",
				"device_id", d.ID,
				"tenant_id", d.TenantID)
			result.Skipped++
			continue
		}

		created, err := s.findOrCreate(d, day)
		if err != nil {
			s.logger.Error("failed to ensure invoice for device",
				"device_id", d.ID,
				"date", day.Format("2006-01-02"),
				"error", err)
			result.Skipped++
			continue
		}
		if created {
			result.Created++
		} else {
			result.Existing++
		}
	}

	s.logger.Info("daily invoice generation complete",
		"date", day.Format("2006-01-02"),
		"created", result.Created,
		"existing", result.Existing,
		"skipped", result.Skipped)

	return result, nil
}

// CurrentUnpaidForDevice returns the device's oldest unpaid invoice, lazily
// creating today's when the device owes nothing yet. This is the invoice a
// new payment intent charges and the one enforcement inspects.
func (s *Service) CurrentUnpaidForDevice(ctx context.Context, deviceID string, today time.Time) (*invoice.Invoice, error) {
	inv, err := s.invoices.GetOldestUnpaidForDevice(deviceID)
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find oldest unpaid invoice for %s: %w", deviceID, err)
	}

	d, err := s.devices.GetByID(deviceID)
	if err != nil {
		return nil, fmt.Errorf("device %s not found: %w", deviceID, err)
	}
	if d.DailyRateInCents <= 0 {
		return nil, fmt.Errorf("device %s has no configured daily rate", deviceID)
	}

	day := truncateToDay(today)
	if _, err := s.findOrCreate(d, day); err != nil {
		return nil, err
	}
	return s.invoices.GetByDeviceAndDate(deviceID, day)
}

// InvoiceForDeviceOnDate returns the invoice for a device on a specific day,
// or nil when none exists. Absence is meaningful to enforcement, not an error.
func (s *Service) InvoiceForDeviceOnDate(deviceID string, date time.Time) (*invoice.Invoice, error) {
	inv, err := s.invoices.GetByDeviceAndDate(deviceID, truncateToDay(date))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return inv, nil
}

func (s *Service) findOrCreate(d *device.Device, day time.Time) (bool, error) {
	if _, err := s.invoices.GetByDeviceAndDate(d.ID, day); err == nil {
		return false, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("look up invoice for %s: %w", d.ID, err)
	}

	inv := &invoice.Invoice{
		ID:            invoice.BuildID(d.ID, day),
		DeviceID:      d.ID,
		InvoiceDate:   day,
		TenantID:      d.TenantID,
		ContractID:    d.ContractID,
		AmountInCents: d.DailyRateInCents,
		Currency:      "COP",
		DayType:       invoice.DayTypePending,
	}

	if err := s.invoices.Create(inv); err != nil {
		if isDuplicateKey(err) {
			// Another run won the race; that is the idempotency working.
			return false, nil
		}
		return false, fmt.Errorf("create invoice %s: %w", inv.ID, err)
	}
	return true, nil
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}
