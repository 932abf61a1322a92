package enforcement_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jfcalderon/rodarpay/internal/core/datamodel/device"
	"github.com/jfcalderon/rodarpay/internal/core/datamodel/invoice"
	tenantmodel "github.com/jfcalderon/rodarpay/internal/core/datamodel/tenant"
	"github.com/jfcalderon/rodarpay/internal/core/events"
	"github.com/jfcalderon/rodarpay/internal/enforcement"
	"github.com/jfcalderon/rodarpay/internal/tenant"
)

// Mock tenant source for testing
type mockTenantSource struct {
	configs []*tenant.Config
	err     error
}

func (m *mockTenantSource) ResolveAllWithAutoCutOff(ctx context.Context) ([]*tenant.Config, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.configs, nil
}

// Mock device repository for testing
type mockDeviceRepository struct {
	mu       sync.Mutex
	byTenant map[string][]*device.Device
	statuses map[string]int16
	setError error
}

func newMockDeviceRepository() *mockDeviceRepository {
	return &mockDeviceRepository{
		byTenant: make(map[string][]*device.Device),
		statuses: make(map[string]int16),
	}
}

func (m *mockDeviceRepository) add(d *device.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byTenant[d.TenantID] = append(m.byTenant[d.TenantID], d)
	m.statuses[d.ID] = d.CutOffStatus
}

func (m *mockDeviceRepository) GetActiveByTenant(tenantID string) ([]*device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active []*device.Device
	for _, d := range m.byTenant[tenantID] {
		if d.Active {
			active = append(active, d)
		}
	}
	return active, nil
}

func (m *mockDeviceRepository) SetCutOffStatus(deviceID string, status int16) error {
	if m.setError != nil {
		return m.setError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[deviceID] = status
	return nil
}

func (m *mockDeviceRepository) statusOf(deviceID string) int16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statuses[deviceID]
}

// Mock invoice lookup for testing
type mockInvoiceLookup struct {
	mu             sync.Mutex
	byDevice       map[string]*invoice.Invoice
	requestedDates []time.Time
	err            error
}

func newMockInvoiceLookup() *mockInvoiceLookup {
	return &mockInvoiceLookup{byDevice: make(map[string]*invoice.Invoice)}
}

func (m *mockInvoiceLookup) InvoiceForDeviceOnDate(deviceID string, date time.Time) (*invoice.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestedDates = append(m.requestedDates, date)
	if m.err != nil {
		return nil, m.err
	}
	return m.byDevice[deviceID], nil
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

var _ = Describe("Service", func() {
	var (
		service  *enforcement.Service
		tenants  *mockTenantSource
		devices  *mockDeviceRepository
		invoices *mockInvoiceLookup
		channel  *mockCommandChannel
		ctx      context.Context
		cfg      *tenant.Config
	)

	addDevice := func(id string, cutOffStatus int16, exempt bool) *device.Device {
		d := &device.Device{
			ID:           id,
			TenantID:     "demo",
			Active:       true,
			CutOffStatus: cutOffStatus,
			Exempt:       exempt,
		}
		devices.add(d)
		return d
	}

	unpaidInvoice := func(deviceID string) {
		invoices.byDevice[deviceID] = &invoice.Invoice{
			ID:       deviceID + "-unpaid",
			DeviceID: deviceID,
			DayType:  invoice.DayTypePending,
			Paid:     false,
		}
	}

	paidInvoice := func(deviceID string) {
		invoices.byDevice[deviceID] = &invoice.Invoice{
			ID:       deviceID + "-paid",
			DeviceID: deviceID,
			DayType:  invoice.DayTypePaid,
			Paid:     true,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		logger := quietLogger()
		tenants = &mockTenantSource{}
		devices = newMockDeviceRepository()
		invoices = newMockInvoiceLookup()
		channel = newMockCommandChannel()

		protocol := enforcement.NewRetryConfirmProtocol(channel, logger)
		service = enforcement.NewService(tenants, devices, invoices, protocol, events.NewEventBus(logger), logger)

		cfg = &tenant.Config{
			TenantID:            "demo",
			EnforcementStrategy: tenantmodel.StrategyToday,
			AutoCutOff:          true,
			MaxConfirmAttempts:  3,
			ConfirmInterval:     time.Millisecond,
		}
	})

	Describe("RunForTenant", func() {
		Context("when a device owes for the checked day", func() {
			It("should cut it off and persist flag 1 on confirmation", func() {
				addDevice("BIKE01", device.CutOffNone, false)
				unpaidInvoice("BIKE01")
				channel.confirmOnPoll(1)

				result := service.RunForTenant(ctx, cfg)

				Expect(result.CutOffConfirmed).To(Equal(1))
				Expect(devices.statusOf("BIKE01")).To(Equal(device.CutOffConfirmed))
				Expect(channel.sentCommands).To(ConsistOf(enforcement.CommandEngineStop))
			})

			It("should persist flag 2 when no poll ever confirms", func() {
				addDevice("BIKE01", device.CutOffNone, false)
				unpaidInvoice("BIKE01")

				result := service.RunForTenant(ctx, cfg)

				Expect(result.CutOffUnconfirm).To(Equal(1))
				Expect(devices.statusOf("BIKE01")).To(Equal(device.CutOffSent))
				Expect(channel.confirmPolls).To(Equal(3))
			})

			It("should persist flag 0 when the send itself fails", func() {
				addDevice("BIKE01", device.CutOffNone, false)
				unpaidInvoice("BIKE01")
				channel.sendError = errors.New("tracker unreachable")

				result := service.RunForTenant(ctx, cfg)

				Expect(result.SendFailures).To(Equal(1))
				Expect(devices.statusOf("BIKE01")).To(Equal(device.CutOffNone))
			})

			It("should not re-send to a device already confirmed off", func() {
				addDevice("BIKE01", device.CutOffConfirmed, false)
				unpaidInvoice("BIKE01")

				result := service.RunForTenant(ctx, cfg)

				Expect(result.Skipped).To(Equal(1))
				Expect(channel.sentCommands).To(BeEmpty())
			})
		})

		Context("when a device is exempt", func() {
			It("should skip it even if it owes", func() {
				addDevice("BIKE01", device.CutOffNone, true)
				unpaidInvoice("BIKE01")

				result := service.RunForTenant(ctx, cfg)

				Expect(result.Skipped).To(Equal(1))
				Expect(channel.sentCommands).To(BeEmpty())
			})

			It("should skip a cut-off exempt device without resuming it", func() {
				addDevice("BIKE01", device.CutOffConfirmed, true)
				paidInvoice("BIKE01")

				result := service.RunForTenant(ctx, cfg)

				Expect(result.Skipped).To(Equal(1))
				Expect(result.Resumed).To(Equal(0))
				Expect(devices.statusOf("BIKE01")).To(Equal(device.CutOffConfirmed))
			})
		})

		Context("when a device has no invoice for the checked day", func() {
			It("should treat it as up to date", func() {
				addDevice("BIKE01", device.CutOffNone, false)

				result := service.RunForTenant(ctx, cfg)

				Expect(result.Skipped).To(Equal(1))
				Expect(channel.sentCommands).To(BeEmpty())
			})
		})

		Context("when a cut-off device becomes current", func() {
			It("should resume it and clear the flag on confirmation", func() {
				addDevice("BIKE01", device.CutOffConfirmed, false)
				paidInvoice("BIKE01")
				channel.confirmOnPoll(1)

				result := service.RunForTenant(ctx, cfg)

				Expect(result.Resumed).To(Equal(1))
				Expect(devices.statusOf("BIKE01")).To(Equal(device.CutOffNone))
				Expect(channel.sentCommands).To(ConsistOf(enforcement.CommandEngineResume))
			})

			It("should keep the flag when the resume is unconfirmed", func() {
				addDevice("BIKE01", device.CutOffSent, false)
				paidInvoice("BIKE01")

				result := service.RunForTenant(ctx, cfg)

				Expect(result.Resumed).To(Equal(0))
				Expect(result.Errors).To(Equal(1))
				Expect(devices.statusOf("BIKE01")).To(Equal(device.CutOffSent))
			})
		})

		Context("when the strategy selects which day to check", func() {
			It("should check today's invoice under the today strategy", func() {
				addDevice("BIKE01", device.CutOffNone, false)

				service.RunForTenant(ctx, cfg)

				Expect(invoices.requestedDates).To(HaveLen(1))
				Expect(invoices.requestedDates[0]).To(Equal(midnightUTC(time.Now())))
			})

			It("should check yesterday's invoice under the yesterday strategy", func() {
				cfg.EnforcementStrategy = tenantmodel.StrategyYesterday
				addDevice("BIKE01", device.CutOffNone, false)

				service.RunForTenant(ctx, cfg)

				Expect(invoices.requestedDates).To(HaveLen(1))
				Expect(invoices.requestedDates[0]).To(Equal(midnightUTC(time.Now()).AddDate(0, 0, -1)))
			})

			It("should do nothing when enforcement is disabled", func() {
				cfg.EnforcementStrategy = tenantmodel.StrategyDisabled
				addDevice("BIKE01", device.CutOffNone, false)
				unpaidInvoice("BIKE01")

				result := service.RunForTenant(ctx, cfg)

				Expect(result.TenantsProcessed).To(Equal(0))
				Expect(channel.sentCommands).To(BeEmpty())
			})
		})

		Context("when only inactive devices exist", func() {
			It("should not touch them", func() {
				d := &device.Device{ID: "BIKE01", TenantID: "demo", Active: false}
				devices.add(d)
				unpaidInvoice("BIKE01")

				result := service.RunForTenant(ctx, cfg)

				Expect(result.Skipped).To(Equal(0))
				Expect(channel.sentCommands).To(BeEmpty())
			})
		})
	})

	Describe("PerformDailyCutOff", func() {
		It("should run every auto cut-off tenant except disabled ones", func() {
			tenants.configs = []*tenant.Config{
				cfg,
				{TenantID: "other", EnforcementStrategy: tenantmodel.StrategyDisabled},
			}
			addDevice("BIKE01", device.CutOffNone, false)
			unpaidInvoice("BIKE01")
			channel.confirmOnPoll(1)

			result, err := service.PerformDailyCutOff(ctx)

			Expect(err).ToNot(HaveOccurred())
			Expect(result.TenantsProcessed).To(Equal(1))
			Expect(result.CutOffConfirmed).To(Equal(1))
		})

		It("should surface tenant resolution failures", func() {
			tenants.err = errors.New("database down")

			_, err := service.PerformDailyCutOff(ctx)
			Expect(err).To(HaveOccurred())
		})
	})
})
