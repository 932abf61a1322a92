package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jfcalderon/rodarpay/internal/core/common/validation"
	"github.com/jfcalderon/rodarpay/internal/core/datamodel/invoice"
	"github.com/jfcalderon/rodarpay/internal/core/datamodel/payment"
)

// InvoiceProviderAPI yields the invoice a new payment should target: the
// device's oldest unpaid invoice, lazily creating today's when none exists.
type InvoiceProviderAPI interface {
	CurrentUnpaidForDevice(ctx context.Context, deviceID string, today time.Time) (*invoice.Invoice, error)
}

// IntentService creates the PENDING payment a checkout charges against. Its
// reference equals the invoice id, which is how the webhook later correlates
// the gateway transaction back to the obligation.
type IntentService struct {
	payments PaymentRepositoryAPI
	invoices InvoiceProviderAPI
	logger   *slog.Logger
}

func NewIntentService(payments PaymentRepositoryAPI, invoices InvoiceProviderAPI, logger *slog.Logger) *IntentService {
	return &IntentService{
		payments: payments,
		invoices: invoices,
		logger:   logger,
	}
}

func (s *IntentService) CreateIntent(ctx context.Context, deviceID string) (*IntentResponse, error) {
	inv, err := s.invoices.CurrentUnpaidForDevice(ctx, deviceID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("find current unpaid invoice for device %s: %w", deviceID, err)
	}

	if appErr := validation.ValidateAmount(inv.AmountInCents); appErr != nil {
		return nil, fmt.Errorf("invoice %s is not chargeable: %w", inv.ID, appErr)
	}

	// One payment per invoice: reuse the existing row so retried checkouts
	// keep the same reference.
	if existing, err := s.payments.GetByReference(inv.ID); err == nil {
		s.logger.Info("reusing existing payment for intent",
			"device_id", deviceID,
			"reference", existing.Reference,
			"status", existing.Status)
		return intentResponse(existing, inv), nil
	}

	p := &payment.Payment{
		ID:            payment.NewID(inv.DeviceID, inv.InvoiceDate),
		Reference:     inv.ID,
		InvoiceID:     inv.ID,
		DeviceID:      inv.DeviceID,
		TenantID:      inv.TenantID,
		AmountInCents: inv.AmountInCents,
		Currency:      inv.Currency,
		Status:        payment.StatusPending,
	}

	if err := s.payments.Create(p); err != nil {
		if isDuplicateKey(err) {
			// Concurrent intent creation; the first writer wins.
			existing, getErr := s.payments.GetByReference(inv.ID)
			if getErr == nil {
				return intentResponse(existing, inv), nil
			}
		}
		return nil, fmt.Errorf("create payment for invoice %s: %w", inv.ID, err)
	}

	s.logger.Info("payment intent created",
		"device_id", deviceID,
		"payment_id", p.ID,
		"reference", p.Reference,
		"amount_in_cents", p.AmountInCents)

	return intentResponse(p, inv), nil
}

func intentResponse(p *payment.Payment, inv *invoice.Invoice) *IntentResponse {
	return &IntentResponse{
		PaymentID:     p.ID,
		Reference:     p.Reference,
		InvoiceID:     inv.ID,
		InvoiceDate:   inv.InvoiceDate,
		AmountInCents: p.AmountInCents,
		Currency:      p.Currency,
	}
}
