package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/jfcalderon/rodarpay/internal/core/datamodel/invoice"
	"github.com/jfcalderon/rodarpay/internal/core/datamodel/payment"
	"github.com/jfcalderon/rodarpay/internal/core/events"
	"github.com/jfcalderon/rodarpay/internal/gateway"
)

// PaymentRepositoryAPI is the payment store as the settlement engine needs it.
// UpdateStatusUnlessApproved and ClaimForApplication are atomic conditional
// writes; webhook handling and scheduler sweeps race on these rows.
type PaymentRepositoryAPI interface {
	Create(p *payment.Payment) error
	GetByReference(reference string) (*payment.Payment, error)
	GetPendingOlderThan(cutoff time.Time) ([]*payment.Payment, error)
	UpdateStatusUnlessApproved(id, status string, gatewayTxnID *string, method json.RawMessage, finalizedAt *time.Time) (bool, error)
	ClaimForApplication(id string) (bool, error)
	RecordVerification(v *payment.Verification) error
}

// InvoiceStoreAPI is the slice of the invoice store the engine writes to.
type InvoiceStoreAPI interface {
	GetByID(id string) (*invoice.Invoice, error)
	ApplySettlement(id, dayType string, paid bool, paidAmountInCents int64, gatewayTxnID, settlementRef *string, finalizedAt *time.Time) error
}

// GatewayUpdate is one authoritative status report for a payment reference,
// either from a verified webhook or from the recovery sweep querying the
// gateway directly.
type GatewayUpdate struct {
	Reference     string
	GatewayStatus string
	GatewayTxnID  string
	AmountInCents int64
	PaymentMethod json.RawMessage
	FinalizedAt   *time.Time
}

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeNoPayment Outcome = "no_payment"
	OutcomeRejected  Outcome = "rejected"
)

type SettleResult struct {
	Outcome Outcome
	Payment *payment.Payment
	Invoice *invoice.Invoice
}

// Engine applies gateway status reports to payments and their invoices.
// Transitions are monotonic: APPROVED is absorbing and enforced both here and
// by the conditional update in the store.
type Engine struct {
	payments PaymentRepositoryAPI
	invoices InvoiceStoreAPI
	adapter  gateway.Adapter
	eventBus *events.EventBus
	logger   *slog.Logger
}

func NewEngine(payments PaymentRepositoryAPI, invoices InvoiceStoreAPI, adapter gateway.Adapter, eventBus *events.EventBus, logger *slog.Logger) *Engine {
	return &Engine{
		payments: payments,
		invoices: invoices,
		adapter:  adapter,
		eventBus: eventBus,
		logger:   logger,
	}
}

// Settle runs the full transition for one gateway update. source tags the
// verification audit row ("webhook" or "recovery").
func (e *Engine) Settle(ctx context.Context, update GatewayUpdate, source string) (*SettleResult, error) {
	p, err := e.payments.GetByReference(update.Reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Out-of-order or foreign events are expected; nothing to settle.
			e.logger.Warn("no payment for webhook reference, skipping",
				"reference", update.Reference,
				"gateway_status", update.GatewayStatus,
				"source", source)
			return &SettleResult{Outcome: OutcomeNoPayment}, nil
		}
		// A store failure must not be mistaken for a missing correlation;
		// the caller keeps the event unprocessed and retries later.
		return nil, fmt.Errorf("load payment for reference %s: %w", update.Reference, err)
	}

	newStatus := e.adapter.MapStatus(update.GatewayStatus)

	if p.Status == payment.StatusApproved && newStatus != payment.StatusApproved {
		e.logger.Warn("rejecting transition away from APPROVED",
			"reference", update.Reference,
			"current_status", p.Status,
			"gateway_status", update.GatewayStatus)
		e.recordVerification(p, update.GatewayStatus, p.Status, source)
		return &SettleResult{Outcome: OutcomeRejected, Payment: p}, nil
	}

	if newStatus == p.Status {
		e.recordVerification(p, update.GatewayStatus, p.Status, source)
		return &SettleResult{Outcome: OutcomeUnchanged, Payment: p}, nil
	}

	var gatewayTxnID *string
	if update.GatewayTxnID != "" {
		gatewayTxnID = &update.GatewayTxnID
	}

	finalizedAt := update.FinalizedAt
	if finalizedAt == nil && payment.IsFinal(newStatus) {
		now := time.Now().UTC()
		finalizedAt = &now
	}

	updated, err := e.payments.UpdateStatusUnlessApproved(p.ID, newStatus, gatewayTxnID, update.PaymentMethod, finalizedAt)
	if err != nil {
		return nil, fmt.Errorf("update payment %s status: %w", p.ID, err)
	}
	if !updated {
		// A concurrent delivery settled this payment first. Re-read so the
		// audit row carries the status that actually won, not a guess.
		e.logger.Info("payment already settled concurrently", "reference", update.Reference)
		if current, readErr := e.payments.GetByReference(update.Reference); readErr == nil {
			p = current
		}
		e.recordVerification(p, update.GatewayStatus, p.Status, source)
		return &SettleResult{Outcome: OutcomeUnchanged, Payment: p}, nil
	}
	p.Status = newStatus
	p.GatewayTxnID = gatewayTxnID
	p.FinalizedAt = finalizedAt

	inv, appliedNow, err := e.applyToInvoice(p, newStatus, gatewayTxnID, finalizedAt)
	if err != nil {
		return nil, err
	}

	if appliedNow {
		e.eventBus.Publish(ctx, events.NewPaymentUpdatedEvent(p, inv))
	}
	e.recordVerification(p, update.GatewayStatus, newStatus, source)

	e.logger.Info("settlement applied",
		"reference", update.Reference,
		"payment_status", newStatus,
		"source", source)

	return &SettleResult{Outcome: OutcomeApplied, Payment: p, Invoice: inv}, nil
}

// applyToInvoice mirrors the payment transition onto the linked invoice.
func (e *Engine) applyToInvoice(p *payment.Payment, newStatus string, gatewayTxnID *string, finalizedAt *time.Time) (*invoice.Invoice, bool, error) {
	dayType := deriveDayType(newStatus)
	if dayType == "" {
		return nil, false, nil
	}

	paid := newStatus == payment.StatusApproved
	paidAmount := int64(0)
	if paid {
		// The claim flips used=false to true atomically; only the winner may
		// mark the invoice paid, so an invoice is never paid twice. Failure
		// day types are idempotent writes and do not consume the claim.
		claimed, err := e.payments.ClaimForApplication(p.ID)
		if err != nil {
			return nil, false, fmt.Errorf("claim payment %s: %w", p.ID, err)
		}
		if !claimed {
			e.logger.Info("payment already applied to invoice", "payment_id", p.ID)
			inv, err := e.invoices.GetByID(p.InvoiceID)
			if err != nil {
				return nil, false, fmt.Errorf("load invoice %s: %w", p.InvoiceID, err)
			}
			return inv, false, nil
		}
		paidAmount = p.AmountInCents
	}

	settlementRef := p.Reference
	if err := e.invoices.ApplySettlement(p.InvoiceID, dayType, paid, paidAmount, gatewayTxnID, &settlementRef, finalizedAt); err != nil {
		return nil, false, fmt.Errorf("apply settlement to invoice %s: %w", p.InvoiceID, err)
	}

	inv, err := e.invoices.GetByID(p.InvoiceID)
	if err != nil {
		return nil, false, fmt.Errorf("load invoice %s: %w", p.InvoiceID, err)
	}
	return inv, true, nil
}

func (e *Engine) recordVerification(p *payment.Payment, gatewayStatus, localStatus, source string) {
	v := &payment.Verification{
		PaymentID:     p.ID,
		Reference:     p.Reference,
		GatewayStatus: gatewayStatus,
		LocalStatus:   localStatus,
		Match:         e.adapter.MapStatus(gatewayStatus) == localStatus,
		Source:        source,
		CheckedAt:     time.Now().UTC(),
	}
	if err := e.payments.RecordVerification(v); err != nil {
		// Audit rows are observability, not correctness.
		e.logger.Error("failed to record verification row",
			"payment_id", p.ID,
			"error", err)
	}
}

// deriveDayType maps a terminal payment status to the invoice day type it
// implies. Non-terminal statuses leave the invoice alone.
func deriveDayType(status string) string {
	switch status {
	case payment.StatusApproved:
		return invoice.DayTypePaid
	case payment.StatusDeclined:
		return invoice.DayTypeDeclined
	case payment.StatusVoided:
		return invoice.DayTypeVoided
	case payment.StatusError:
		return invoice.DayTypeError
	default:
		return ""
	}
}
