package settlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/jfcalderon/rodarpay/internal/gateway/wompi"
)

// GatewayQueryAPI is the direct gateway lookup the sweep uses, bypassing the
// webhook path entirely.
type GatewayQueryAPI interface {
	GetTransactionByReference(ctx context.Context, reference string) (*wompi.Transaction, error)
}

type RecoveryOutcome string

const (
	RecoveryUpdated   RecoveryOutcome = "updated"
	RecoveryUnchanged RecoveryOutcome = "unchanged"
	RecoveryError     RecoveryOutcome = "error"
)

type RecoveryResult struct {
	PaymentID string          `json:"payment_id"`
	Reference string          `json:"reference"`
	Outcome   RecoveryOutcome `json:"outcome"`
	Detail    string          `json:"detail,omitempty"`
}

// RecoverySweeper is the compensating control for lost webhooks: it asks the
// gateway for the authoritative status of stale PENDING payments and applies
// whatever the gateway reports. It is not gated by the event ledger because
// it is an explicit out-of-band check, not a delivery.
type RecoverySweeper struct {
	payments PaymentRepositoryAPI
	gateway  GatewayQueryAPI
	engine   *Engine
	logger   *slog.Logger
}

func NewRecoverySweeper(payments PaymentRepositoryAPI, gatewayClient GatewayQueryAPI, engine *Engine, logger *slog.Logger) *RecoverySweeper {
	return &RecoverySweeper{
		payments: payments,
		gateway:  gatewayClient,
		engine:   engine,
		logger:   logger,
	}
}

// RecoverPendingPayments checks every payment still PENDING and older than
// the threshold. One failing payment never aborts the sweep for the rest;
// each gets its own entry in the result list.
func (s *RecoverySweeper) RecoverPendingPayments(ctx context.Context, olderThan time.Duration) ([]RecoveryResult, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	pending, err := s.payments.GetPendingOlderThan(cutoff)
	if err != nil {
		return nil, err
	}

	s.logger.Info("recovery sweep starting",
		"pending_count", len(pending),
		"older_than", olderThan.String())

	results := make([]RecoveryResult, 0, len(pending))
	for _, p := range pending {
		results = append(results, s.recoverOne(ctx, p.ID, p.Reference, p.Status))
	}

	return results, nil
}

func (s *RecoverySweeper) recoverOne(ctx context.Context, paymentID, reference, localStatus string) RecoveryResult {
	result := RecoveryResult{PaymentID: paymentID, Reference: reference}

	txn, err := s.gateway.GetTransactionByReference(ctx, reference)
	if err != nil {
		s.logger.Error("gateway lookup failed during recovery",
			"reference", reference,
			"error", err)
		result.Outcome = RecoveryError
		result.Detail = err.Error()
		return result
	}
	if txn == nil {
		result.Outcome = RecoveryUnchanged
		result.Detail = "gateway has no transaction for reference"
		return result
	}

	if s.engine.adapter.MapStatus(txn.Status) == localStatus {
		result.Outcome = RecoveryUnchanged
		return result
	}

	update := GatewayUpdate{
		Reference:     reference,
		GatewayStatus: txn.Status,
		GatewayTxnID:  txn.ID,
		AmountInCents: txn.AmountInCents,
		PaymentMethod: txn.PaymentMethod,
		FinalizedAt:   txn.FinalizedAt,
	}

	settleResult, err := s.engine.Settle(ctx, update, "recovery")
	if err != nil {
		s.logger.Error("settlement failed during recovery",
			"reference", reference,
			"error", err)
		result.Outcome = RecoveryError
		result.Detail = err.Error()
		return result
	}

	switch settleResult.Outcome {
	case OutcomeApplied:
		result.Outcome = RecoveryUpdated
	default:
		result.Outcome = RecoveryUnchanged
		result.Detail = string(settleResult.Outcome)
	}
	return result
}
