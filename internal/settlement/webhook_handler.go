package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/jfcalderon/rodarpay/internal"
	"github.com/jfcalderon/rodarpay/internal/core/datamodel/webhookevent"
	"github.com/jfcalderon/rodarpay/internal/gateway"
	"github.com/jfcalderon/rodarpay/internal/gateway/wompi"
	"github.com/jfcalderon/rodarpay/internal/tenant"
	"github.com/jfcalderon/rodarpay/internal/transport"
)

// WebhookHandler terminates the gateway's event endpoint. It acknowledges
// durably recorded events immediately and runs settlement out-of-band; the
// gateway's redelivery behavior depends on a fast 200.
type WebhookHandler struct {
	*transport.BaseHandler
	engine        *Engine
	ledger        *Ledger
	payments      PaymentRepositoryAPI
	adapter       gateway.Adapter
	resolver      tenant.ConfigResolver
	defaultSecret string
	logger        *slog.Logger
}

func NewWebhookHandler(
	baseHandler *transport.BaseHandler,
	engine *Engine,
	ledger *Ledger,
	payments PaymentRepositoryAPI,
	adapter gateway.Adapter,
	resolver tenant.ConfigResolver,
	defaultSecret string,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler:   baseHandler,
		engine:        engine,
		ledger:        ledger,
		payments:      payments,
		adapter:       adapter,
		resolver:      resolver,
		defaultSecret: defaultSecret,
		logger:        logger,
	}
}

type webhookAckResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (h *WebhookHandler) HandleGatewayEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	payload, err := gateway.ParseWebhookPayload(body)
	if err != nil {
		h.logger.Warn("malformed webhook payload", "error", err)
		h.WriteError(w, http.StatusBadRequest, "malformed webhook payload")
		return
	}

	if payload.Event != wompi.EventTransactionUpdated {
		h.logger.Info("ignoring webhook event type", "event", payload.Event)
		h.WriteJSON(w, http.StatusOK, webhookAckResponse{Status: "ignored"})
		return
	}

	reference, err := h.adapter.ExtractReference(payload)
	if err != nil {
		h.logger.Warn("webhook missing transaction reference", "error", err)
		h.WriteError(w, http.StatusBadRequest, "missing transaction reference")
		return
	}

	secret, tenantID, err := h.resolveSecret(r.Context(), reference)
	if err != nil {
		h.logger.Error("failed to resolve integrity secret", "reference", reference, "error", err)
		h.WriteError(w, http.StatusInternalServerError, "failed to resolve integrity secret")
		return
	}
	result := h.adapter.VerifySignature(payload, secret)
	if !result.Valid {
		h.logger.Warn("webhook signature rejected",
			"reference", reference,
			"reason", result.Reason)
		h.WriteError(w, http.StatusForbidden, "signature verification failed")
		return
	}

	transactionID, _ := payload.Data.Transaction["id"].(string)
	gatewayStatus, _ := payload.Data.Transaction["status"].(string)

	event := &webhookevent.WebhookEvent{
		ID:            webhookevent.BuildID(payload.Event, transactionID, payload.Timestamp),
		EventType:     payload.Event,
		TransactionID: transactionID,
		Reference:     reference,
		Status:        gatewayStatus,
		Checksum:      payload.Signature.Checksum,
		RawPayload:    body,
		ReceivedAt:    time.Now().UTC(),
	}

	newlyRecorded, err := h.ledger.RecordIfNew(event)
	if err != nil {
		h.logger.Error("failed to record webhook event", "event_id", event.ID, "error", err)
		h.WriteError(w, http.StatusInternalServerError, "failed to record event")
		return
	}
	if !newlyRecorded {
		h.WriteJSON(w, http.StatusOK, webhookAckResponse{Status: "duplicate"})
		return
	}

	// Acknowledge before settling; the transition runs out-of-band.
	h.WriteJSON(w, http.StatusOK, webhookAckResponse{Status: "received"})

	update := buildGatewayUpdate(payload, reference, transactionID, gatewayStatus)
	go h.settle(internal.ContextWithTenantID(context.Background(), tenantID), event.ID, update)
}

func (h *WebhookHandler) settle(ctx context.Context, eventID string, update GatewayUpdate) {
	ctx, cancel := internal.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := h.engine.Settle(ctx, update, "webhook"); err != nil {
		// Leave the event unprocessed; the recovery pass re-attempts it.
		h.logger.Error("settlement failed for webhook event",
			"event_id", eventID,
			"tenant_id", internal.TenantIDFromContext(ctx),
			"reference", update.Reference,
			"error", err)
		return
	}

	if err := h.ledger.MarkProcessed(eventID); err != nil {
		h.logger.Error("failed to mark webhook event processed",
			"event_id", eventID,
			"error", err)
	}
}

// resolveSecret picks the integrity secret for a reference by following the
// local payment to its tenant. References with no local payment verify
// against the platform default secret; a store failure is returned so the
// caller can refuse the delivery instead of rejecting a valid signature.
func (h *WebhookHandler) resolveSecret(ctx context.Context, reference string) (string, string, error) {
	p, err := h.payments.GetByReference(reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return h.defaultSecret, "", nil
		}
		return "", "", fmt.Errorf("load payment for reference %s: %w", reference, err)
	}

	cfg, err := h.resolver.Resolve(ctx, p.TenantID)
	if err != nil {
		h.logger.Warn("tenant config resolution failed, using default secret",
			"tenant_id", p.TenantID,
			"error", err)
		return h.defaultSecret, p.TenantID, nil
	}
	return cfg.EventsSecret, p.TenantID, nil
}

func buildGatewayUpdate(payload *gateway.WebhookPayload, reference, transactionID, gatewayStatus string) GatewayUpdate {
	update := GatewayUpdate{
		Reference:     reference,
		GatewayStatus: gatewayStatus,
		GatewayTxnID:  transactionID,
	}

	if amount, ok := payload.Data.Transaction["amount_in_cents"].(float64); ok {
		update.AmountInCents = int64(amount)
	}
	if method, ok := payload.Data.Transaction["payment_method"]; ok && method != nil {
		if raw, err := json.Marshal(method); err == nil {
			update.PaymentMethod = raw
		}
	}
	if finalized, ok := payload.Data.Transaction["finalized_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, finalized); err == nil {
			update.FinalizedAt = &ts
		}
	}

	return update
}
