package wompi

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jfcalderon/rodarpay/internal/core/datamodel/payment"
	"github.com/jfcalderon/rodarpay/internal/gateway"
)

const ProviderName = "wompi"

// EventTransactionUpdated is the only event type the settlement engine acts on.
const EventTransactionUpdated = "transaction.updated"

// Adapter implements the Wompi webhook dialect. Signature verification follows
// the integrity-checksum scheme: the values of the listed transaction
// properties are concatenated in order, followed by the numeric timestamp and
// the tenant's events secret, and the SHA-256 of that string must equal the
// checksum sent with the event.
type Adapter struct {
	logger *slog.Logger
}

func NewAdapter(logger *slog.Logger) *Adapter {
	return &Adapter{logger: logger}
}

func (a *Adapter) Name() string {
	return ProviderName
}

func (a *Adapter) VerifySignature(payload *gateway.WebhookPayload, secret string) gateway.VerificationResult {
	if payload == nil || payload.Data.Transaction == nil {
		return gateway.VerificationResult{Valid: false, Reason: "missing transaction"}
	}
	if payload.Event == "" {
		return gateway.VerificationResult{Valid: false, Reason: "missing event"}
	}
	if payload.SentAt == "" {
		return gateway.VerificationResult{Valid: false, Reason: "missing sent_at"}
	}
	if payload.Signature.Checksum == "" {
		return gateway.VerificationResult{Valid: false, Reason: "missing signature checksum"}
	}

	reference, err := a.ExtractReference(payload)
	if err != nil {
		return gateway.VerificationResult{Valid: false, Reason: "missing transaction reference"}
	}

	var concat strings.Builder
	for _, property := range payload.Signature.Properties {
		concat.WriteString(resolveProperty(payload.Data.Transaction, property))
	}
	concat.WriteString(strconv.FormatInt(payload.Timestamp, 10))
	concat.WriteString(secret)

	sum := sha256.Sum256([]byte(concat.String()))
	computed := hex.EncodeToString(sum[:])
	expected := strings.ToLower(payload.Signature.Checksum)

	if subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) != 1 {
		a.logger.Warn("wompi checksum mismatch",
			"reference", reference,
			"properties", payload.Signature.Properties)
		return gateway.VerificationResult{Valid: false, Reason: "checksum mismatch", Reference: reference}
	}

	return gateway.VerificationResult{
		Valid:        true,
		Reference:    reference,
		DevicePrefix: devicePrefix(reference),
	}
}

// MapStatus translates a Wompi transaction status to the internal payment
// status. Unknown statuses map to PENDING so the local state is left alone.
func (a *Adapter) MapStatus(gatewayStatus string) string {
	switch strings.ToUpper(gatewayStatus) {
	case "APPROVED":
		return payment.StatusApproved
	case "DECLINED":
		return payment.StatusDeclined
	case "VOIDED":
		return payment.StatusVoided
	case "ERROR":
		return payment.StatusError
	default:
		return payment.StatusPending
	}
}

func (a *Adapter) ExtractReference(payload *gateway.WebhookPayload) (string, error) {
	ref, ok := payload.Data.Transaction["reference"].(string)
	if !ok || ref == "" {
		return "", fmt.Errorf("transaction reference missing or not a string")
	}
	return ref, nil
}

// resolveProperty walks a dot-path like "transaction.amount_in_cents" into the
// transaction map. The leading "transaction." segment addresses the map
// itself. A missing path resolves to the empty string, matching how the
// gateway computes the checksum for absent optional fields.
func resolveProperty(transaction map[string]interface{}, path string) string {
	segments := strings.Split(path, ".")
	if len(segments) > 0 && segments[0] == "transaction" {
		segments = segments[1:]
	}

	var current interface{} = transaction
	for _, segment := range segments {
		node, ok := current.(map[string]interface{})
		if !ok {
			return ""
		}
		current, ok = node[segment]
		if !ok {
			return ""
		}
	}

	switch v := current.(type) {
	case string:
		return v
	case float64:
		// JSON numbers decode as float64; integral values must render without
		// an exponent or decimal point to match the gateway's concatenation.
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// devicePrefix returns the first hyphen-delimited token of a reference,
// e.g. "DEV1" for "DEV1-2026-02-10".
func devicePrefix(reference string) string {
	if idx := strings.Index(reference, "-"); idx > 0 {
		return reference[:idx]
	}
	return reference
}
