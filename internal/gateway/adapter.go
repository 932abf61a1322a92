package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// WebhookPayload is the envelope every supported gateway posts to the webhook
// endpoint. The transaction body is kept as a raw map because signature
// properties are resolved against it by dot-path.
type WebhookPayload struct {
	Event     string    `json:"event"`
	Data      Data      `json:"data"`
	SentAt    string    `json:"sent_at"`
	Timestamp int64     `json:"timestamp"`
	Signature Signature `json:"signature"`
}

type Data struct {
	Transaction map[string]interface{} `json:"transaction"`
}

type Signature struct {
	Checksum   string   `json:"checksum"`
	Properties []string `json:"properties"`
}

// VerificationResult is what an adapter reports for an inbound webhook.
// Valid=false never comes with an error; malformed input is a verification
// failure, not a fault.
type VerificationResult struct {
	Valid        bool
	Reason       string
	Reference    string
	DevicePrefix string
}

// Adapter abstracts one payment gateway's webhook dialect. One implementation
// exists today (Wompi); the factory keeps the seam for others.
type Adapter interface {
	Name() string
	VerifySignature(payload *WebhookPayload, secret string) VerificationResult
	MapStatus(gatewayStatus string) string
	ExtractReference(payload *WebhookPayload) (string, error)
}

// Factory returns the adapter for a provider name.
type Factory struct {
	adapters map[string]Adapter
	logger   *slog.Logger
}

func NewFactory(logger *slog.Logger, adapters ...Adapter) *Factory {
	byName := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	return &Factory{adapters: byName, logger: logger}
}

func (f *Factory) ForProvider(name string) (Adapter, error) {
	adapter, ok := f.adapters[name]
	if !ok {
		return nil, fmt.Errorf("no gateway adapter registered for provider %q", name)
	}
	return adapter, nil
}

// ParseWebhookPayload decodes and structurally validates a webhook body.
func ParseWebhookPayload(body []byte) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	if payload.Event == "" {
		return nil, fmt.Errorf("webhook payload missing event")
	}
	if payload.Data.Transaction == nil {
		return nil, fmt.Errorf("webhook payload missing transaction")
	}
	if payload.SentAt == "" {
		return nil, fmt.Errorf("webhook payload missing sent_at")
	}
	if payload.Signature.Checksum == "" {
		return nil, fmt.Errorf("webhook payload missing signature checksum")
	}
	return &payload, nil
}
