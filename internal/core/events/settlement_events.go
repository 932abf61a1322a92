package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/jfcalderon/rodarpay/internal/core/datamodel/invoice"
	"github.com/jfcalderon/rodarpay/internal/core/datamodel/payment"
)

const (
	EventTypePaymentUpdated    = "payment.updated"
	EventTypeDeviceEnforcement = "device.enforcement"
)

// PaymentUpdatedEvent is emitted after the settlement engine applies a state
// transition to a payment and its invoice. Delivery to subscribers is
// best-effort; missed events are not replayed.
type PaymentUpdatedEvent struct {
	BaseEvent
	PaymentReference string           `json:"payment_reference"`
	PaymentStatus    string           `json:"payment_status"`
	InvoiceID        string           `json:"invoice_id"`
	InvoiceStatus    string           `json:"invoice_status"`
	Payment          *payment.Payment `json:"payment"`
	Invoice          *invoice.Invoice `json:"invoice"`
}

func NewPaymentUpdatedEvent(p *payment.Payment, inv *invoice.Invoice) *PaymentUpdatedEvent {
	return &PaymentUpdatedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentUpdated,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_reference": p.Reference,
				"payment_status":    p.Status,
				"invoice_id":        inv.ID,
				"invoice_status":    inv.DayType,
			},
		},
		PaymentReference: p.Reference,
		PaymentStatus:    p.Status,
		InvoiceID:        inv.ID,
		InvoiceStatus:    inv.DayType,
		Payment:          p,
		Invoice:          inv,
	}
}

// DeviceEnforcementEvent is emitted after an enforcement attempt so operators
// watching the live stream can see cut-off and resume outcomes as they land.
type DeviceEnforcementEvent struct {
	BaseEvent
	DeviceID     string `json:"device_id"`
	TenantID     string `json:"tenant_id"`
	CommandType  string `json:"command_type"`
	CutOffStatus int16  `json:"cutoff_status"`
	Attempts     int    `json:"attempts"`
}

func NewDeviceEnforcementEvent(deviceID, tenantID, commandType string, cutOffStatus int16, attempts int) *DeviceEnforcementEvent {
	return &DeviceEnforcementEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeDeviceEnforcement,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"device_id":     deviceID,
				"tenant_id":     tenantID,
				"command_type":  commandType,
				"cutoff_status": cutOffStatus,
				"attempts":      attempts,
			},
		},
		DeviceID:     deviceID,
		TenantID:     tenantID,
		CommandType:  commandType,
		CutOffStatus: cutOffStatus,
		Attempts:     attempts,
	}
}
