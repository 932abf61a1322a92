package payment

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Internal payment statuses mirroring the gateway's transaction statuses.
// APPROVED is absorbing: once reached it is never overwritten.
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusDeclined = "DECLINED"
	StatusVoided   = "VOIDED"
	StatusError    = "ERROR"
)

// Payment is one settlement attempt against exactly one invoice. Reference
// equals the invoice id and is the correlation key the gateway echoes back in
// webhook events.
type Payment struct {
	ID            string          `gorm:"primaryKey"`
	Reference     string          `gorm:"column:reference;not null;uniqueIndex"`
	InvoiceID     string          `gorm:"column:invoice_id;not null;index"`
	DeviceID      string          `gorm:"column:device_id;not null"`
	TenantID      string          `gorm:"column:tenant_id;not null;index"`
	AmountInCents int64           `gorm:"column:amount_in_cents;not null"`
	Currency      string          `gorm:"column:currency;default:COP"`
	Status        string          `gorm:"column:status;default:PENDING"`
	GatewayTxnID  *string         `gorm:"column:gateway_txn_id;index"`
	PaymentMethod json.RawMessage `gorm:"column:payment_method;type:jsonb"`
	Used          bool            `gorm:"column:used;default:false"`
	FinalizedAt   *time.Time      `gorm:"column:finalized_at"`
	CreatedAt     time.Time       `gorm:"column:created_at;default:now()"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;default:now()"`
}

// NewID generates a payment id embedding device, date and a random suffix,
// e.g. "DEV1-2026-02-10-9f1c3a2b".
func NewID(deviceID string, date time.Time) string {
	suffix := strings.Split(uuid.New().String(), "-")[0]
	return fmt.Sprintf("%s-%s-%s", deviceID, date.Format("2006-01-02"), suffix)
}

// IsFinal reports whether the status is terminal.
func IsFinal(status string) bool {
	switch status {
	case StatusApproved, StatusDeclined, StatusVoided, StatusError:
		return true
	}
	return false
}

// Verification is an audit row recorded whenever a gateway status is compared
// against the local payment status, either during webhook settlement or the
// recovery sweep.
type Verification struct {
	ID            int64     `gorm:"primaryKey"`
	PaymentID     string    `gorm:"column:payment_id;not null;index"`
	Reference     string    `gorm:"column:reference;not null"`
	GatewayStatus string    `gorm:"column:gateway_status;not null"`
	LocalStatus   string    `gorm:"column:local_status;not null"`
	Match         bool      `gorm:"column:match"`
	Source        string    `gorm:"column:source"`
	CheckedAt     time.Time `gorm:"column:checked_at;default:now()"`
}

func (Verification) TableName() string {
	return "payment_verifications"
}
