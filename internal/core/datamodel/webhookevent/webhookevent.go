package webhookevent

import (
	"encoding/json"
	"fmt"
	"time"
)

// WebhookEvent is the idempotency record for one inbound gateway notification.
// The primary key is deterministic, so two deliveries of the same gateway
// event collide on insert and the second is absorbed as a duplicate.
type WebhookEvent struct {
	ID            string          `gorm:"primaryKey"`
	EventType     string          `gorm:"column:event_type;not null"`
	TransactionID string          `gorm:"column:transaction_id;not null;index"`
	Reference     string          `gorm:"column:reference;not null;index"`
	Status        string          `gorm:"column:status;not null"`
	Checksum      string          `gorm:"column:checksum"`
	RawPayload    json.RawMessage `gorm:"column:raw_payload;type:jsonb"`
	Processed     bool            `gorm:"column:processed;default:false"`
	ProcessedAt   *time.Time      `gorm:"column:processed_at"`
	ReceivedAt    time.Time       `gorm:"column:received_at;default:now()"`
}

// BuildID derives the deterministic event id from the identifying fields of a
// gateway notification.
func BuildID(eventType, transactionID string, timestamp int64) string {
	return fmt.Sprintf("%s:%s:%d", eventType, transactionID, timestamp)
}
