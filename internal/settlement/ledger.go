package settlement

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/jfcalderon/rodarpay/internal/core/datamodel/webhookevent"
)

// WebhookEventRepositoryAPI is the durable event store. Insert must fail with
// a uniqueness violation when the deterministic event id already exists; that
// constraint, not an application-level check, is the idempotency boundary.
type WebhookEventRepositoryAPI interface {
	Insert(event *webhookevent.WebhookEvent) error
	MarkProcessed(id string, at time.Time) error
}

// Ledger gates webhook processing: each unique gateway event is applied
// exactly once even though the gateway delivers at least once.
type Ledger struct {
	repository WebhookEventRepositoryAPI
	logger     *slog.Logger
}

func NewLedger(repository WebhookEventRepositoryAPI, logger *slog.Logger) *Ledger {
	return &Ledger{repository: repository, logger: logger}
}

// RecordIfNew inserts the event and reports whether it was newly recorded.
// A duplicate id means the event was already handled; that is absorbed
// silently, not surfaced as an error.
func (l *Ledger) RecordIfNew(event *webhookevent.WebhookEvent) (bool, error) {
	err := l.repository.Insert(event)
	if err == nil {
		return true, nil
	}
	if isDuplicateKey(err) {
		l.logger.Info("duplicate webhook event absorbed",
			"event_id", event.ID,
			"reference", event.Reference)
		return false, nil
	}
	return false, fmt.Errorf("record webhook event %s: %w", event.ID, err)
}

// MarkProcessed flags the event once the full settlement transition has
// completed. Events that fail mid-transition stay unprocessed, so an explicit
// recovery pass can re-attempt them.
func (l *Ledger) MarkProcessed(eventID string) error {
	if err := l.repository.MarkProcessed(eventID, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark webhook event %s processed: %w", eventID, err)
	}
	return nil
}

// isDuplicateKey matches uniqueness violations across gorm's translated error
// and the raw driver messages seen from postgres and sqlite.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}
