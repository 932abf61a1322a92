package postgres

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/jfcalderon/rodarpay/internal/core/datamodel/payment"
	"github.com/jfcalderon/rodarpay/internal/core/datamodel/webhookevent"
	settlementpkg "github.com/jfcalderon/rodarpay/internal/settlement"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) settlementpkg.PaymentRepositoryAPI {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(p *payment.Payment) error {
	return r.db.Create(p).Error
}

func (r *PaymentRepository) GetByReference(reference string) (*payment.Payment, error) {
	var p payment.Payment
	err := r.db.Where("reference = ?", reference).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) GetPendingOlderThan(cutoff time.Time) ([]*payment.Payment, error) {
	var payments []*payment.Payment
	err := r.db.
		Where("status = ? AND created_at < ?", payment.StatusPending, cutoff).
		Order("created_at").
		Find(&payments).Error
	return payments, err
}

// UpdateStatusUnlessApproved is the monotonicity guard at the storage layer:
// the conditional update loses against any concurrent writer that already
// settled the row APPROVED.
func (r *PaymentRepository) UpdateStatusUnlessApproved(id, status string, gatewayTxnID *string, method json.RawMessage, finalizedAt *time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if gatewayTxnID != nil {
		updates["gateway_txn_id"] = *gatewayTxnID
	}
	if method != nil {
		updates["payment_method"] = method
	}
	if finalizedAt != nil {
		updates["finalized_at"] = *finalizedAt
	}

	result := r.db.Model(&payment.Payment{}).
		Where("id = ? AND status <> ?", id, payment.StatusApproved).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ClaimForApplication flips used=false to true in a single conditional write.
func (r *PaymentRepository) ClaimForApplication(id string) (bool, error) {
	result := r.db.Model(&payment.Payment{}).
		Where("id = ? AND used = ?", id, false).
		Updates(map[string]interface{}{"used": true, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *PaymentRepository) RecordVerification(v *payment.Verification) error {
	return r.db.Create(v).Error
}

type WebhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) settlementpkg.WebhookEventRepositoryAPI {
	return &WebhookEventRepository{db: db}
}

func (r *WebhookEventRepository) Insert(event *webhookevent.WebhookEvent) error {
	return r.db.Create(event).Error
}

func (r *WebhookEventRepository) MarkProcessed(id string, at time.Time) error {
	return r.db.Model(&webhookevent.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": at}).Error
}
