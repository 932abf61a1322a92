package postgres

import (
	"time"

	"gorm.io/gorm"

	"github.com/jfcalderon/rodarpay/internal/core/datamodel/invoice"
	invoicingpkg "github.com/jfcalderon/rodarpay/internal/invoicing"
)

// nonOwingDayTypes are the resolutions that leave nothing owed on an invoice.
var nonOwingDayTypes = []string{
	invoice.DayTypePaid,
	invoice.DayTypeFree,
	invoice.DayTypeFreePass,
	invoice.DayTypeLoan,
	invoice.DayTypeVoided,
}

type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

var _ invoicingpkg.InvoiceRepositoryAPI = (*InvoiceRepository)(nil)

func (r *InvoiceRepository) Create(inv *invoice.Invoice) error {
	return r.db.Create(inv).Error
}

func (r *InvoiceRepository) GetByID(id string) (*invoice.Invoice, error) {
	var inv invoice.Invoice
	err := r.db.Where("id = ?", id).First(&inv).Error
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *InvoiceRepository) GetByDeviceAndDate(deviceID string, date time.Time) (*invoice.Invoice, error) {
	var inv invoice.Invoice
	err := r.db.Where("device_id = ? AND invoice_date = ?", deviceID, date).First(&inv).Error
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *InvoiceRepository) GetOldestUnpaidForDevice(deviceID string) (*invoice.Invoice, error) {
	var inv invoice.Invoice
	err := r.db.
		Where("device_id = ? AND paid = ? AND day_type NOT IN ?", deviceID, false, nonOwingDayTypes).
		Order("invoice_date").
		First(&inv).Error
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// ApplySettlement writes the outcome of a payment transition onto the invoice.
func (r *InvoiceRepository) ApplySettlement(id, dayType string, paid bool, paidAmountInCents int64, gatewayTxnID, settlementRef *string, finalizedAt *time.Time) error {
	updates := map[string]interface{}{
		"day_type":   dayType,
		"paid":       paid,
		"updated_at": time.Now().UTC(),
	}
	if paid {
		updates["paid_amount_in_cents"] = paidAmountInCents
	}
	if gatewayTxnID != nil {
		updates["gateway_txn_id"] = *gatewayTxnID
	}
	if settlementRef != nil {
		updates["settlement_ref"] = *settlementRef
	}
	if finalizedAt != nil {
		updates["finalized_at"] = *finalizedAt
	}

	return r.db.Model(&invoice.Invoice{}).Where("id = ?", id).Updates(updates).Error
}
