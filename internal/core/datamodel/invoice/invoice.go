package invoice

import (
	"fmt"
	"time"
)

// Day types an invoice can resolve to. PAID, DEBT and the non-monetary
// resolutions (FREE, FREEPASS, LOAN) are terminal; CONFIRMING and VERIFYING
// mark a payment in flight.
const (
	DayTypePending    = "PENDING"
	DayTypeConfirming = "CONFIRMING"
	DayTypeVerifying  = "VERIFYING"
	DayTypePaid       = "PAID"
	DayTypeDebt       = "DEBT"
	DayTypeFree       = "FREE"
	DayTypeFreePass   = "FREEPASS"
	DayTypeLoan       = "LOAN"
	DayTypeError      = "ERROR"
	DayTypeVoided     = "VOIDED"
	DayTypeDeclined   = "DECLINED"
)

// Invoice is one billing obligation for one device for one calendar day.
// The primary key embeds device and date, so (device_id, invoice_date) is
// unique by construction; the compound index enforces it at the storage layer.
type Invoice struct {
	ID                string     `gorm:"primaryKey"`
	DeviceID          string     `gorm:"column:device_id;not null;uniqueIndex:idx_device_date"`
	InvoiceDate       time.Time  `gorm:"column:invoice_date;not null;uniqueIndex:idx_device_date"`
	TenantID          string     `gorm:"column:tenant_id;not null;index"`
	ContractID        *string    `gorm:"column:contract_id"`
	AmountInCents     int64      `gorm:"column:amount_in_cents;not null"`
	Currency          string     `gorm:"column:currency;default:COP"`
	DayType           string     `gorm:"column:day_type;default:PENDING"`
	Paid              bool       `gorm:"column:paid;default:false"`
	PaidAmountInCents int64      `gorm:"column:paid_amount_in_cents;default:0"`
	GatewayTxnID      *string    `gorm:"column:gateway_txn_id"`
	SettlementRef     *string    `gorm:"column:settlement_ref"`
	FinalizedAt       *time.Time `gorm:"column:finalized_at"`
	CreatedAt         time.Time  `gorm:"column:created_at;default:now()"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;default:now()"`
}

// BuildID returns the deterministic invoice id for a device and day,
// e.g. "DEV1-2026-02-10". The same value doubles as the payment reference.
func BuildID(deviceID string, date time.Time) string {
	return fmt.Sprintf("%s-%s", deviceID, date.Format("2006-01-02"))
}

// IsUpToDate reports whether this invoice leaves the device in good standing:
// paid, or resolved without money owed.
func (i *Invoice) IsUpToDate() bool {
	if i.Paid {
		return true
	}
	switch i.DayType {
	case DayTypePaid, DayTypeFree, DayTypeFreePass, DayTypeLoan:
		return true
	}
	return false
}
