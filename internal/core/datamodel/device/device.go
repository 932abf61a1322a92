package device

import "time"

// Cut-off bookkeeping states. CutOffSent records that a stop command went out
// but was never confirmed, so operators can distinguish "we tried" from
// "we never tried".
const (
	CutOffNone      int16 = 0
	CutOffConfirmed int16 = 1
	CutOffSent      int16 = 2
)

// Device carries the enforcement bookkeeping for one rental device. The
// identifier doubles as the prefix of invoice and payment references.
type Device struct {
	ID               string    `gorm:"primaryKey"`
	TenantID         string    `gorm:"column:tenant_id;not null;index"`
	ContractID       *string   `gorm:"column:contract_id"`
	Active           bool      `gorm:"column:active;default:false"`
	DailyRateInCents int64     `gorm:"column:daily_rate_in_cents;default:0"`
	CutOffStatus     int16     `gorm:"column:cutoff_status;default:0"`
	Exempt           bool      `gorm:"column:exempt;default:false"`
	CreatedAt        time.Time `gorm:"column:created_at;default:now()"`
	UpdatedAt        time.Time `gorm:"column:updated_at;default:now()"`
}
