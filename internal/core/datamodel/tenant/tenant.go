package tenant

import "time"

// Enforcement strategies: which day's invoice decides delinquency.
const (
	StrategyToday     = "today"
	StrategyYesterday = "yesterday"
	StrategyDisabled  = "disabled"
)

// Tenant is a company whose devices, contracts and gateway credentials are
// isolated from others. EventsSecret is nullable; tenants without one fall
// back to the globally configured secret.
type Tenant struct {
	ID                  string    `gorm:"primaryKey"`
	Name                string    `gorm:"column:name;not null"`
	EventsSecret        *string   `gorm:"column:events_secret"`
	EnforcementStrategy string    `gorm:"column:enforcement_strategy;default:disabled"`
	AutoCutOff          bool      `gorm:"column:auto_cutoff;default:false"`
	CutOffHour          int       `gorm:"column:cutoff_hour;default:6"`
	MaxConfirmAttempts  int       `gorm:"column:max_confirm_attempts;default:0"`
	ConfirmIntervalSecs int       `gorm:"column:confirm_interval_secs;default:0"`
	CreatedAt           time.Time `gorm:"column:created_at;default:now()"`
	UpdatedAt           time.Time `gorm:"column:updated_at;default:now()"`
}
