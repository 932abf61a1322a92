package settlement

import (
	"time"

	"github.com/jfcalderon/rodarpay/internal/core/common/validation"
)

type CreateIntentRequest struct {
	DeviceID string `json:"device_id"`
}

func (r *CreateIntentRequest) Validate() error {
	if appErr := validation.ValidateDeviceIdentifier(r.DeviceID); appErr != nil {
		return appErr
	}
	return nil
}

// IntentResponse carries what a checkout needs to charge the current unpaid
// invoice: the reference the gateway will echo back in its webhook, and the
// amount owed.
type IntentResponse struct {
	PaymentID     string    `json:"payment_id"`
	Reference     string    `json:"reference"`
	InvoiceID     string    `json:"invoice_id"`
	InvoiceDate   time.Time `json:"invoice_date"`
	AmountInCents int64     `json:"amount_in_cents"`
	Currency      string    `json:"currency"`
}
