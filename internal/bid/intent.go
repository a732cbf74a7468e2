package bid

import (
	"time"

	"github.com/ivooa3/mybidly/internal/money"
)

// IntentStatus tracks a payment intent record through its life.
type IntentStatus string

const (
	// IntentAuthorizing is written before the gateway call. An intent
	// stuck here means the process died mid-call and the gateway state is
	// unknown.
	IntentAuthorizing IntentStatus = "authorizing"
	// IntentAuthorized means the gateway hold exists but no bid row
	// references it yet.
	IntentAuthorized IntentStatus = "authorized"
	// IntentConsumed means a bid row owns the authorization.
	IntentConsumed IntentStatus = "consumed"
	// IntentFailed means the gateway call failed; nothing to clean up.
	IntentFailed IntentStatus = "failed"
	// IntentReconciled means the reconciler canceled an orphaned hold.
	IntentReconciled IntentStatus = "reconciled"
)

// Intent is the write-ahead record of a payment authorization. It exists so
// that a crash between the gateway call and the bid insert leaves a trail
// the reconciler can follow to cancel the orphaned hold.
type Intent struct {
	ID              string       `json:"id"`
	OfferID         string       `json:"offerId"`
	MerchantID      string       `json:"merchantId"`
	MerchantAccount string       `json:"merchantAccount"`
	Amount          money.Cents  `json:"amount"`
	Status          IntentStatus `json:"status"`
	// PaymentRef is empty until the gateway call returns.
	PaymentRef string    `json:"paymentRef,omitempty"`
	BidID      string    `json:"bidId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// InFlight reports whether the intent may still back a live gateway hold
// with no bid row owning it.
func (i *Intent) InFlight() bool {
	return i.Status == IntentAuthorizing || i.Status == IntentAuthorized
}
