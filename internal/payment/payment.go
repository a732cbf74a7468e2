// Package payment abstracts the card-payment processor behind a two-phase
// authorize/capture model.
//
// A bid's money is held (authorized) at submission time and only moves when
// the bid resolves: capture on accept, cancel or refund on decline. Every
// call is scoped to the merchant's gateway sub-account and carries the
// platform fee so the processor performs the split, not us.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/ivooa3/mybidly/internal/money"
)

// CaptureMode controls whether the processor captures immediately after
// authorization or holds until an explicit capture. It cannot be changed
// after the authorization is created.
type CaptureMode string

const (
	CaptureAuto   CaptureMode = "automatic"
	CaptureManual CaptureMode = "manual"
)

// ErrorCode classifies gateway failures.
type ErrorCode string

const (
	ErrCodeDeclined      ErrorCode = "card_declined"
	ErrCodeNotConfigured ErrorCode = "not_configured"
	ErrCodeNetwork       ErrorCode = "network_error"
	ErrCodeInternal      ErrorCode = "gateway_error"
)

// GatewayError wraps a processor failure with a stable code.
type GatewayError struct {
	Code ErrorCode
	Err  error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway: %s: %v", e.Code, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// AsGatewayError extracts a *GatewayError from err, if present.
func AsGatewayError(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// AuthorizationRequest describes a new held payment.
type AuthorizationRequest struct {
	Amount          money.Cents
	PlatformFee     money.Cents
	MerchantAccount string
	CaptureMode     CaptureMode
	CustomerEmail   string
	// Reference ties the authorization back to our intent record for
	// reconciliation on the processor side.
	Reference string
}

// Authorization is the processor's handle to a held payment.
type Authorization struct {
	PaymentRef string
	// ClientSecret lets the shopper's browser complete the confirmation
	// flow for held (manual-capture) payments.
	ClientSecret string
}

// Gateway is the card-payment processor.
type Gateway interface {
	Authorize(ctx context.Context, req AuthorizationRequest) (*Authorization, error)
	Capture(ctx context.Context, paymentRef, merchantAccount string) (settlementRef string, err error)
	Cancel(ctx context.Context, paymentRef, merchantAccount string) error
	Refund(ctx context.Context, paymentRef string) error
}
