package payment

import (
	"context"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// DefaultCallTimeout bounds every processor call so a submission can never
// hang indefinitely on the gateway.
const DefaultCallTimeout = 15 * time.Second

// StripeGateway implements Gateway on Stripe PaymentIntents with Connect
// destination charges: the full amount is charged on the platform account,
// the merchant's share is transferred to their connected sub-account, and
// application_fee_amount keeps the platform's cut.
type StripeGateway struct {
	sc          *client.API
	currency    string
	callTimeout time.Duration
}

// NewStripeGateway creates a gateway bound to the given secret API key.
func NewStripeGateway(apiKey, currency string) *StripeGateway {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	return &StripeGateway{
		sc:          sc,
		currency:    currency,
		callTimeout: DefaultCallTimeout,
	}
}

func (g *StripeGateway) Authorize(ctx context.Context, req AuthorizationRequest) (*Authorization, error) {
	if req.MerchantAccount == "" {
		return nil, &GatewayError{Code: ErrCodeNotConfigured, Err: errors.New("merchant has no connected account")}
	}

	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	captureMethod := stripe.PaymentIntentCaptureMethodAutomatic
	if req.CaptureMode == CaptureManual {
		captureMethod = stripe.PaymentIntentCaptureMethodManual
	}

	params := &stripe.PaymentIntentParams{
		Params:               stripe.Params{Context: ctx},
		Amount:               stripe.Int64(req.Amount.Int64()),
		Currency:             stripe.String(g.currency),
		CaptureMethod:        stripe.String(string(captureMethod)),
		ApplicationFeeAmount: stripe.Int64(req.PlatformFee.Int64()),
		TransferData: &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(req.MerchantAccount),
		},
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(req.CustomerEmail)
	}
	if req.Reference != "" {
		params.AddMetadata("intent_ref", req.Reference)
	}

	pi, err := g.sc.PaymentIntents.New(params)
	if err != nil {
		return nil, wrapStripeErr(err)
	}

	return &Authorization{
		PaymentRef:   pi.ID,
		ClientSecret: pi.ClientSecret,
	}, nil
}

func (g *StripeGateway) Capture(ctx context.Context, paymentRef, merchantAccount string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	pi, err := g.sc.PaymentIntents.Capture(paymentRef, &stripe.PaymentIntentCaptureParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return "", wrapStripeErr(err)
	}

	if pi.LatestCharge != nil {
		return pi.LatestCharge.ID, nil
	}
	return pi.ID, nil
}

func (g *StripeGateway) Cancel(ctx context.Context, paymentRef, merchantAccount string) error {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	_, err := g.sc.PaymentIntents.Cancel(paymentRef, &stripe.PaymentIntentCancelParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return wrapStripeErr(err)
	}
	return nil
}

func (g *StripeGateway) Refund(ctx context.Context, paymentRef string) error {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	_, err := g.sc.Refunds.New(&stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(paymentRef),
	})
	if err != nil {
		return wrapStripeErr(err)
	}
	return nil
}

func wrapStripeErr(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch se.Type {
		case stripe.ErrorTypeCard:
			return &GatewayError{Code: ErrCodeDeclined, Err: err}
		case stripe.ErrorTypeInvalidRequest:
			return &GatewayError{Code: ErrCodeInternal, Err: err}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &GatewayError{Code: ErrCodeNetwork, Err: err}
	}
	return &GatewayError{Code: ErrCodeInternal, Err: err}
}

// Compile-time assertion that StripeGateway implements Gateway.
var _ Gateway = (*StripeGateway)(nil)
