package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ivooa3/mybidly/internal/idgen"
)

// heldPayment tracks the processor-side state of one authorization.
type heldPayment struct {
	req      AuthorizationRequest
	captured bool
	canceled bool
	refunded bool
}

// FakeGateway is an in-memory Gateway for development mode and tests. It
// tracks the capture state of every authorization so double captures and
// cancel-after-capture are surfaced the way the real processor would.
type FakeGateway struct {
	mu    sync.Mutex
	held  map[string]*heldPayment
	calls []string

	// Injectable failures. Nil means the call succeeds.
	AuthorizeErr error
	CaptureErr   error
	CancelErr    error
	RefundErr    error
}

// NewFakeGateway creates an empty fake gateway.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{held: make(map[string]*heldPayment)}
}

func (g *FakeGateway) Authorize(ctx context.Context, req AuthorizationRequest) (*Authorization, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "authorize")

	if g.AuthorizeErr != nil {
		return nil, g.AuthorizeErr
	}
	if req.MerchantAccount == "" {
		return nil, &GatewayError{Code: ErrCodeNotConfigured, Err: errors.New("merchant has no connected account")}
	}

	ref := idgen.WithPrefix("pi_")
	hp := &heldPayment{req: req}
	if req.CaptureMode == CaptureAuto {
		hp.captured = true
	}
	g.held[ref] = hp

	return &Authorization{
		PaymentRef:   ref,
		ClientSecret: ref + "_secret_" + idgen.Hex(8),
	}, nil
}

func (g *FakeGateway) Capture(ctx context.Context, paymentRef, merchantAccount string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "capture")

	if g.CaptureErr != nil {
		return "", g.CaptureErr
	}
	hp, ok := g.held[paymentRef]
	if !ok {
		return "", &GatewayError{Code: ErrCodeInternal, Err: fmt.Errorf("unknown payment %s", paymentRef)}
	}
	if hp.canceled {
		return "", &GatewayError{Code: ErrCodeInternal, Err: errors.New("authorization already canceled")}
	}
	hp.captured = true
	return "ch_" + idgen.Hex(12), nil
}

func (g *FakeGateway) Cancel(ctx context.Context, paymentRef, merchantAccount string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "cancel")

	if g.CancelErr != nil {
		return g.CancelErr
	}
	hp, ok := g.held[paymentRef]
	if !ok {
		return &GatewayError{Code: ErrCodeInternal, Err: fmt.Errorf("unknown payment %s", paymentRef)}
	}
	if hp.captured {
		return &GatewayError{Code: ErrCodeInternal, Err: errors.New("cannot cancel a captured payment")}
	}
	hp.canceled = true
	return nil
}

func (g *FakeGateway) Refund(ctx context.Context, paymentRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "refund")

	if g.RefundErr != nil {
		return g.RefundErr
	}
	hp, ok := g.held[paymentRef]
	if !ok {
		return &GatewayError{Code: ErrCodeInternal, Err: fmt.Errorf("unknown payment %s", paymentRef)}
	}
	if !hp.captured {
		return &GatewayError{Code: ErrCodeInternal, Err: errors.New("cannot refund an uncaptured payment")}
	}
	hp.refunded = true
	return nil
}

// Calls returns the sequence of gateway operations invoked, for tests.
func (g *FakeGateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.calls))
	copy(out, g.calls)
	return out
}

// Captured reports whether the payment was captured.
func (g *FakeGateway) Captured(paymentRef string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	hp, ok := g.held[paymentRef]
	return ok && hp.captured
}

// Canceled reports whether the authorization was released.
func (g *FakeGateway) Canceled(paymentRef string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	hp, ok := g.held[paymentRef]
	return ok && hp.canceled
}

// Refunded reports whether a refund was issued.
func (g *FakeGateway) Refunded(paymentRef string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	hp, ok := g.held[paymentRef]
	return ok && hp.refunded
}

var _ Gateway = (*FakeGateway)(nil)
