package payment

import (
	"context"
	"errors"
	"time"

	"github.com/ivooa3/mybidly/internal/circuitbreaker"
	"github.com/ivooa3/mybidly/internal/metrics"
)

// GuardedGateway wraps a Gateway with a per-operation circuit breaker, so a
// processor outage fails fast instead of tying up request handlers in
// timeouts. Card declines are normal outcomes and never trip the circuit.
type GuardedGateway struct {
	inner   Gateway
	breaker *circuitbreaker.Breaker
}

// Guard wraps a gateway with a circuit breaker using the given trip
// threshold and open duration.
func Guard(inner Gateway, threshold int, openDuration time.Duration) *GuardedGateway {
	return &GuardedGateway{
		inner:   inner,
		breaker: circuitbreaker.New(threshold, openDuration),
	}
}

var errCircuitOpen = &GatewayError{
	Code: ErrCodeNetwork,
	Err:  errors.New("circuit open"),
}

// outage reports whether an error should count against the circuit.
func outage(err error) bool {
	gwErr, ok := AsGatewayError(err)
	if !ok {
		return true
	}
	return gwErr.Code == ErrCodeNetwork || gwErr.Code == ErrCodeInternal
}

func (g *GuardedGateway) record(op string, err error) {
	result := "ok"
	if err != nil {
		if gwErr, ok := AsGatewayError(err); ok {
			result = string(gwErr.Code)
		} else {
			result = "error"
		}
	}
	metrics.GatewayCallsTotal.WithLabelValues(op, result).Inc()

	if err == nil || !outage(err) {
		g.breaker.RecordSuccess(op)
		return
	}
	g.breaker.RecordFailure(op)
}

func (g *GuardedGateway) Authorize(ctx context.Context, req AuthorizationRequest) (*Authorization, error) {
	if !g.breaker.Allow("authorize") {
		return nil, errCircuitOpen
	}
	auth, err := g.inner.Authorize(ctx, req)
	g.record("authorize", err)
	return auth, err
}

func (g *GuardedGateway) Capture(ctx context.Context, paymentRef, merchantAccount string) (string, error) {
	if !g.breaker.Allow("capture") {
		return "", errCircuitOpen
	}
	ref, err := g.inner.Capture(ctx, paymentRef, merchantAccount)
	g.record("capture", err)
	return ref, err
}

func (g *GuardedGateway) Cancel(ctx context.Context, paymentRef, merchantAccount string) error {
	if !g.breaker.Allow("cancel") {
		return errCircuitOpen
	}
	err := g.inner.Cancel(ctx, paymentRef, merchantAccount)
	g.record("cancel", err)
	return err
}

func (g *GuardedGateway) Refund(ctx context.Context, paymentRef string) error {
	if !g.breaker.Allow("refund") {
		return errCircuitOpen
	}
	err := g.inner.Refund(ctx, paymentRef)
	g.record("refund", err)
	return err
}

var _ Gateway = (*GuardedGateway)(nil)
