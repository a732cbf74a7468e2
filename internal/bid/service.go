package bid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ivooa3/mybidly/internal/idgen"
	"github.com/ivooa3/mybidly/internal/merchant"
	"github.com/ivooa3/mybidly/internal/metrics"
	"github.com/ivooa3/mybidly/internal/money"
	"github.com/ivooa3/mybidly/internal/offer"
	"github.com/ivooa3/mybidly/internal/payment"
	"github.com/ivooa3/mybidly/internal/pricing"
)

// Inventory is the slice of the offer store the bid lifecycle needs: offer
// lookup plus the stock ledger.
type Inventory interface {
	Get(ctx context.Context, id string) (*offer.Offer, error)
	TryReserve(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// Merchants looks up the account a bid settles against.
type Merchants interface {
	Get(ctx context.Context, id string) (*merchant.Merchant, error)
}

// Notifier receives lifecycle events. Implementations must not block; the
// webhook dispatcher queues deliveries internally.
type Notifier interface {
	BidSubmitted(b *Bid)
	BidAccepted(b *Bid)
	BidDeclined(b *Bid)
}

// Service implements the bid lifecycle.
type Service struct {
	store     Store
	inventory Inventory
	merchants Merchants
	gateway   payment.Gateway
	notifier  Notifier
	locks     sync.Map // per-bid ID locks to prevent race conditions
}

// NewService creates a new bid service.
func NewService(store Store, inventory Inventory, merchants Merchants, gateway payment.Gateway) *Service {
	return &Service{
		store:     store,
		inventory: inventory,
		merchants: merchants,
		gateway:   gateway,
	}
}

// WithNotifier adds a lifecycle event notifier.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// bidLock returns a mutex for the given bid ID. It serializes the merchant
// decision and the sweep within one process; cross-process races are caught
// by the store's compare-and-swap.
func (s *Service) bidLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// SubmitParams describes a new bid from a shopper.
type SubmitParams struct {
	OfferID       string
	Amount        money.Cents
	CustomerEmail string
	CustomerName  string
	Locale        string
}

// SubmitResult is a created bid plus what the shopper's browser needs to
// finish the payment confirmation.
type SubmitResult struct {
	Bid *Bid `json:"bid"`
	// ClientSecret completes the card confirmation for held payments.
	ClientSecret string `json:"clientSecret,omitempty"`
}

// Submit places a bid. Bids at or above the fixed price settle immediately;
// everything else gets a payment hold and waits for the merchant or the
// sweep. The authorization is always written ahead as an intent record so a
// crash mid-flight leaves a reconcilable trail.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (*SubmitResult, error) {
	o, err := s.inventory.Get(ctx, params.OfferID)
	if err != nil {
		if errors.Is(err, offer.ErrOfferNotFound) {
			return nil, ErrOfferUnavailable
		}
		return nil, err
	}
	if !o.Available() {
		return nil, ErrOfferUnavailable
	}

	m, err := s.merchants.Get(ctx, o.MerchantID)
	if err != nil {
		return nil, err
	}
	if !m.CanReceiveBids() {
		return nil, ErrPaymentNotConfigured
	}

	terms := o.Terms()
	if err := pricing.ValidateRange(terms, params.Amount); err != nil {
		return nil, ErrOutOfRange
	}

	platformFee, merchantAmount := pricing.SplitFee(params.Amount, m.PlatformFeeBasisPoints)

	now := time.Now()
	b := &Bid{
		ID:             idgen.WithPrefix("bid_"),
		OfferID:        o.ID,
		MerchantID:     m.ID,
		Amount:         params.Amount,
		PlatformFee:    platformFee,
		MerchantAmount: merchantAmount,
		CustomerEmail:  params.CustomerEmail,
		CustomerName:   params.CustomerName,
		Locale:         params.Locale,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if pricing.Classify(terms, params.Amount) == pricing.InstantAccept {
		return s.submitInstant(ctx, b, m)
	}
	return s.submitPending(ctx, b, m)
}

// submitInstant settles a fixed-price bid in one shot: reserve the unit,
// then authorize with automatic capture. Stock comes first so a payment
// failure compensates with a simple release instead of a refund.
func (s *Service) submitInstant(ctx context.Context, b *Bid, m *merchant.Merchant) (*SubmitResult, error) {
	ok, err := s.inventory.TryReserve(ctx, b.OfferID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSoldOut
	}

	in := s.newIntent(b, m)
	if err := s.store.CreateIntent(ctx, in); err != nil {
		_ = s.inventory.Release(ctx, b.OfferID)
		return nil, fmt.Errorf("failed to record payment intent: %w", err)
	}

	auth, err := s.gateway.Authorize(ctx, payment.AuthorizationRequest{
		Amount:          b.Amount,
		PlatformFee:     b.PlatformFee,
		MerchantAccount: m.GatewayAccountID,
		CaptureMode:     payment.CaptureAuto,
		CustomerEmail:   b.CustomerEmail,
		Reference:       in.ID,
	})
	if err != nil {
		_ = s.inventory.Release(ctx, b.OfferID)
		s.finishIntent(ctx, in, IntentFailed, "", "")
		return nil, err
	}

	now := time.Now()
	b.Status = StatusAccepted
	b.PaymentRef = auth.PaymentRef
	b.Captured = true
	b.Resolution = ResolutionInstantAccept
	b.ResolvedAt = &now
	b.UpdatedAt = now

	if err := s.store.Create(ctx, b); err != nil {
		// Funds already moved; compensate best-effort.
		_ = s.gateway.Refund(ctx, b.PaymentRef)
		_ = s.inventory.Release(ctx, b.OfferID)
		s.finishIntent(ctx, in, IntentFailed, auth.PaymentRef, "")
		return nil, fmt.Errorf("failed to create bid record: %w", err)
	}
	s.finishIntent(ctx, in, IntentConsumed, auth.PaymentRef, b.ID)

	metrics.BidsSubmittedTotal.WithLabelValues(string(StatusAccepted)).Inc()
	metrics.BidsResolvedTotal.WithLabelValues(string(b.Resolution)).Inc()

	if s.notifier != nil {
		s.notifier.BidAccepted(b)
	}
	return &SubmitResult{Bid: b, ClientSecret: auth.ClientSecret}, nil
}

// submitPending holds the shopper's money without capturing and parks the
// bid for the merchant or the sweep to decide.
func (s *Service) submitPending(ctx context.Context, b *Bid, m *merchant.Merchant) (*SubmitResult, error) {
	in := s.newIntent(b, m)
	if err := s.store.CreateIntent(ctx, in); err != nil {
		return nil, fmt.Errorf("failed to record payment intent: %w", err)
	}

	auth, err := s.gateway.Authorize(ctx, payment.AuthorizationRequest{
		Amount:          b.Amount,
		PlatformFee:     b.PlatformFee,
		MerchantAccount: m.GatewayAccountID,
		CaptureMode:     payment.CaptureManual,
		CustomerEmail:   b.CustomerEmail,
		Reference:       in.ID,
	})
	if err != nil {
		s.finishIntent(ctx, in, IntentFailed, "", "")
		return nil, err
	}

	in.Status = IntentAuthorized
	in.PaymentRef = auth.PaymentRef
	in.UpdatedAt = time.Now()
	if err := s.store.UpdateIntent(ctx, in); err != nil {
		// The hold exists but we cannot track it; void it rather than
		// leave the shopper's card encumbered.
		_ = s.gateway.Cancel(ctx, auth.PaymentRef, m.GatewayAccountID)
		return nil, fmt.Errorf("failed to update payment intent: %w", err)
	}

	b.Status = StatusPending
	b.PaymentRef = auth.PaymentRef

	if err := s.store.Create(ctx, b); err != nil {
		_ = s.gateway.Cancel(ctx, auth.PaymentRef, m.GatewayAccountID)
		s.finishIntent(ctx, in, IntentFailed, auth.PaymentRef, "")
		return nil, fmt.Errorf("failed to create bid record: %w", err)
	}
	s.finishIntent(ctx, in, IntentConsumed, auth.PaymentRef, b.ID)

	metrics.BidsSubmittedTotal.WithLabelValues(string(StatusPending)).Inc()

	if s.notifier != nil {
		s.notifier.BidSubmitted(b)
	}
	return &SubmitResult{Bid: b, ClientSecret: auth.ClientSecret}, nil
}

func (s *Service) newIntent(b *Bid, m *merchant.Merchant) *Intent {
	now := time.Now()
	return &Intent{
		ID:              idgen.WithPrefix("int_"),
		OfferID:         b.OfferID,
		MerchantID:      m.ID,
		MerchantAccount: m.GatewayAccountID,
		Amount:          b.Amount,
		Status:          IntentAuthorizing,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// finishIntent moves an intent to a terminal status. Best-effort: a lost
// intent update degrades to a reconciler no-op, never to lost money.
func (s *Service) finishIntent(ctx context.Context, in *Intent, status IntentStatus, paymentRef, bidID string) {
	in.Status = status
	if paymentRef != "" {
		in.PaymentRef = paymentRef
	}
	in.BidID = bidID
	in.UpdatedAt = time.Now()
	_ = s.store.UpdateIntent(ctx, in)
}

// Accept captures a pending bid's payment on the merchant's say-so.
// Accepting an already-accepted bid is a no-op; accepting a declined bid is
// a conflict.
func (s *Service) Accept(ctx context.Context, id string) (*Bid, error) {
	return s.accept(ctx, id, ResolutionMerchantAccept)
}

func (s *Service) accept(ctx context.Context, id string, resolution Resolution) (*Bid, error) {
	mu := s.bidLock(id)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == StatusAccepted {
		return b, nil
	}
	if b.IsTerminal() {
		return nil, ErrAlreadyResolved
	}

	// Reserve the unit before touching money, so a sold-out offer fails
	// fast with nothing to unwind.
	ok, err := s.inventory.TryReserve(ctx, b.OfferID)
	if err != nil {
		if errors.Is(err, offer.ErrOfferNotFound) {
			return nil, ErrOfferUnavailable
		}
		return nil, err
	}
	if !ok {
		return nil, ErrSoldOut
	}

	m, err := s.merchants.Get(ctx, b.MerchantID)
	if err != nil {
		_ = s.inventory.Release(ctx, b.OfferID)
		return nil, err
	}

	settlementRef, err := s.gateway.Capture(ctx, b.PaymentRef, m.GatewayAccountID)
	if err != nil {
		_ = s.inventory.Release(ctx, b.OfferID)
		return nil, fmt.Errorf("failed to capture payment: %w", err)
	}

	now := time.Now()
	b.Status = StatusAccepted
	b.SettlementRef = settlementRef
	b.Captured = true
	b.Resolution = resolution
	b.ResolvedAt = &now
	b.UpdatedAt = now

	if err := s.store.UpdateStatusFrom(ctx, b, StatusPending); err != nil {
		if errors.Is(err, ErrConflict) {
			// Another instance settled this bid between our read and
			// write. Put the unit back. If the winner accepted, our
			// capture is the settlement it recorded; if it declined, the
			// charge belongs to nobody and must be returned.
			_ = s.inventory.Release(ctx, b.OfferID)
			if cur, gerr := s.store.Get(ctx, id); gerr == nil && cur.Status == StatusDeclined {
				if rerr := s.gateway.Refund(ctx, b.PaymentRef); rerr != nil {
					return nil, errors.Join(err, fmt.Errorf("failed to refund conflicting capture: %w", rerr))
				}
			}
		}
		return nil, err
	}

	metrics.BidsResolvedTotal.WithLabelValues(string(resolution)).Inc()
	metrics.PendingBidAge.Observe(now.Sub(b.CreatedAt).Seconds())

	if s.notifier != nil {
		s.notifier.BidAccepted(b)
	}
	return b, nil
}

// Decline releases a pending bid's payment hold. Declining an
// already-declined bid is a no-op; declining an accepted bid is a conflict.
func (s *Service) Decline(ctx context.Context, id string) (*Bid, error) {
	return s.decline(ctx, id, ResolutionMerchantDecline)
}

func (s *Service) decline(ctx context.Context, id string, resolution Resolution) (*Bid, error) {
	mu := s.bidLock(id)
	mu.Lock()
	defer mu.Unlock()

	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == StatusDeclined {
		return b, nil
	}
	if b.IsTerminal() {
		return nil, ErrAlreadyResolved
	}

	// Captured decides the unwind: void the hold when money never moved,
	// refund when it did. Exactly one of the two, never both.
	if b.Captured {
		if err := s.gateway.Refund(ctx, b.PaymentRef); err != nil {
			return nil, fmt.Errorf("failed to refund payment: %w", err)
		}
	} else {
		m, err := s.merchants.Get(ctx, b.MerchantID)
		if err != nil {
			return nil, err
		}
		if err := s.gateway.Cancel(ctx, b.PaymentRef, m.GatewayAccountID); err != nil {
			return nil, fmt.Errorf("failed to cancel payment hold: %w", err)
		}
	}

	now := time.Now()
	b.Status = StatusDeclined
	b.Resolution = resolution
	b.ResolvedAt = &now
	b.UpdatedAt = now

	if err := s.store.UpdateStatusFrom(ctx, b, StatusPending); err != nil {
		return nil, err
	}

	metrics.BidsResolvedTotal.WithLabelValues(string(resolution)).Inc()
	metrics.PendingBidAge.Observe(now.Sub(b.CreatedAt).Seconds())

	if s.notifier != nil {
		s.notifier.BidDeclined(b)
	}
	return b, nil
}

// Get returns a bid by ID.
func (s *Service) Get(ctx context.Context, id string) (*Bid, error) {
	return s.store.Get(ctx, id)
}

// ListByMerchant returns a merchant's bids, optionally filtered by status.
func (s *Service) ListByMerchant(ctx context.Context, merchantID string, status Status, limit int) ([]*Bid, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListByMerchant(ctx, merchantID, status, limit)
}

// SetShippingAddress records where the item ships. Write-once: a second
// attempt returns ErrShippingAlreadySet.
func (s *Service) SetShippingAddress(ctx context.Context, id string, addr *ShippingAddress) (*Bid, error) {
	if err := s.store.SetShippingAddress(ctx, id, addr); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}
