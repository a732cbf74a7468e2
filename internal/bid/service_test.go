package bid

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ivooa3/mybidly/internal/merchant"
	"github.com/ivooa3/mybidly/internal/money"
	"github.com/ivooa3/mybidly/internal/offer"
	"github.com/ivooa3/mybidly/internal/payment"
)

type fixture struct {
	service   *Service
	store     *MemoryStore
	offers    *offer.MemoryStore
	merchants *merchant.MemoryStore
	gateway   *payment.FakeGateway
	notifier  *recordingNotifier

	offer *offer.Offer
}

// newFixture wires a service against in-memory stores: one onboarded
// merchant with a 10% fee, one active offer priced 30.00 floor / 37.50
// fixed, bid range [27.00, 37.50], stock 5.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	merchants := merchant.NewMemoryStore()
	m := &merchant.Merchant{
		ID:                     "mch_test",
		Name:                   "Test Shop",
		PlatformFeeBasisPoints: 1000,
		GatewayAccountID:       "acct_test",
		IsActive:               true,
		CreatedAt:              time.Now(),
		UpdatedAt:              time.Now(),
	}
	if err := merchants.Create(ctx, m); err != nil {
		t.Fatalf("create merchant: %v", err)
	}

	offers := offer.NewMemoryStore()
	o := &offer.Offer{
		ID:              "off_test",
		MerchantID:      m.ID,
		Name:            "Scented Candle",
		MinSellingPrice: money.MustParse("30.00"),
		FixedPrice:      money.MustParse("37.50"),
		BidRangeMin:     money.MustParse("27.00"),
		BidRangeMax:     money.MustParse("37.50"),
		StockQuantity:   5,
		Priority:        1,
		IsActive:        true,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if err := offers.Create(ctx, o); err != nil {
		t.Fatalf("create offer: %v", err)
	}

	store := NewMemoryStore()
	gateway := payment.NewFakeGateway()
	notifier := &recordingNotifier{}
	service := NewService(store, offers, merchants, gateway).WithNotifier(notifier)

	return &fixture{
		service:   service,
		store:     store,
		offers:    offers,
		merchants: merchants,
		gateway:   gateway,
		notifier:  notifier,
		offer:     o,
	}
}

type recordingNotifier struct {
	mu        sync.Mutex
	submitted []string
	accepted  []string
	declined  []string
}

func (n *recordingNotifier) BidSubmitted(b *Bid) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.submitted = append(n.submitted, b.ID)
}

func (n *recordingNotifier) BidAccepted(b *Bid) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accepted = append(n.accepted, b.ID)
}

func (n *recordingNotifier) BidDeclined(b *Bid) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.declined = append(n.declined, b.ID)
}

func (f *fixture) submit(t *testing.T, amount string) *SubmitResult {
	t.Helper()
	result, err := f.service.Submit(context.Background(), SubmitParams{
		OfferID:       f.offer.ID,
		Amount:        money.MustParse(amount),
		CustomerEmail: "shopper@example.com",
	})
	if err != nil {
		t.Fatalf("Submit(%s): %v", amount, err)
	}
	return result
}

func (f *fixture) stock(t *testing.T) int {
	t.Helper()
	o, err := f.offers.Get(context.Background(), f.offer.ID)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	return o.StockQuantity
}

func TestSubmitAtFixedPriceSettlesInstantly(t *testing.T) {
	f := newFixture(t)

	result := f.submit(t, "37.50")
	b := result.Bid

	if b.Status != StatusAccepted {
		t.Fatalf("status = %s, want accepted", b.Status)
	}
	if b.Resolution != ResolutionInstantAccept {
		t.Errorf("resolution = %s, want instant_accept", b.Resolution)
	}
	if !b.Captured {
		t.Error("instant accept should capture funds")
	}
	if !f.gateway.Captured(b.PaymentRef) {
		t.Error("gateway should hold a captured payment")
	}
	if f.stock(t) != 4 {
		t.Errorf("stock = %d, want 4", f.stock(t))
	}
	if b.PlatformFee != money.MustParse("3.75") {
		t.Errorf("platform fee = %s, want 3.75", b.PlatformFee)
	}
	if b.PlatformFee+b.MerchantAmount != b.Amount {
		t.Error("fee split must sum to the bid amount")
	}
	if len(f.notifier.accepted) != 1 {
		t.Errorf("accepted notifications = %d, want 1", len(f.notifier.accepted))
	}
}

func TestSubmitBelowFixedPriceHoldsPayment(t *testing.T) {
	f := newFixture(t)

	result := f.submit(t, "32.00")
	b := result.Bid

	if b.Status != StatusPending {
		t.Fatalf("status = %s, want pending", b.Status)
	}
	if b.Captured {
		t.Error("pending bid must not capture funds")
	}
	if f.gateway.Captured(b.PaymentRef) {
		t.Error("gateway should only hold, not capture")
	}
	if result.ClientSecret == "" {
		t.Error("expected a client secret for the held payment")
	}
	// Pending bids take no stock until resolved.
	if f.stock(t) != 5 {
		t.Errorf("stock = %d, want 5", f.stock(t))
	}
	if len(f.notifier.submitted) != 1 {
		t.Errorf("submitted notifications = %d, want 1", len(f.notifier.submitted))
	}
}

func TestSubmitRejectsOutOfRange(t *testing.T) {
	f := newFixture(t)

	for _, amount := range []string{"26.99", "37.51", "1.00"} {
		_, err := f.service.Submit(context.Background(), SubmitParams{
			OfferID:       f.offer.ID,
			Amount:        money.MustParse(amount),
			CustomerEmail: "shopper@example.com",
		})
		if !errors.Is(err, ErrOutOfRange) {
			t.Errorf("Submit(%s): err = %v, want ErrOutOfRange", amount, err)
		}
	}
}

func TestSubmitRejectsUnavailableOffer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.offer.IsActive = false
	if err := f.offers.Update(ctx, f.offer); err != nil {
		t.Fatalf("update offer: %v", err)
	}

	_, err := f.service.Submit(ctx, SubmitParams{
		OfferID:       f.offer.ID,
		Amount:        money.MustParse("32.00"),
		CustomerEmail: "shopper@example.com",
	})
	if !errors.Is(err, ErrOfferUnavailable) {
		t.Errorf("err = %v, want ErrOfferUnavailable", err)
	}

	if _, err := f.service.Submit(ctx, SubmitParams{
		OfferID:       "off_missing",
		Amount:        money.MustParse("32.00"),
		CustomerEmail: "shopper@example.com",
	}); !errors.Is(err, ErrOfferUnavailable) {
		t.Errorf("missing offer: err = %v, want ErrOfferUnavailable", err)
	}
}

func TestSubmitRejectsUnonboardedMerchant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, _ := f.merchants.Get(ctx, "mch_test")
	m.GatewayAccountID = ""
	if err := f.merchants.Update(ctx, m); err != nil {
		t.Fatalf("update merchant: %v", err)
	}

	_, err := f.service.Submit(ctx, SubmitParams{
		OfferID:       f.offer.ID,
		Amount:        money.MustParse("32.00"),
		CustomerEmail: "shopper@example.com",
	})
	if !errors.Is(err, ErrPaymentNotConfigured) {
		t.Errorf("err = %v, want ErrPaymentNotConfigured", err)
	}
}

func TestInstantAcceptAuthorizeFailureReleasesStock(t *testing.T) {
	f := newFixture(t)
	f.gateway.AuthorizeErr = &payment.GatewayError{
		Code: payment.ErrCodeDeclined,
		Err:  errors.New("card declined"),
	}

	_, err := f.service.Submit(context.Background(), SubmitParams{
		OfferID:       f.offer.ID,
		Amount:        money.MustParse("37.50"),
		CustomerEmail: "shopper@example.com",
	})
	if _, ok := payment.AsGatewayError(err); !ok {
		t.Fatalf("err = %v, want gateway error", err)
	}

	if f.stock(t) != 5 {
		t.Errorf("stock = %d, want 5 after compensating release", f.stock(t))
	}
}

func TestMerchantAcceptCapturesAndTakesStock(t *testing.T) {
	f := newFixture(t)
	b := f.submit(t, "32.00").Bid

	accepted, err := f.service.Accept(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if accepted.Status != StatusAccepted {
		t.Fatalf("status = %s, want accepted", accepted.Status)
	}
	if accepted.Resolution != ResolutionMerchantAccept {
		t.Errorf("resolution = %s, want merchant_accept", accepted.Resolution)
	}
	if accepted.SettlementRef == "" {
		t.Error("expected a settlement reference")
	}
	if !f.gateway.Captured(b.PaymentRef) {
		t.Error("payment should be captured")
	}
	if f.stock(t) != 4 {
		t.Errorf("stock = %d, want 4", f.stock(t))
	}
}

func TestMerchantDeclineCancelsHold(t *testing.T) {
	f := newFixture(t)
	b := f.submit(t, "32.00").Bid

	declined, err := f.service.Decline(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if declined.Status != StatusDeclined {
		t.Fatalf("status = %s, want declined", declined.Status)
	}
	if !f.gateway.Canceled(b.PaymentRef) {
		t.Error("hold should be voided, not refunded")
	}
	if f.gateway.Refunded(b.PaymentRef) {
		t.Error("uncaptured payment must never be refunded")
	}
	if f.stock(t) != 5 {
		t.Errorf("stock = %d, want 5 (pending bids hold no stock)", f.stock(t))
	}
}

func TestDecisionsAreIdempotentWithConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	accepted := f.submit(t, "32.00").Bid
	if _, err := f.service.Accept(ctx, accepted.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	// Accepting again is a no-op.
	again, err := f.service.Accept(ctx, accepted.ID)
	if err != nil {
		t.Fatalf("second Accept: %v", err)
	}
	if again.Status != StatusAccepted {
		t.Errorf("status = %s, want accepted", again.Status)
	}
	if f.stock(t) != 4 {
		t.Errorf("stock = %d, want 4 (no double decrement)", f.stock(t))
	}

	// Declining an accepted bid is a conflict.
	if _, err := f.service.Decline(ctx, accepted.ID); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("Decline after Accept: err = %v, want ErrAlreadyResolved", err)
	}

	declined := f.submit(t, "31.00").Bid
	if _, err := f.service.Decline(ctx, declined.ID); err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if _, err := f.service.Decline(ctx, declined.ID); err != nil {
		t.Errorf("second Decline should be a no-op, got %v", err)
	}
	if _, err := f.service.Accept(ctx, declined.ID); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("Accept after Decline: err = %v, want ErrAlreadyResolved", err)
	}
}

func TestAcceptCaptureFailureReleasesStock(t *testing.T) {
	f := newFixture(t)
	b := f.submit(t, "32.00").Bid

	f.gateway.CaptureErr = &payment.GatewayError{
		Code: payment.ErrCodeNetwork,
		Err:  errors.New("timeout"),
	}
	if _, err := f.service.Accept(context.Background(), b.ID); err == nil {
		t.Fatal("expected capture failure")
	}

	if f.stock(t) != 5 {
		t.Errorf("stock = %d, want 5 after compensating release", f.stock(t))
	}

	got, _ := f.service.Get(context.Background(), b.ID)
	if got.Status != StatusPending {
		t.Errorf("status = %s, want pending (retryable)", got.Status)
	}

	// The decision succeeds once the gateway recovers.
	f.gateway.CaptureErr = nil
	if _, err := f.service.Accept(context.Background(), b.ID); err != nil {
		t.Fatalf("retry Accept: %v", err)
	}
	if f.stock(t) != 4 {
		t.Errorf("stock = %d, want 4", f.stock(t))
	}
}

// racingDeclineStore declines the bid out from under the caller right
// before the status write, simulating another replica winning the
// cross-process CAS with a decline.
type racingDeclineStore struct {
	*MemoryStore
	raced bool
}

func (r *racingDeclineStore) UpdateStatusFrom(ctx context.Context, b *Bid, from Status) error {
	if !r.raced && b.Status == StatusAccepted {
		r.raced = true
		r.mu.Lock()
		if stored, ok := r.bids[b.ID]; ok {
			stored.Status = StatusDeclined
			stored.Resolution = ResolutionSweepDecline
		}
		r.mu.Unlock()
	}
	return r.MemoryStore.UpdateStatusFrom(ctx, b, from)
}

func TestAcceptRefundsCaptureLostToDecline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.submit(t, "32.00").Bid

	raced := &racingDeclineStore{MemoryStore: f.store}
	svc := NewService(raced, f.offers, f.merchants, f.gateway)

	_, err := svc.Accept(ctx, b.ID)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("Accept = %v, want ErrConflict", err)
	}

	// The winner declined, so the capture we took must come back.
	if !f.gateway.Refunded(b.PaymentRef) {
		t.Error("captured charge was not refunded after losing the race")
	}
	if f.stock(t) != 5 {
		t.Errorf("stock = %d, want 5 after compensating release", f.stock(t))
	}

	got, _ := f.store.Get(ctx, b.ID)
	if got.Status != StatusDeclined {
		t.Errorf("status = %s, want the winner's declined state", got.Status)
	}
}

func TestConcurrentAcceptsNeverOversell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.offer.StockQuantity = 1
	if err := f.offers.Update(ctx, f.offer); err != nil {
		t.Fatalf("update offer: %v", err)
	}

	var bids []string
	for i := 0; i < 8; i++ {
		bids = append(bids, f.submit(t, "32.00").Bid.ID)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	soldOut := 0
	for _, id := range bids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.service.Accept(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, ErrSoldOut):
				soldOut++
			default:
				t.Errorf("Accept(%s): %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	if accepted != 1 {
		t.Errorf("accepted = %d, want exactly 1", accepted)
	}
	if soldOut != 7 {
		t.Errorf("sold out = %d, want 7", soldOut)
	}
	if f.stock(t) != 0 {
		t.Errorf("stock = %d, want 0", f.stock(t))
	}
}

func TestShippingAddressIsWriteOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := f.submit(t, "37.50").Bid
	addr := &ShippingAddress{
		Line1:      "1 Main St",
		City:       "Springfield",
		PostalCode: "12345",
		Country:    "US",
	}

	updated, err := f.service.SetShippingAddress(ctx, b.ID, addr)
	if err != nil {
		t.Fatalf("SetShippingAddress: %v", err)
	}
	if updated.ShippingAddress == nil || updated.ShippingAddress.Line1 != "1 Main St" {
		t.Errorf("address not stored: %+v", updated.ShippingAddress)
	}

	_, err = f.service.SetShippingAddress(ctx, b.ID, &ShippingAddress{
		Line1: "2 Other Rd", City: "Shelbyville", PostalCode: "99999", Country: "US",
	})
	if !errors.Is(err, ErrShippingAlreadySet) {
		t.Errorf("second write: err = %v, want ErrShippingAlreadySet", err)
	}

	got, _ := f.service.Get(ctx, b.ID)
	if got.ShippingAddress.Line1 != "1 Main St" {
		t.Errorf("address mutated to %q", got.ShippingAddress.Line1)
	}
}

func TestPendingSubmitWritesConsumedIntent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := f.submit(t, "32.00").Bid

	stale, err := f.store.ListStaleIntents(ctx, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStaleIntents: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("consumed intents must never look stale, got %d", len(stale))
	}
	if b.PaymentRef == "" {
		t.Error("expected payment ref on pending bid")
	}
}

func TestAuthorizeFailureLeavesNoStaleIntent(t *testing.T) {
	f := newFixture(t)
	f.gateway.AuthorizeErr = &payment.GatewayError{
		Code: payment.ErrCodeNetwork,
		Err:  errors.New("timeout"),
	}

	_, err := f.service.Submit(context.Background(), SubmitParams{
		OfferID:       f.offer.ID,
		Amount:        money.MustParse("32.00"),
		CustomerEmail: "shopper@example.com",
	})
	if err == nil {
		t.Fatal("expected authorize failure")
	}

	stale, err := f.store.ListStaleIntents(context.Background(), time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStaleIntents: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("failed intents must not look stale, got %d", len(stale))
	}
}
