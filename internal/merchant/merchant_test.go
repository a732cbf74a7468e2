package merchant

import (
	"context"
	"testing"
)

func TestCreateAndOnboarding(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	m, err := svc.Create(ctx, "Acme Candles", 1500)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if m.ID == "" {
		t.Fatal("expected generated ID")
	}
	if m.CanReceiveBids() {
		t.Error("merchant without gateway account should not receive bids")
	}

	m, err = svc.ConnectGateway(ctx, m.ID, "acct_123")
	if err != nil {
		t.Fatalf("ConnectGateway: %v", err)
	}
	if !m.CanReceiveBids() {
		t.Error("onboarded merchant should receive bids")
	}
}

func TestCreateRejectsBadFee(t *testing.T) {
	svc := NewService(NewMemoryStore())

	for _, fee := range []int64{-1, 10001} {
		if _, err := svc.Create(context.Background(), "m", fee); err != ErrInvalidFee {
			t.Errorf("fee %d: expected ErrInvalidFee, got %v", fee, err)
		}
	}
}

func TestDeactivatedMerchantCannotReceiveBids(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	m, err := svc.Create(ctx, "Acme", 1000)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.ConnectGateway(ctx, m.ID, "acct_123"); err != nil {
		t.Fatalf("ConnectGateway: %v", err)
	}

	m, err = svc.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	m.IsActive = false
	m, err = svc.Update(ctx, m)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if m.CanReceiveBids() {
		t.Error("inactive merchant should not receive bids")
	}
}

func TestGetMissing(t *testing.T) {
	svc := NewService(NewMemoryStore())
	if _, err := svc.Get(context.Background(), "mch_nope"); err != ErrMerchantNotFound {
		t.Errorf("expected ErrMerchantNotFound, got %v", err)
	}
}
