package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ivooa3/mybidly/internal/config"
	"github.com/ivooa3/mybidly/internal/logging"
	"github.com/ivooa3/mybidly/internal/payment"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Port:          "0",
		Env:           "development",
		LogLevel:      "error",
		ReviewWindow:  10 * time.Minute,
		SweepInterval: time.Hour,
	}

	srv, err := New(cfg,
		WithLogger(logging.Discard()),
		WithGateway(payment.NewFakeGateway()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := testServer(t)

	if w := doJSON(t, srv, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", w.Code)
	}
	if w := doJSON(t, srv, http.MethodGet, "/health/live", nil); w.Code != http.StatusOK {
		t.Errorf("liveness: expected 200, got %d", w.Code)
	}
	// Readiness flips only after Run starts.
	if w := doJSON(t, srv, http.MethodGet, "/health/ready", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("readiness: expected 503 before start, got %d", w.Code)
	}
	if w := doJSON(t, srv, http.MethodGet, "/metrics", nil); w.Code != http.StatusOK {
		t.Errorf("metrics: expected 200, got %d", w.Code)
	}
}

// setupMerchantWithOffer walks the onboarding flow over HTTP and returns the
// merchant and offer IDs.
func setupMerchantWithOffer(t *testing.T, srv *Server) (string, string) {
	t.Helper()

	w := doJSON(t, srv, http.MethodPost, "/v1/merchants", map[string]interface{}{
		"name":                   "Glow Cosmetics",
		"platformFeeBasisPoints": 1000,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create merchant: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		Merchant struct {
			ID string `json:"id"`
		} `json:"merchant"`
	}
	decode(t, w, &created)
	merchantID := created.Merchant.ID

	w = doJSON(t, srv, http.MethodPost, "/v1/merchants/"+merchantID+"/gateway", map[string]string{
		"gatewayAccountId": "acct_test",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("connect gateway: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, srv, http.MethodPost, "/v1/merchants/"+merchantID+"/offers", map[string]interface{}{
		"name":            "Travel Serum Kit",
		"minSellingPrice": "30.00",
		"fixedPrice":      "37.50",
		"bidRangeMin":     "27.00",
		"bidRangeMax":     "37.50",
		"stockQuantity":   5,
		"priority":        1,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create offer: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var offerResp struct {
		Offer struct {
			ID string `json:"id"`
		} `json:"offer"`
	}
	decode(t, w, &offerResp)

	return merchantID, offerResp.Offer.ID
}

func TestBidFlowOverHTTP(t *testing.T) {
	srv := testServer(t)
	merchantID, offerID := setupMerchantWithOffer(t, srv)

	// Widget shows the offer without pricing internals.
	w := doJSON(t, srv, http.MethodGet, "/v1/widget/"+merchantID+"/offer", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("widget: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if bytes.Contains(w.Body.Bytes(), []byte("30.00")) {
		t.Error("widget response leaked the floor price")
	}

	// A bid at the fixed price settles instantly.
	w = doJSON(t, srv, http.MethodPost, "/v1/bids", map[string]string{
		"offerId":       offerID,
		"amount":        "37.50",
		"customerEmail": "shopper@example.com",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("submit: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var result struct {
		Bid struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"bid"`
	}
	decode(t, w, &result)
	if result.Bid.Status != "accepted" {
		t.Errorf("expected instant accept, got %s", result.Bid.Status)
	}

	// A mid-range bid stays pending for merchant review.
	w = doJSON(t, srv, http.MethodPost, "/v1/bids", map[string]string{
		"offerId":       offerID,
		"amount":        "31.00",
		"customerEmail": "shopper@example.com",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("submit pending: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	decode(t, w, &result)
	if result.Bid.Status != "pending" {
		t.Fatalf("expected pending, got %s", result.Bid.Status)
	}
	pendingID := result.Bid.ID

	// The merchant sees it and accepts.
	w = doJSON(t, srv, http.MethodGet, "/v1/merchants/"+merchantID+"/bids?status=pending", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list bids: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, srv, http.MethodPost, "/v1/bids/"+pendingID+"/accept", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	decode(t, w, &result)
	if result.Bid.Status != "accepted" {
		t.Errorf("expected accepted, got %s", result.Bid.Status)
	}

	// Shopper adds the shipping address once.
	addr := map[string]string{
		"line1":      "1 Main St",
		"city":       "Springfield",
		"postalCode": "12345",
		"country":    "US",
	}
	if w = doJSON(t, srv, http.MethodPatch, "/v1/bids/"+pendingID+"/shipping", addr); w.Code != http.StatusOK {
		t.Fatalf("shipping: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w = doJSON(t, srv, http.MethodPatch, "/v1/bids/"+pendingID+"/shipping", addr); w.Code != http.StatusConflict {
		t.Errorf("second shipping write: expected 409, got %d", w.Code)
	}
}

func TestBidValidationOverHTTP(t *testing.T) {
	srv := testServer(t)
	_, offerID := setupMerchantWithOffer(t, srv)

	cases := []struct {
		name string
		body map[string]string
		want int
	}{
		{"below range", map[string]string{"offerId": offerID, "amount": "20.00", "customerEmail": "a@b.co"}, http.StatusBadRequest},
		{"bad email", map[string]string{"offerId": offerID, "amount": "31.00", "customerEmail": "nope"}, http.StatusBadRequest},
		{"missing amount", map[string]string{"offerId": offerID, "customerEmail": "a@b.co"}, http.StatusBadRequest},
		{"unknown offer", map[string]string{"offerId": "off_missing", "amount": "31.00", "customerEmail": "a@b.co"}, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := doJSON(t, srv, http.MethodPost, "/v1/bids", tc.body); w.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestAdminSecretGuardsOperatorRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Port:          "0",
		Env:           "development",
		LogLevel:      "error",
		AdminSecret:   "topsecret",
		ReviewWindow:  10 * time.Minute,
		SweepInterval: time.Hour,
	}
	srv, err := New(cfg,
		WithLogger(logging.Discard()),
		WithGateway(payment.NewFakeGateway()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/sweep", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without secret, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/admin/sweep", nil)
	req.Header.Set("X-Admin-Secret", "topsecret")
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with secret, got %d: %s", w.Code, w.Body.String())
	}

	// Merchant management is behind the same guard.
	req = httptest.NewRequest(http.MethodGet, "/v1/merchants", nil)
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for merchant route without secret, got %d", w.Code)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-abc-123")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req-abc-123" {
		t.Errorf("expected request ID echoed back, got %q", got)
	}

	w2 := doJSON(t, srv, http.MethodGet, "/health", nil)
	if w2.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request ID header")
	}
}

func TestStockExhaustionOverHTTP(t *testing.T) {
	srv := testServer(t)
	_, offerID := setupMerchantWithOffer(t, srv)

	// Drain the 5 units at the fixed price.
	for i := 0; i < 5; i++ {
		w := doJSON(t, srv, http.MethodPost, "/v1/bids", map[string]string{
			"offerId":       offerID,
			"amount":        "37.50",
			"customerEmail": fmt.Sprintf("s%d@example.com", i),
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("bid %d: expected 201, got %d: %s", i, w.Code, w.Body.String())
		}
	}

	w := doJSON(t, srv, http.MethodPost, "/v1/bids", map[string]string{
		"offerId":       offerID,
		"amount":        "37.50",
		"customerEmail": "late@example.com",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 when sold out, got %d: %s", w.Code, w.Body.String())
	}
}
