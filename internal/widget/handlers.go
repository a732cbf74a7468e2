package widget

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ivooa3/mybidly/internal/idgen"
	"github.com/ivooa3/mybidly/internal/metrics"
	"github.com/ivooa3/mybidly/internal/offer"
	"github.com/ivooa3/mybidly/internal/validation"
)

// OfferSource returns the one offer a merchant currently presents.
type OfferSource interface {
	ActiveForMerchant(ctx context.Context, merchantID string) (*offer.Offer, error)
}

// Handler serves the shopper-facing widget endpoints.
type Handler struct {
	offers OfferSource
	views  ViewStore
	logger *slog.Logger
}

// NewHandler creates a new widget handler.
func NewHandler(offers OfferSource, views ViewStore, logger *slog.Logger) *Handler {
	return &Handler{offers: offers, views: views, logger: logger}
}

// RegisterRoutes sets up public widget routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/widget/:merchantId/offer", h.GetActiveOffer)
	r.POST("/widget/views", h.RecordView)
}

// RegisterMerchantRoutes sets up merchant reporting routes.
func (h *Handler) RegisterMerchantRoutes(r *gin.RouterGroup) {
	r.GET("/merchants/:id/widget/stats", h.GetStats)
}

// GetActiveOffer handles GET /v1/widget/:merchantId/offer
//
// Serving the offer and logging the impression happen together; the log is
// best-effort and never blocks the widget.
func (h *Handler) GetActiveOffer(c *gin.Context) {
	merchantID := c.Param("merchantId")

	o, err := h.offers.ActiveForMerchant(c.Request.Context(), merchantID)
	if err != nil {
		if errors.Is(err, offer.ErrOfferNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "no_active_offer",
				"message": "No offer is currently available",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	view := &View{
		ID:         idgen.WithPrefix("wv_"),
		MerchantID: merchantID,
		OfferID:    o.ID,
		Outcome:    OutcomeViewed,
		Locale:     validation.SanitizeString(c.Query("locale"), 16),
		CreatedAt:  time.Now(),
	}
	if err := h.views.Record(c.Request.Context(), view); err != nil {
		h.logger.Warn("failed to record widget view", "merchantId", merchantID, "error", err)
	}
	metrics.WidgetViewsTotal.Inc()

	c.JSON(http.StatusOK, gin.H{"offer": NewOfferView(o)})
}

// RecordViewRequest is the widget's outcome beacon.
type RecordViewRequest struct {
	MerchantID string `json:"merchantId" binding:"required"`
	OfferID    string `json:"offerId" binding:"required"`
	Outcome    string `json:"outcome" binding:"required"`
	Locale     string `json:"locale"`
}

// RecordView handles POST /v1/widget/views
//
// The embed reports what the shopper did after the offer rendered. Viewed
// impressions are logged server-side; the widget reports dismissals and
// bid clicks here.
func (h *Handler) RecordView(c *gin.Context) {
	var req RecordViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "merchantId, offerId and outcome are required",
		})
		return
	}

	outcome := Outcome(req.Outcome)
	if !ValidOutcome(outcome) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_outcome",
			"message": "outcome must be one of: viewed, dismissed, bid",
		})
		return
	}

	view := &View{
		ID:         idgen.WithPrefix("wv_"),
		MerchantID: validation.SanitizeString(req.MerchantID, 64),
		OfferID:    validation.SanitizeString(req.OfferID, 64),
		Outcome:    outcome,
		Locale:     validation.SanitizeString(req.Locale, 16),
		CreatedAt:  time.Now(),
	}
	if err := h.views.Record(c.Request.Context(), view); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "record_failed",
			"message": "Failed to record view",
		})
		return
	}
	metrics.WidgetViewsTotal.Inc()

	c.JSON(http.StatusCreated, gin.H{"viewId": view.ID})
}

// GetStats handles GET /v1/merchants/:id/widget/stats
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.views.StatsByMerchant(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": stats})
}
