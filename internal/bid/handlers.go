package bid

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ivooa3/mybidly/internal/money"
	"github.com/ivooa3/mybidly/internal/payment"
	"github.com/ivooa3/mybidly/internal/validation"
)

// Handler provides HTTP endpoints for the bid lifecycle.
type Handler struct {
	service *Service
	sweeper *Sweeper
}

// NewHandler creates a new bid handler.
func NewHandler(service *Service, sweeper *Sweeper) *Handler {
	return &Handler{service: service, sweeper: sweeper}
}

// RegisterRoutes sets up public (shopper-facing) bid routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/bids", h.SubmitBid)
	r.GET("/bids/:id", h.GetBid)
	r.PATCH("/bids/:id/shipping", h.SetShipping)
}

// RegisterMerchantRoutes sets up merchant decision routes.
func (h *Handler) RegisterMerchantRoutes(r *gin.RouterGroup) {
	r.POST("/bids/:id/accept", h.AcceptBid)
	r.POST("/bids/:id/decline", h.DeclineBid)
	r.GET("/merchants/:id/bids", h.ListMerchantBids)
}

// RegisterAdminRoutes sets up operator routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/sweep", h.RunSweep)
}

// SubmitRequest is the body for POST /v1/bids.
type SubmitRequest struct {
	OfferID       string `json:"offerId"`
	Amount        string `json:"amount"`
	CustomerEmail string `json:"customerEmail"`
	CustomerName  string `json:"customerName"`
	Locale        string `json:"locale"`
}

// SubmitBid handles POST /v1/bids
func (h *Handler) SubmitBid(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("offerId", req.OfferID),
		validation.Required("amount", req.Amount),
		validation.ValidAmount("amount", req.Amount),
		validation.Required("customerEmail", req.CustomerEmail),
		validation.ValidEmail("customerEmail", req.CustomerEmail),
		validation.MaxLength("customerName", req.CustomerName, 200),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	amount, err := money.Parse(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": err.Error()})
		return
	}

	result, err := h.service.Submit(c.Request.Context(), SubmitParams{
		OfferID:       req.OfferID,
		Amount:        amount,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  validation.SanitizeString(req.CustomerName, 200),
		Locale:        validation.SanitizeString(req.Locale, 16),
	})
	if err != nil {
		h.submitError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (h *Handler) submitError(c *gin.Context, err error) {
	if gwErr, ok := payment.AsGatewayError(err); ok {
		switch gwErr.Code {
		case payment.ErrCodeDeclined:
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error":   "card_declined",
				"message": "The card was declined",
			})
		default:
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "gateway_error",
				"message": "Payment processing is temporarily unavailable",
			})
		}
		return
	}

	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrOfferUnavailable):
		status = http.StatusConflict
		code = "offer_unavailable"
	case errors.Is(err, ErrSoldOut):
		status = http.StatusConflict
		code = "sold_out"
	case errors.Is(err, ErrOutOfRange):
		status = http.StatusBadRequest
		code = "out_of_range"
	case errors.Is(err, ErrPaymentNotConfigured):
		status = http.StatusConflict
		code = "payment_not_configured"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

// GetBid handles GET /v1/bids/:id
func (h *Handler) GetBid(c *gin.Context) {
	b, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrBidNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Bid not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"bid": b})
}

// SetShipping handles PATCH /v1/bids/:id/shipping
func (h *Handler) SetShipping(c *gin.Context) {
	var addr ShippingAddress
	if err := c.ShouldBindJSON(&addr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("line1", addr.Line1),
		validation.Required("city", addr.City),
		validation.Required("postalCode", addr.PostalCode),
		validation.Required("country", addr.Country),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	b, err := h.service.SetShippingAddress(c.Request.Context(), c.Param("id"), &addr)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrBidNotFound):
			status = http.StatusNotFound
			code = "not_found"
		case errors.Is(err, ErrShippingAlreadySet):
			status = http.StatusConflict
			code = "shipping_already_set"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"bid": b})
}

// AcceptBid handles POST /v1/bids/:id/accept
func (h *Handler) AcceptBid(c *gin.Context) {
	b, err := h.service.Accept(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.decisionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"bid": b})
}

// DeclineBid handles POST /v1/bids/:id/decline
func (h *Handler) DeclineBid(c *gin.Context) {
	b, err := h.service.Decline(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.decisionError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"bid": b})
}

func (h *Handler) decisionError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrBidNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrAlreadyResolved), errors.Is(err, ErrConflict):
		status = http.StatusConflict
		code = "already_resolved"
	case errors.Is(err, ErrSoldOut):
		status = http.StatusConflict
		code = "sold_out"
	case errors.Is(err, ErrOfferUnavailable):
		status = http.StatusConflict
		code = "offer_unavailable"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

// ListMerchantBids handles GET /v1/merchants/:id/bids
func (h *Handler) ListMerchantBids(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	status := Status(c.Query("status"))

	bids, err := h.service.ListByMerchant(c.Request.Context(), c.Param("id"), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bids":  bids,
		"count": len(bids),
	})
}

// RunSweep handles POST /v1/admin/sweep
func (h *Handler) RunSweep(c *gin.Context) {
	report, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"report": report})
}
