package offer

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ivooa3/mybidly/internal/money"
	"github.com/ivooa3/mybidly/internal/validation"
)

// Handler provides HTTP endpoints for offer management. Amounts cross the
// wire as decimal strings ("37.50").
type Handler struct {
	service *Service
}

// NewHandler creates a new offer handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up merchant-facing offer routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/merchants/:id/offers", h.CreateOffer)
	r.GET("/merchants/:id/offers", h.ListOffers)
	r.GET("/offers/:id", h.GetOffer)
	r.PUT("/offers/:id", h.UpdateOffer)
	r.DELETE("/offers/:id", h.DeleteOffer)
}

// OfferRequest is the body for offer create and update.
type OfferRequest struct {
	Name            string `json:"name"`
	MinSellingPrice string `json:"minSellingPrice"`
	FixedPrice      string `json:"fixedPrice"`
	BidRangeMin     string `json:"bidRangeMin"`
	BidRangeMax     string `json:"bidRangeMax"`
	StockQuantity   int    `json:"stockQuantity"`
	Priority        int    `json:"priority"`
	IsActive        *bool  `json:"isActive"`
}

func (r *OfferRequest) validate() validation.ValidationErrors {
	return validation.Validate(
		validation.Required("name", r.Name),
		validation.MaxLength("name", r.Name, 200),
		validation.Required("minSellingPrice", r.MinSellingPrice),
		validation.ValidAmount("minSellingPrice", r.MinSellingPrice),
		validation.Required("fixedPrice", r.FixedPrice),
		validation.ValidAmount("fixedPrice", r.FixedPrice),
		validation.Required("bidRangeMin", r.BidRangeMin),
		validation.ValidAmount("bidRangeMin", r.BidRangeMin),
		validation.Required("bidRangeMax", r.BidRangeMax),
		validation.ValidAmount("bidRangeMax", r.BidRangeMax),
	)
}

func (r *OfferRequest) apply(o *Offer) error {
	var err error
	if o.MinSellingPrice, err = money.Parse(r.MinSellingPrice); err != nil {
		return err
	}
	if o.FixedPrice, err = money.Parse(r.FixedPrice); err != nil {
		return err
	}
	if o.BidRangeMin, err = money.Parse(r.BidRangeMin); err != nil {
		return err
	}
	if o.BidRangeMax, err = money.Parse(r.BidRangeMax); err != nil {
		return err
	}
	o.Name = r.Name
	o.StockQuantity = r.StockQuantity
	o.Priority = r.Priority
	if r.IsActive != nil {
		o.IsActive = *r.IsActive
	}
	return nil
}

// CreateOffer handles POST /v1/merchants/:id/offers
func (h *Handler) CreateOffer(c *gin.Context) {
	var req OfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := req.validate(); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	o := &Offer{MerchantID: c.Param("id"), IsActive: true}
	if err := req.apply(o); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": err.Error()})
		return
	}

	created, err := h.service.Create(c.Request.Context(), o)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrInvalidRange):
			status = http.StatusBadRequest
			code = "invalid_range"
		case errors.Is(err, ErrInvalidStock):
			status = http.StatusBadRequest
			code = "invalid_stock"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"offer": created})
}

// GetOffer handles GET /v1/offers/:id
func (h *Handler) GetOffer(c *gin.Context) {
	o, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrOfferNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Offer not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"offer": o})
}

// UpdateOffer handles PUT /v1/offers/:id
func (h *Handler) UpdateOffer(c *gin.Context) {
	var req OfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := req.validate(); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	o, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrOfferNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Offer not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	if err := req.apply(o); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": err.Error()})
		return
	}

	updated, err := h.service.Update(c.Request.Context(), o)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrInvalidRange):
			status = http.StatusBadRequest
			code = "invalid_range"
		case errors.Is(err, ErrInvalidStock):
			status = http.StatusBadRequest
			code = "invalid_stock"
		case errors.Is(err, ErrOfferNotFound):
			status = http.StatusNotFound
			code = "not_found"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"offer": updated})
}

// DeleteOffer handles DELETE /v1/offers/:id
func (h *Handler) DeleteOffer(c *gin.Context) {
	err := h.service.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrOfferNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Offer not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ListOffers handles GET /v1/merchants/:id/offers
func (h *Handler) ListOffers(c *gin.Context) {
	offers, err := h.service.ListByMerchant(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"offers": offers,
		"count":  len(offers),
	})
}
