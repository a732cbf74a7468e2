package merchant

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ivooa3/mybidly/internal/validation"
)

// Handler provides HTTP endpoints for merchant management.
type Handler struct {
	service *Service
}

// NewHandler creates a new merchant handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up admin merchant routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/merchants", h.CreateMerchant)
	r.GET("/merchants", h.ListMerchants)
	r.GET("/merchants/:id", h.GetMerchant)
	r.PUT("/merchants/:id", h.UpdateMerchant)
	r.POST("/merchants/:id/gateway", h.ConnectGateway)
}

// CreateRequest is the body for POST /v1/merchants.
type CreateRequest struct {
	Name                   string `json:"name"`
	PlatformFeeBasisPoints int64  `json:"platformFeeBasisPoints"`
}

// CreateMerchant handles POST /v1/merchants
func (h *Handler) CreateMerchant(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("name", req.Name),
		validation.MaxLength("name", req.Name, 200),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	m, err := h.service.Create(c.Request.Context(), req.Name, req.PlatformFeeBasisPoints)
	if err != nil {
		if errors.Is(err, ErrInvalidFee) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_fee", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create merchant",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"merchant": m})
}

// GetMerchant handles GET /v1/merchants/:id
func (h *Handler) GetMerchant(c *gin.Context) {
	m, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrMerchantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Merchant not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"merchant": m})
}

// UpdateRequest is the body for PUT /v1/merchants/:id.
type UpdateRequest struct {
	Name                   *string `json:"name"`
	PlatformFeeBasisPoints *int64  `json:"platformFeeBasisPoints"`
	IsActive               *bool   `json:"isActive"`
}

// UpdateMerchant handles PUT /v1/merchants/:id
func (h *Handler) UpdateMerchant(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	m, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrMerchantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Merchant not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	if req.Name != nil {
		m.Name = *req.Name
	}
	if req.PlatformFeeBasisPoints != nil {
		m.PlatformFeeBasisPoints = *req.PlatformFeeBasisPoints
	}
	if req.IsActive != nil {
		m.IsActive = *req.IsActive
	}

	updated, err := h.service.Update(c.Request.Context(), m)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		if errors.Is(err, ErrInvalidFee) {
			status = http.StatusBadRequest
			code = "invalid_fee"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"merchant": updated})
}

// ConnectGatewayRequest is the body for POST /v1/merchants/:id/gateway.
type ConnectGatewayRequest struct {
	GatewayAccountID string `json:"gatewayAccountId"`
}

// ConnectGateway handles POST /v1/merchants/:id/gateway
func (h *Handler) ConnectGateway(c *gin.Context) {
	var req ConnectGatewayRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.GatewayAccountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "gatewayAccountId is required",
		})
		return
	}

	m, err := h.service.ConnectGateway(c.Request.Context(), c.Param("id"), req.GatewayAccountID)
	if err != nil {
		if errors.Is(err, ErrMerchantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Merchant not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"merchant": m})
}

// ListMerchants handles GET /v1/merchants
func (h *Handler) ListMerchants(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	merchants, err := h.service.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"merchants": merchants,
		"count":     len(merchants),
	})
}
