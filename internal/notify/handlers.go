package notify

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ivooa3/mybidly/internal/idgen"
	"github.com/ivooa3/mybidly/internal/security"
)

var validEvents = map[EventType]bool{
	EventBidSubmitted:  true,
	EventBidAccepted:   true,
	EventBidDeclined:   true,
	EventOrderReceived: true,
}

// Handler provides HTTP endpoints for webhook subscription management
type Handler struct {
	store Store
}

// NewHandler creates a new webhook handler
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up webhook subscription routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/merchants/:id/webhooks", h.CreateWebhook)
	r.GET("/merchants/:id/webhooks", h.ListWebhooks)
	r.DELETE("/merchants/:id/webhooks/:webhookId", h.DeleteWebhook)
}

// CreateWebhookRequest for creating a webhook subscription
type CreateWebhookRequest struct {
	URL    string   `json:"url" binding:"required"`
	Events []string `json:"events" binding:"required"`
}

// CreateWebhook handles POST /v1/merchants/:id/webhooks
func (h *Handler) CreateWebhook(c *gin.Context) {
	merchantID := c.Param("id")

	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if err := security.ValidateEndpointURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_url",
			"message": err.Error(),
		})
		return
	}

	events := make([]EventType, 0, len(req.Events))
	for _, e := range req.Events {
		et := EventType(e)
		if !validEvents[et] {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_event",
				"message": "unknown event type: " + e,
			})
			return
		}
		events = append(events, et)
	}

	secret := idgen.Hex(32)
	sub := &Subscription{
		ID:         idgen.WithPrefix("wh_"),
		MerchantID: merchantID,
		URL:        req.URL,
		Secret:     secret,
		Events:     events,
		Active:     true,
		CreatedAt:  time.Now(),
	}

	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "create_failed",
			"message": "Failed to create webhook",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"webhook": sub,
		"secret":  secret, // Only shown once!
		"usage": gin.H{
			"signature": "Verify with HMAC-SHA256(payload, secret)",
			"header":    "X-Bidly-Signature",
		},
	})
}

// ListWebhooks handles GET /v1/merchants/:id/webhooks
func (h *Handler) ListWebhooks(c *gin.Context) {
	subs, err := h.store.GetByMerchant(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": "Failed to list webhooks",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"webhooks": subs,
		"count":    len(subs),
	})
}

// DeleteWebhook handles DELETE /v1/merchants/:id/webhooks/:webhookId
func (h *Handler) DeleteWebhook(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("webhookId")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "delete_failed",
			"message": "Failed to delete webhook",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "deleted",
		"message": "Webhook deleted",
	})
}
