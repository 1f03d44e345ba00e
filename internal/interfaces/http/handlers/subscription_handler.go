package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"world-indexer.backend/internal/infrastructure/storage"
)

// UpdateSubscriber hands out a feed of committed writes.
type UpdateSubscriber interface {
	Subscribe() (<-chan storage.Update, func())
}

// SubscriptionHandler streams committed updates to clients as server-sent
// events.
type SubscriptionHandler struct {
	broker UpdateSubscriber
}

func NewSubscriptionHandler(broker UpdateSubscriber) *SubscriptionHandler {
	return &SubscriptionHandler{broker: broker}
}

// Subscribe streams committed entity, event message and model updates
// GET /api/v1/entities/subscribe
func (h *SubscriptionHandler) Subscribe(c *gin.Context) {
	updates, cancel := h.broker.Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	c.Stream(func(w io.Writer) bool {
		select {
		case u, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent(string(u.Kind), gin.H{"id": u.ID, "model": u.ModelTag})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
