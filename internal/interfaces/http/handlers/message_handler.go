package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"world-indexer.backend/internal/interfaces/http/response"
)

// MessagePublisher broadcasts a raw envelope to the relay topic.
type MessagePublisher interface {
	Publish(ctx context.Context, raw []byte) error
}

// MessageConsumer validates and stores a raw envelope.
type MessageConsumer interface {
	HandleRaw(ctx context.Context, raw []byte) error
}

// MessageHandler accepts signed off-chain messages over HTTP and mirrors
// them to the gossip topic when a relay is attached.
type MessageHandler struct {
	consumer  MessageConsumer
	publisher MessagePublisher
}

func NewMessageHandler(consumer MessageConsumer, publisher MessagePublisher) *MessageHandler {
	return &MessageHandler{consumer: consumer, publisher: publisher}
}

// Submit ingests one signed message
// POST /api/v1/messages
func (h *MessageHandler) Submit(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.ErrorWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "unreadable body")
		return
	}

	if err := h.consumer.HandleRaw(c.Request.Context(), raw); err != nil {
		response.Error(c, err)
		return
	}

	if h.publisher != nil {
		if err := h.publisher.Publish(c.Request.Context(), raw); err != nil {
			response.Error(c, err)
			return
		}
	}
	response.Success(c, http.StatusAccepted, gin.H{"status": "accepted"})
}
