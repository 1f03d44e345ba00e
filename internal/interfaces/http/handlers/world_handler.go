package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"world-indexer.backend/internal/domain/entities"
	"world-indexer.backend/internal/domain/repositories"
	"world-indexer.backend/internal/interfaces/http/response"
	"world-indexer.backend/internal/usecases"
)

// WorldHandler serves the health and status endpoints.
type WorldHandler struct {
	world  *entities.World
	engine *usecases.Engine
	reader repositories.WorldReader
}

func NewWorldHandler(world *entities.World, engine *usecases.Engine, reader repositories.WorldReader) *WorldHandler {
	return &WorldHandler{world: world, engine: engine, reader: reader}
}

// Health reports liveness
// GET /health
func (h *WorldHandler) Health(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"status": "ok"})
}

// Status reports the replica and indexing state
// GET /api/v1/status
func (h *WorldHandler) Status(c *gin.Context) {
	cursor := h.engine.Cursor()

	resources := gin.H{}
	for kind, count := range h.world.ResourceCount() {
		resources[string(kind)] = count
	}

	models, err := h.reader.Models(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"world": gin.H{
			"address":      h.world.Address,
			"classHashes":  h.world.ClassHashes,
			"metadataHash": h.world.MetadataHash,
			"resources":    resources,
		},
		"indexing": gin.H{
			"head":               cursor.Head,
			"lastBlockTimestamp": cursor.LastBlockTimestamp,
			"transactions":       cursor.TxnsCount,
			"pendingTx":          cursor.LastPendingBlockTx,
		},
		"models": len(models),
	})
}
