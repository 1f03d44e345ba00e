package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"world-indexer.backend/internal/domain/entities"
	domainerrors "world-indexer.backend/internal/domain/errors"
	"world-indexer.backend/internal/domain/repositories"
	"world-indexer.backend/internal/interfaces/http/response"
)

// QueryHandler serves the entity and event message query endpoints.
type QueryHandler struct {
	reader repositories.WorldReader
}

func NewQueryHandler(reader repositories.WorldReader) *QueryHandler {
	return &QueryHandler{reader: reader}
}

// ClauseRequest is the wire form of a query filter. Exactly one field is set.
type ClauseRequest struct {
	HashedKeys []string                `json:"hashedKeys,omitempty"`
	Keys       *KeysClauseRequest      `json:"keys,omitempty"`
	Member     *MemberClauseRequest    `json:"member,omitempty"`
	Composite  *CompositeClauseRequest `json:"composite,omitempty"`
}

type KeysClauseRequest struct {
	Keys    []*string `json:"keys"`
	Pattern string    `json:"pattern"`
	Models  []string  `json:"models,omitempty"`
}

type MemberClauseRequest struct {
	Model    string   `json:"model" binding:"required"`
	Member   string   `json:"member" binding:"required"`
	Operator string   `json:"operator" binding:"required"`
	Value    *string  `json:"value,omitempty"`
	Values   []string `json:"values,omitempty"`
}

type CompositeClauseRequest struct {
	Operator string          `json:"operator" binding:"required"`
	Clauses  []ClauseRequest `json:"clauses" binding:"required"`
}

type OrderByRequest struct {
	Model     string `json:"model" binding:"required"`
	Member    string `json:"member" binding:"required"`
	Direction string `json:"direction,omitempty"`
}

// QueryRequest is the wire form of a cross-model read.
type QueryRequest struct {
	Clause       *ClauseRequest   `json:"clause,omitempty"`
	Models       []string         `json:"models,omitempty"`
	Limit        uint32           `json:"limit,omitempty"`
	Cursor       string           `json:"cursor,omitempty"`
	Direction    string           `json:"direction,omitempty"`
	OrderBy      []OrderByRequest `json:"orderBy,omitempty"`
	NoHashedKeys bool             `json:"noHashedKeys,omitempty"`
	Historical   bool             `json:"historical,omitempty"`
}

func (r *QueryRequest) toQuery() (entities.Query, error) {
	query := entities.Query{
		Models: r.Models,
		Pagination: entities.Pagination{
			Cursor: r.Cursor,
			Limit:  r.Limit,
		},
		NoHashedKeys: r.NoHashedKeys,
		Historical:   r.Historical,
	}

	switch r.Direction {
	case "", "forward":
		query.Pagination.Direction = entities.PageForward
	case "backward":
		query.Pagination.Direction = entities.PageBackward
	default:
		return entities.Query{}, domainerrors.BadRequest("direction must be forward or backward")
	}

	for _, o := range r.OrderBy {
		direction := entities.OrderAsc
		if o.Direction == "DESC" {
			direction = entities.OrderDesc
		}
		query.Pagination.OrderBy = append(query.Pagination.OrderBy, entities.OrderBy{
			Model: o.Model, Member: o.Member, Direction: direction,
		})
	}

	if r.Clause != nil {
		clause, err := r.Clause.toClause()
		if err != nil {
			return entities.Query{}, err
		}
		query.Clause = clause
	}
	return query, nil
}

func (r *ClauseRequest) toClause() (entities.Clause, error) {
	switch {
	case len(r.HashedKeys) > 0:
		return entities.HashedKeysClause{IDs: r.HashedKeys}, nil
	case r.Keys != nil:
		pattern := entities.FixedLen
		switch r.Keys.Pattern {
		case "", "FixedLen":
		case "VariableLen":
			pattern = entities.VariableLen
		default:
			return nil, domainerrors.BadRequest("pattern must be FixedLen or VariableLen")
		}
		return entities.KeysClause{Keys: r.Keys.Keys, Pattern: pattern, Models: r.Keys.Models}, nil
	case r.Member != nil:
		value := entities.MemberValue{String: r.Member.Value}
		if len(r.Member.Values) > 0 {
			for i := range r.Member.Values {
				value.List = append(value.List, entities.MemberValue{String: &r.Member.Values[i]})
			}
			value.String = nil
		}
		if value.String == nil && len(value.List) == 0 {
			return nil, domainerrors.BadRequest("member clause needs a value")
		}
		return entities.MemberClause{
			Model:    r.Member.Model,
			Member:   r.Member.Member,
			Operator: entities.ComparisonOperator(r.Member.Operator),
			Value:    value,
		}, nil
	case r.Composite != nil:
		op := entities.LogicalOperator(r.Composite.Operator)
		if op != entities.LogicalAnd && op != entities.LogicalOr {
			return nil, domainerrors.BadRequest("composite operator must be AND or OR")
		}
		clauses := make([]entities.Clause, 0, len(r.Composite.Clauses))
		for i := range r.Composite.Clauses {
			sub, err := r.Composite.Clauses[i].toClause()
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, sub)
		}
		return entities.CompositeClause{Operator: op, Clauses: clauses}, nil
	}
	return nil, domainerrors.BadRequest("clause needs hashedKeys, keys, member or composite")
}

type entityResponse struct {
	ID         string           `json:"id"`
	Keys       string           `json:"keys,omitempty"`
	EventID    string           `json:"eventId"`
	ExecutedAt string           `json:"executedAt"`
	UpdatedAt  string           `json:"updatedAt"`
	Models     []map[string]any `json:"models"`
}

func toPageResponse(page *entities.Page) gin.H {
	items := make([]entityResponse, 0, len(page.Items))
	for _, e := range page.Items {
		models := make([]map[string]any, 0, len(e.Models))
		for _, m := range e.Models {
			models = append(models, map[string]any{m.Name(): m.JSONValue()})
		}
		items = append(items, entityResponse{
			ID:         e.ID,
			Keys:       e.Keys,
			EventID:    e.EventID,
			ExecutedAt: e.ExecutedAt,
			UpdatedAt:  e.UpdatedAt,
			Models:     models,
		})
	}
	return gin.H{"items": items, "nextCursor": page.NextCursor}
}

// QueryEntities runs a cross-model entity query
// POST /api/v1/entities/query
func (h *QueryHandler) QueryEntities(c *gin.Context) {
	h.query(c, h.reader.Entities)
}

// QueryEventMessages runs a cross-model event message query
// POST /api/v1/event-messages/query
func (h *QueryHandler) QueryEventMessages(c *gin.Context) {
	h.query(c, h.reader.EventMessages)
}

func (h *QueryHandler) query(c *gin.Context, run func(ctx context.Context, q entities.Query) (*entities.Page, error)) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	query, err := req.toQuery()
	if err != nil {
		response.Error(c, err)
		return
	}

	page, err := run(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, toPageResponse(page))
}

// ListModels lists the registered model schemas
// GET /api/v1/models
func (h *QueryHandler) ListModels(c *gin.Context) {
	models, err := h.reader.Models(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]gin.H, 0, len(models))
	for _, m := range models {
		items = append(items, gin.H{
			"selector":     m.Selector,
			"tag":          m.Tag(),
			"namespace":    m.Namespace,
			"name":         m.Name,
			"classHash":    m.ClassHash,
			"address":      m.ContractAddress,
			"packedSize":   m.PackedSize,
			"unpackedSize": m.UnpackedSize,
		})
	}
	response.Success(c, http.StatusOK, gin.H{"items": items})
}

// GetModel returns one model with its full schema
// GET /api/v1/models/:selector
func (h *QueryHandler) GetModel(c *gin.Context) {
	selector := c.Param("selector")
	models, err := h.reader.Models(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	for _, m := range models {
		if m.Selector == selector || m.Tag() == selector {
			response.Success(c, http.StatusOK, gin.H{
				"selector":  m.Selector,
				"tag":       m.Tag(),
				"namespace": m.Namespace,
				"name":      m.Name,
				"schema":    m.Schema,
			})
			return
		}
	}
	response.Error(c, domainerrors.NotFound("model "+selector+" not registered"))
}
