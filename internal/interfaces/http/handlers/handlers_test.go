package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"world-indexer.backend/internal/domain/entities"
	domainerrors "world-indexer.backend/internal/domain/errors"
	"world-indexer.backend/internal/infrastructure/storage"
	"world-indexer.backend/internal/usecases"
)

type fakeReader struct {
	page      *entities.Page
	models    []*entities.Model
	lastQuery entities.Query
	err       error
}

func (f *fakeReader) Entities(ctx context.Context, query entities.Query) (*entities.Page, error) {
	f.lastQuery = query
	return f.page, f.err
}

func (f *fakeReader) EventMessages(ctx context.Context, query entities.Query) (*entities.Page, error) {
	f.lastQuery = query
	return f.page, f.err
}

func (f *fakeReader) Models(ctx context.Context) ([]*entities.Model, error) {
	return f.models, f.err
}

func (f *fakeReader) Cursors(ctx context.Context) ([]entities.ContractCursor, error) {
	return nil, f.err
}

func testModel() *entities.Model {
	return &entities.Model{
		Selector:  "0x00aa",
		Namespace: "ns",
		Name:      "Position",
		Schema: entities.Ty{Kind: entities.KindStruct, Struct: &entities.Struct{
			Name: "Position",
			Children: []entities.Member{
				{Name: "player", Ty: entities.NewPrimitiveTy(entities.PrimitiveContractAddress), Key: true},
			},
		}},
	}
}

func performJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func queryRouter(reader *fakeReader) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewQueryHandler(reader)
	router.POST("/api/v1/entities/query", h.QueryEntities)
	router.POST("/api/v1/event-messages/query", h.QueryEventMessages)
	router.GET("/api/v1/models", h.ListModels)
	router.GET("/api/v1/models/:selector", h.GetModel)
	return router
}

func TestQueryEntitiesMemberClause(t *testing.T) {
	reader := &fakeReader{page: &entities.Page{
		Items:      []entities.Entity{{ID: "0x1", EventID: "0x01:0x02:0x0000"}},
		NextCursor: "abc",
	}}
	router := queryRouter(reader)

	w := performJSON(t, router, http.MethodPost, "/api/v1/entities/query", QueryRequest{
		Clause: &ClauseRequest{Member: &MemberClauseRequest{
			Model: "ns-Position", Member: "vec.x", Operator: ">", Value: strPtr("3"),
		}},
		Limit: 10,
	})

	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Items      []map[string]any `json:"items"`
		NextCursor string           `json:"nextCursor"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Len(t, out.Items, 1)
	assert.Equal(t, "abc", out.NextCursor)

	clause, ok := reader.lastQuery.Clause.(entities.MemberClause)
	require.True(t, ok)
	assert.Equal(t, entities.OpGt, clause.Operator)
	assert.EqualValues(t, 10, reader.lastQuery.Pagination.Limit)
}

func TestQueryEntitiesRejectsBadDirection(t *testing.T) {
	router := queryRouter(&fakeReader{page: &entities.Page{}})
	w := performJSON(t, router, http.MethodPost, "/api/v1/entities/query", QueryRequest{Direction: "sideways"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryEntitiesRejectsEmptyClause(t *testing.T) {
	router := queryRouter(&fakeReader{page: &entities.Page{}})
	w := performJSON(t, router, http.MethodPost, "/api/v1/entities/query", QueryRequest{
		Clause: &ClauseRequest{},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryEntitiesCompositeClause(t *testing.T) {
	reader := &fakeReader{page: &entities.Page{}}
	router := queryRouter(reader)

	w := performJSON(t, router, http.MethodPost, "/api/v1/entities/query", QueryRequest{
		Clause: &ClauseRequest{Composite: &CompositeClauseRequest{
			Operator: "OR",
			Clauses: []ClauseRequest{
				{HashedKeys: []string{"0x1"}},
				{Member: &MemberClauseRequest{Model: "ns-Position", Member: "vec.x", Operator: "=", Value: strPtr("1")}},
			},
		}},
	})

	require.Equal(t, http.StatusOK, w.Code)
	composite, ok := reader.lastQuery.Clause.(entities.CompositeClause)
	require.True(t, ok)
	assert.Equal(t, entities.LogicalOr, composite.Operator)
	assert.Len(t, composite.Clauses, 2)
}

func TestQueryEventMessagesInvalidCursorStatus(t *testing.T) {
	reader := &fakeReader{err: domainerrors.InvalidCursor("cursor is not base64")}
	router := queryRouter(reader)
	w := performJSON(t, router, http.MethodPost, "/api/v1/event-messages/query", QueryRequest{Cursor: "zzz"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAndGetModel(t *testing.T) {
	reader := &fakeReader{models: []*entities.Model{testModel()}}
	router := queryRouter(reader)

	w := performJSON(t, router, http.MethodGet, "/api/v1/models", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ns-Position")

	w = performJSON(t, router, http.MethodGet, "/api/v1/models/ns-Position", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"schema"`)

	w = performJSON(t, router, http.MethodGet, "/api/v1/models/0xdead", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	world := entities.NewWorld(new(felt.Felt).SetUint64(0x1))
	engine := usecases.NewEngine(nil, nil, nil, nil, world, new(felt.Felt).SetUint64(0x1), usecases.EngineConfig{})
	h := NewWorldHandler(world, engine, &fakeReader{models: []*entities.Model{testModel()}})

	router := gin.New()
	router.GET("/health", h.Health)
	router.GET("/api/v1/status", h.Status)

	w := performJSON(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")

	w = performJSON(t, router, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), world.Address)
	assert.Contains(t, w.Body.String(), `"models":1`)
}

type fakeConsumer struct{ raw []byte }

func (f *fakeConsumer) HandleRaw(ctx context.Context, raw []byte) error {
	f.raw = raw
	return nil
}

type fakePublisher struct{ raw []byte }

func (f *fakePublisher) Publish(ctx context.Context, raw []byte) error {
	f.raw = raw
	return nil
}

func TestSubmitMessageForwardsToRelay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	consumer := &fakeConsumer{}
	publisher := &fakePublisher{}
	router := gin.New()
	router.POST("/api/v1/messages", NewMessageHandler(consumer, publisher).Submit)

	body := map[string]any{"message": map[string]any{}, "signature": map[string]any{}}
	w := performJSON(t, router, http.MethodPost, "/api/v1/messages", body)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.NotEmpty(t, consumer.raw)
	assert.Equal(t, consumer.raw, publisher.raw)
}

type fakeSubscriber struct {
	ch        chan storage.Update
	cancelled bool
}

func (f *fakeSubscriber) Subscribe() (<-chan storage.Update, func()) {
	return f.ch, func() { f.cancelled = true }
}

// streamRecorder adds the CloseNotify gin's Stream helper expects from the
// underlying writer.
type streamRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *streamRecorder) CloseNotify() <-chan bool { return r.closed }

func TestSubscribeStreamsCommittedUpdates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sub := &fakeSubscriber{ch: make(chan storage.Update, 2)}
	sub.ch <- storage.Update{Kind: storage.UpdateEntity, ID: "0x1", ModelTag: "ns-Position"}
	sub.ch <- storage.Update{Kind: storage.UpdateModel, ID: "0xaa", ModelTag: "ns-Position"}
	close(sub.ch)

	router := gin.New()
	router.GET("/api/v1/entities/subscribe", NewSubscriptionHandler(sub).Subscribe)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/entities/subscribe", nil)
	w := &streamRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool)}
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")
	body := w.Body.String()
	assert.Contains(t, body, "event:entity")
	assert.Contains(t, body, "event:model")
	assert.Contains(t, body, "ns-Position")
	assert.True(t, sub.cancelled)
}

func strPtr(s string) *string { return &s }
