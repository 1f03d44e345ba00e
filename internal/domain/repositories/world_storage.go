package repositories

import (
	"context"

	"world-indexer.backend/internal/domain/entities"
)

// WorldStorage is the write surface of the indexer store. Mutations are
// queued and become durable on Execute; Rollback discards everything queued
// since the previous Execute.
type WorldStorage interface {
	RegisterModel(ctx context.Context, model *entities.Model, blockTimestamp uint64, upgrade bool) error
	SetEntity(ctx context.Context, model *entities.Model, record entities.Ty, eventID, entityID, keys string, blockTimestamp uint64) error
	DeleteEntity(ctx context.Context, model *entities.Model, entityID string, blockTimestamp uint64) error
	SetEventMessage(ctx context.Context, model *entities.Model, record entities.Ty, eventID, entityID, keys string, blockTimestamp uint64, historical bool) error
	SetMetadata(ctx context.Context, resourceID, uri string, blockTimestamp uint64) error
	StoreEvent(ctx context.Context, event *entities.WorldEvent) error
	StoreTransaction(ctx context.Context, tx *entities.Transaction, blockTimestamp uint64) error
	SetHead(ctx context.Context, cursor entities.ContractCursor) error
	ResetCursors(ctx context.Context, cursors []entities.ContractCursor) error
	UpdateCursors(ctx context.Context, cursors []entities.ContractCursor) error
	Execute(ctx context.Context) error
	Rollback(ctx context.Context) error

	// Model resolves a registered model schema by selector, from cache.
	Model(selector string) (*entities.Model, error)
}

// WorldReader is the query surface over the indexed state.
type WorldReader interface {
	Entities(ctx context.Context, query entities.Query) (*entities.Page, error)
	EventMessages(ctx context.Context, query entities.Query) (*entities.Page, error)
	Models(ctx context.Context) ([]*entities.Model, error)
	Cursors(ctx context.Context) ([]entities.ContractCursor, error)
}
