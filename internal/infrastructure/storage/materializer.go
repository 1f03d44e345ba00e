package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"world-indexer.backend/internal/domain/entities"
	domainerrors "world-indexer.backend/internal/domain/errors"
)

// Materializer translates indexing mutations into SQL and feeds them to the
// executor. It is the only producer of model DDL; the model cache is updated
// synchronously at registration so record events arriving later in the same
// range can resolve the schema before the batch commits.
type Materializer struct {
	executor *Executor
	cache    *ModelCache
}

func NewMaterializer(executor *Executor, cache *ModelCache) *Materializer {
	return &Materializer{executor: executor, cache: cache}
}

func executedAt(blockTimestamp uint64) string {
	return time.Unix(int64(blockTimestamp), 0).UTC().Format(time.RFC3339)
}

// RegisterModel upserts the model row and creates or alters its table. On
// upgrade only new schema leaves are added; columns are never dropped.
func (m *Materializer) RegisterModel(ctx context.Context, model *entities.Model, blockTimestamp uint64, upgrade bool) error {
	schemaJSON, err := json.Marshal(model.Schema)
	if err != nil {
		return domainerrors.Storage(err)
	}

	if upgrade {
		old, err := m.cache.Get(model.Selector)
		if err != nil {
			return err
		}
		if diff := model.Schema.Diff(old.Schema); diff != nil {
			for _, stmt := range AlterModelTable(model.Tag(), model.Schema, old.Schema) {
				m.executor.Enqueue(stmt, nil)
			}
		}
	} else {
		m.executor.Enqueue(CreateModelTable(model.Tag(), model.Schema), nil)
	}

	m.executor.Enqueue(
		`INSERT INTO models (id, namespace, name, class_hash, contract_address, layout, schema, packed_size, unpacked_size, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   class_hash=excluded.class_hash, contract_address=excluded.contract_address,
		   layout=excluded.layout, schema=excluded.schema,
		   packed_size=excluded.packed_size, unpacked_size=excluded.unpacked_size,
		   executed_at=excluded.executed_at;`,
		[]any{model.Selector, model.Namespace, model.Name, model.ClassHash, model.ContractAddress,
			model.Layout, string(schemaJSON), model.PackedSize, model.UnpackedSize, executedAt(blockTimestamp)},
		Update{Kind: UpdateModel, ID: model.Selector, ModelTag: model.Tag()},
	)

	m.cache.Set(model)
	return nil
}

// SetEntity upserts the entity row, its model edge and the model table row.
func (m *Materializer) SetEntity(ctx context.Context, model *entities.Model, record entities.Ty, eventID, entityID, keys string, blockTimestamp uint64) error {
	at := executedAt(blockTimestamp)

	m.executor.Enqueue(
		`INSERT INTO entities (id, keys, event_id, executed_at, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET
		   updated_at=CURRENT_TIMESTAMP, executed_at=excluded.executed_at,
		   event_id=excluded.event_id, keys=COALESCE(excluded.keys, keys);`,
		[]any{entityID, nullable(keys), eventID, at},
	)
	m.executor.Enqueue(
		`INSERT INTO entity_model (entity_id, model_id) VALUES (?, ?) ON CONFLICT DO NOTHING;`,
		[]any{entityID, model.Selector},
	)

	values, err := FlattenValues("", record)
	if err != nil {
		return domainerrors.Storage(err)
	}
	stmt, args := UpsertModelRow(model.Tag(), entityID, entityID, "", eventID, at, values)
	m.executor.Enqueue(stmt, args,
		Update{Kind: UpdateEntity, ID: entityID, ModelTag: model.Tag()})
	return nil
}

// SetEventMessage mirrors SetEntity onto the event message tables. When the
// model is flagged historical each message is also appended to the log.
func (m *Materializer) SetEventMessage(ctx context.Context, model *entities.Model, record entities.Ty, eventID, entityID, keys string, blockTimestamp uint64, historical bool) error {
	at := executedAt(blockTimestamp)

	m.executor.Enqueue(
		`INSERT INTO event_messages (id, keys, event_id, executed_at, updated_at)
		 VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET
		   updated_at=CURRENT_TIMESTAMP, executed_at=excluded.executed_at,
		   event_id=excluded.event_id, keys=COALESCE(excluded.keys, keys);`,
		[]any{entityID, nullable(keys), eventID, at},
	)
	m.executor.Enqueue(
		`INSERT INTO entity_model (entity_id, model_id) VALUES (?, ?) ON CONFLICT DO NOTHING;`,
		[]any{entityID, model.Selector},
	)

	if historical {
		data, err := json.Marshal(record.JSONValue())
		if err != nil {
			return domainerrors.Storage(err)
		}
		m.executor.Enqueue(
			`INSERT INTO event_messages_historical (id, model_id, keys, event_id, data, executed_at)
			 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING;`,
			[]any{entityID, model.Selector, nullable(keys), eventID, string(data), at},
		)
	}

	values, err := FlattenValues("", record)
	if err != nil {
		return domainerrors.Storage(err)
	}
	stmt, args := UpsertModelRow(model.Tag(), entityID, "", entityID, eventID, at, values)
	m.executor.Enqueue(stmt, args,
		Update{Kind: UpdateEventMessage, ID: entityID, ModelTag: model.Tag()})
	return nil
}

// DeleteEntity removes the model row and the edge. The entity row stays;
// other models may still reference it.
func (m *Materializer) DeleteEntity(ctx context.Context, model *entities.Model, entityID string, blockTimestamp uint64) error {
	m.executor.Enqueue(
		fmt.Sprintf("DELETE FROM %s WHERE internal_id = ?;", quoteIdent(model.Tag())),
		[]any{entityID},
	)
	m.executor.Enqueue(
		`DELETE FROM entity_model WHERE entity_id = ? AND model_id = ?;`,
		[]any{entityID, model.Selector},
		Update{Kind: UpdateEntity, ID: entityID, ModelTag: model.Tag()},
	)
	return nil
}

// SetMetadata stores a resource metadata URI verbatim. The URI is not
// fetched; resolution is left to off-band services.
func (m *Materializer) SetMetadata(ctx context.Context, resourceID, uri string, blockTimestamp uint64) error {
	m.executor.Enqueue(
		`INSERT INTO metadata (id, uri, executed_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET uri=excluded.uri, executed_at=excluded.executed_at, updated_at=CURRENT_TIMESTAMP;`,
		[]any{resourceID, uri, executedAt(blockTimestamp)},
	)
	return nil
}

// StoreEvent appends a raw event. Replays collide on the id and are ignored.
func (m *Materializer) StoreEvent(ctx context.Context, event *entities.WorldEvent) error {
	keys := make([]string, 0, len(event.Keys))
	for _, k := range event.Keys {
		keys = append(keys, k.String())
	}
	data := make([]string, 0, len(event.Data))
	for _, d := range event.Data {
		data = append(data, d.String())
	}
	m.executor.Enqueue(
		`INSERT INTO events (id, keys, data, transaction_hash, executed_at)
		 VALUES (?, ?, ?, ?, ?) ON CONFLICT DO NOTHING;`,
		[]any{event.ID, joinSlash(keys), joinSlash(data), event.TransactionHash.String(), executedAt(event.BlockTimestamp)},
	)
	return nil
}

// StoreTransaction appends an indexed transaction.
func (m *Materializer) StoreTransaction(ctx context.Context, tx *entities.Transaction, blockTimestamp uint64) error {
	m.executor.Enqueue(
		`INSERT INTO transactions (id, transaction_hash, sender_address, calldata, max_fee, signature, nonce, transaction_type, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING;`,
		[]any{tx.ID, tx.TransactionHash, tx.SenderAddress, tx.Calldata, tx.MaxFee, tx.Signature, tx.Nonce, tx.TransactionType, executedAt(blockTimestamp)},
	)
	return nil
}

// SetHead advances one contract cursor.
func (m *Materializer) SetHead(ctx context.Context, cursor entities.ContractCursor) error {
	m.executor.Enqueue(
		`INSERT INTO contracts (id, contract_address, contract_type, head, last_block_timestamp, txns_count)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   head=excluded.head, last_block_timestamp=excluded.last_block_timestamp, txns_count=excluded.txns_count;`,
		[]any{cursor.ContractAddress, cursor.ContractAddress, string(cursor.ContractType),
			cursor.Head, cursor.LastBlockTimestamp, cursor.TxnsCount},
	)
	return nil
}

// ResetCursors rewrites every cursor field for the given contracts as one
// atomic mutation.
func (m *Materializer) ResetCursors(ctx context.Context, cursors []entities.ContractCursor) error {
	for _, c := range cursors {
		m.executor.Enqueue(
			`INSERT INTO contracts (id, contract_address, contract_type, head, last_block_timestamp, last_pending_block_contract_tx, last_pending_block_tx, txns_count)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   head=excluded.head, last_block_timestamp=excluded.last_block_timestamp,
			   last_pending_block_contract_tx=excluded.last_pending_block_contract_tx,
			   last_pending_block_tx=excluded.last_pending_block_tx, txns_count=excluded.txns_count;`,
			[]any{c.ContractAddress, c.ContractAddress, string(c.ContractType), c.Head,
				c.LastBlockTimestamp, nullable(c.LastPendingBlockContractTx), nullable(c.LastPendingBlockTx), c.TxnsCount},
		)
	}
	return nil
}

// UpdateCursors advances the pending-block position of the given contracts.
func (m *Materializer) UpdateCursors(ctx context.Context, cursors []entities.ContractCursor) error {
	for _, c := range cursors {
		m.executor.Enqueue(
			`UPDATE contracts SET
			   head=?, last_pending_block_contract_tx=?, last_pending_block_tx=?, last_block_timestamp=?
			 WHERE id=?;`,
			[]any{c.Head, nullable(c.LastPendingBlockContractTx), nullable(c.LastPendingBlockTx), c.LastBlockTimestamp, c.ContractAddress},
		)
	}
	return nil
}

// Execute commits everything enqueued since the previous Execute.
func (m *Materializer) Execute(ctx context.Context) error {
	return m.executor.Execute(ctx)
}

// Rollback discards the current batch.
func (m *Materializer) Rollback(ctx context.Context) error {
	return m.executor.Rollback(ctx)
}

// Model resolves a registered model by selector.
func (m *Materializer) Model(selector string) (*entities.Model, error) {
	return m.cache.Get(selector)
}

func joinSlash(parts []string) string {
	out := ""
	for _, p := range parts {
		out += p + "/"
	}
	return out
}
