// Package storage implements the write path (single-writer executor and
// schema-driven materializer) and the read path (cursor-paginated query
// engine) over the indexer database.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"gorm.io/gorm"

	"world-indexer.backend/internal/domain/entities"
	domainerrors "world-indexer.backend/internal/domain/errors"
)

// ModelCache holds the registered model schemas. It is written by the
// materializer at registration and read on every record event and query.
// A miss falls through to the models table, so schemas registered before
// a restart stay resolvable.
type ModelCache struct {
	db     *gorm.DB
	mu     sync.RWMutex
	models map[string]*entities.Model
}

func NewModelCache(db *gorm.DB) *ModelCache {
	return &ModelCache{db: db, models: map[string]*entities.Model{}}
}

// Set stores a model under its selector. The stored value is a snapshot so
// later mutation of the argument cannot race readers.
func (c *ModelCache) Set(model *entities.Model) {
	snapshot := *model
	snapshot.Schema = model.Schema.Clone()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models[model.Selector] = &snapshot
}

// Get returns a copy of the model for the selector, loading it from storage
// on a cache miss.
func (c *ModelCache) Get(selector string) (*entities.Model, error) {
	c.mu.RLock()
	m, ok := c.models[selector]
	if ok {
		out := *m
		out.Schema = m.Schema.Clone()
		c.mu.RUnlock()
		return &out, nil
	}
	c.mu.RUnlock()

	loaded, err := c.load(selector)
	if err != nil {
		return nil, err
	}
	c.Set(loaded)
	return loaded, nil
}

// All returns a copy of every cached model.
func (c *ModelCache) All() []*entities.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*entities.Model, 0, len(c.models))
	for _, m := range c.models {
		snapshot := *m
		snapshot.Schema = m.Schema.Clone()
		out = append(out, &snapshot)
	}
	return out
}

// EnsureModels warms the cache with every persisted model. Called once at
// startup so queries and record events see the full registry immediately.
func (c *ModelCache) EnsureModels(ctx context.Context) error {
	var rows []modelRow
	if err := c.db.WithContext(ctx).Raw(
		`SELECT id, namespace, name, class_hash, contract_address, layout, schema, packed_size, unpacked_size FROM models`,
	).Scan(&rows).Error; err != nil {
		return domainerrors.Storage(err)
	}
	for i := range rows {
		model, err := rows[i].toModel()
		if err != nil {
			return err
		}
		c.Set(model)
	}
	return nil
}

func (c *ModelCache) load(selector string) (*entities.Model, error) {
	var row modelRow
	err := c.db.Raw(
		`SELECT id, namespace, name, class_hash, contract_address, layout, schema, packed_size, unpacked_size FROM models WHERE id = ?`,
		selector,
	).Scan(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrUnknownResource
		}
		return nil, domainerrors.Storage(err)
	}
	if row.ID == "" {
		return nil, domainerrors.ErrUnknownResource
	}
	return row.toModel()
}

type modelRow struct {
	ID              string
	Namespace       string
	Name            string
	ClassHash       string
	ContractAddress string
	Layout          string
	Schema          string
	PackedSize      uint32
	UnpackedSize    uint32
}

func (r *modelRow) toModel() (*entities.Model, error) {
	var schema entities.Ty
	if err := json.Unmarshal([]byte(r.Schema), &schema); err != nil {
		return nil, domainerrors.Storage(err)
	}
	return &entities.Model{
		Selector:        r.ID,
		Namespace:       r.Namespace,
		Name:            r.Name,
		ClassHash:       r.ClassHash,
		ContractAddress: r.ContractAddress,
		Layout:          r.Layout,
		Schema:          schema,
		PackedSize:      r.PackedSize,
		UnpackedSize:    r.UnpackedSize,
	}, nil
}
