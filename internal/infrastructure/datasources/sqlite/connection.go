// Package sqlite opens and migrates the indexer database.
package sqlite

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var gormOpen = func(dsn string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
}

// Base schema. Per-model tables are created dynamically at registration.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS contracts (
    id TEXT PRIMARY KEY,
    contract_address TEXT NOT NULL,
    contract_type TEXT NOT NULL,
    head INTEGER,
    last_block_timestamp INTEGER,
    last_pending_block_contract_tx TEXT,
    last_pending_block_tx TEXT,
    txns_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS models (
    id TEXT PRIMARY KEY,
    namespace TEXT NOT NULL,
    name TEXT NOT NULL,
    class_hash TEXT NOT NULL,
    contract_address TEXT NOT NULL,
    layout TEXT NOT NULL,
    schema TEXT NOT NULL,
    packed_size INTEGER NOT NULL,
    unpacked_size INTEGER NOT NULL,
    executed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_models_namespace ON models (namespace);

CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    keys TEXT,
    event_id TEXT NOT NULL,
    executed_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entities_keys ON entities (keys);
CREATE INDEX IF NOT EXISTS idx_entities_event_id ON entities (event_id);

CREATE TABLE IF NOT EXISTS event_messages (
    id TEXT PRIMARY KEY,
    keys TEXT,
    event_id TEXT NOT NULL,
    executed_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_event_messages_keys ON event_messages (keys);
CREATE INDEX IF NOT EXISTS idx_event_messages_event_id ON event_messages (event_id);

CREATE TABLE IF NOT EXISTS event_messages_historical (
    id TEXT NOT NULL,
    model_id TEXT NOT NULL,
    keys TEXT,
    event_id TEXT NOT NULL,
    data TEXT NOT NULL,
    executed_at TEXT NOT NULL,
    PRIMARY KEY (id, event_id)
);

CREATE TABLE IF NOT EXISTS entity_model (
    entity_id TEXT NOT NULL,
    model_id TEXT NOT NULL,
    PRIMARY KEY (entity_id, model_id)
);
CREATE INDEX IF NOT EXISTS idx_entity_model_model_id ON entity_model (model_id);

CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    transaction_hash TEXT NOT NULL,
    sender_address TEXT,
    calldata TEXT,
    max_fee TEXT,
    signature TEXT,
    nonce TEXT,
    transaction_type TEXT,
    executed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    keys TEXT NOT NULL,
    data TEXT NOT NULL,
    transaction_hash TEXT NOT NULL,
    executed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
    id TEXT PRIMARY KEY,
    uri TEXT NOT NULL,
    json TEXT,
    icon_img TEXT,
    cover_img TEXT,
    executed_at TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// NewConnection opens the database at path, applies the pragmas the
// single-writer model relies on and migrates the base schema.
func NewConnection(path string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", path)
	db, err := gormOpen(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate applies the base DDL. Statements are idempotent.
func Migrate(db *gorm.DB) error {
	if err := db.Exec(schemaDDL).Error; err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
