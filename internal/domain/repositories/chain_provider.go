package repositories

import (
	"context"

	"github.com/NethermindEth/juno/core/felt"

	"world-indexer.backend/internal/domain/entities"
)

// EventPage is one page of raw chain events plus the continuation token of
// the next page. An empty token means the range is exhausted.
type EventPage struct {
	Events            []entities.WorldEvent
	ContinuationToken string
}

// EventFilter selects events by block range and emitting contract.
type EventFilter struct {
	FromBlock uint64
	ToBlock   uint64
	Pending   bool
	Address   *felt.Felt
	ChunkSize uint64
}

// ChainProvider defines the read operations the indexer needs from a chain
// node.
type ChainProvider interface {
	ChainID(ctx context.Context) (string, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, blockNumber uint64) (uint64, error)
	PendingBlockTimestamp(ctx context.Context) (uint64, error)
	Events(ctx context.Context, filter EventFilter, continuation string) (*EventPage, error)
	Call(ctx context.Context, contract *felt.Felt, entrypoint string, calldata []*felt.Felt) ([]*felt.Felt, error)
	ClassHashAt(ctx context.Context, contract *felt.Felt) (*felt.Felt, error)
}
