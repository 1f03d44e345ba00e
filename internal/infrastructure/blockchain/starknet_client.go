package blockchain

import (
	"context"
	"errors"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/NethermindEth/starknet.go/rpc"
	snutils "github.com/NethermindEth/starknet.go/utils"

	"world-indexer.backend/internal/domain/entities"
	domainerrors "world-indexer.backend/internal/domain/errors"
	"world-indexer.backend/internal/domain/repositories"
)

// starknetRPC is the slice of the node API the client uses.
type starknetRPC interface {
	ChainID(ctx context.Context) (string, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BlockWithTxHashes(ctx context.Context, blockID rpc.BlockID) (interface{}, error)
	Events(ctx context.Context, input rpc.EventsInput) (*rpc.EventChunk, error)
	Call(ctx context.Context, call rpc.FunctionCall, blockID rpc.BlockID) ([]*felt.Felt, error)
	ClassHashAt(ctx context.Context, blockID rpc.BlockID, contract *felt.Felt) (*felt.Felt, error)
}

var newStarknetRPC = func(rpcURL string) (starknetRPC, error) {
	return rpc.NewProvider(rpcURL)
}

// StarknetClient implements the chain provider over a Starknet JSON-RPC node.
type StarknetClient struct {
	provider starknetRPC
	rpcURL   string
}

// NewStarknetClient dials the node.
func NewStarknetClient(rpcURL string) (*StarknetClient, error) {
	provider, err := newStarknetRPC(rpcURL)
	if err != nil {
		return nil, domainerrors.Provider("dial", err)
	}
	return &StarknetClient{provider: provider, rpcURL: rpcURL}, nil
}

// NewStarknetClientWithProvider injects a node implementation. Intended for
// unit tests where RPC sockets are unavailable.
func NewStarknetClientWithProvider(provider starknetRPC) *StarknetClient {
	return &StarknetClient{provider: provider}
}

func (c *StarknetClient) ChainID(ctx context.Context) (string, error) {
	id, err := c.provider.ChainID(ctx)
	if err != nil {
		return "", domainerrors.Provider("starknet_chainId", err)
	}
	return id, nil
}

func (c *StarknetClient) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.provider.BlockNumber(ctx)
	if err != nil {
		return 0, domainerrors.Provider("starknet_blockNumber", err)
	}
	return n, nil
}

func (c *StarknetClient) BlockTimestamp(ctx context.Context, blockNumber uint64) (uint64, error) {
	return c.blockTimestamp(ctx, rpc.WithBlockNumber(blockNumber))
}

func (c *StarknetClient) PendingBlockTimestamp(ctx context.Context) (uint64, error) {
	return c.blockTimestamp(ctx, rpc.WithBlockTag("pending"))
}

func (c *StarknetClient) blockTimestamp(ctx context.Context, blockID rpc.BlockID) (uint64, error) {
	block, err := c.provider.BlockWithTxHashes(ctx, blockID)
	if err != nil {
		return 0, domainerrors.Provider("starknet_getBlockWithTxHashes", err)
	}
	switch b := block.(type) {
	case *rpc.BlockTxHashes:
		return b.Timestamp, nil
	case *rpc.PendingBlockTxHashes:
		return b.Timestamp, nil
	default:
		return 0, domainerrors.Provider("starknet_getBlockWithTxHashes",
			errors.New("unexpected block payload"))
	}
}

// Events fetches one page of events for the filter. The continuation token
// of the previous page resumes the scan; pending ranges query the pending
// block tag on both bounds.
func (c *StarknetClient) Events(ctx context.Context, filter repositories.EventFilter, continuation string) (*repositories.EventPage, error) {
	from := rpc.WithBlockNumber(filter.FromBlock)
	to := rpc.WithBlockNumber(filter.ToBlock)
	if filter.Pending {
		from = rpc.WithBlockTag("pending")
		to = rpc.WithBlockTag("pending")
	}

	chunk, err := c.provider.Events(ctx, rpc.EventsInput{
		EventFilter: rpc.EventFilter{
			FromBlock: from,
			ToBlock:   to,
			Address:   filter.Address,
		},
		ResultPageRequest: rpc.ResultPageRequest{
			ContinuationToken: continuation,
			ChunkSize:         int(filter.ChunkSize),
		},
	})
	if err != nil {
		return nil, domainerrors.Provider("starknet_getEvents", err)
	}

	page := &repositories.EventPage{ContinuationToken: chunk.ContinuationToken}
	for _, ev := range chunk.Events {
		page.Events = append(page.Events, entities.WorldEvent{
			BlockNumber:     ev.BlockNumber,
			TransactionHash: ev.TransactionHash,
			Keys:            ev.Keys,
			Data:            ev.Data,
		})
	}
	return page, nil
}

// Call executes a view function against the pending state.
func (c *StarknetClient) Call(ctx context.Context, contract *felt.Felt, entrypoint string, calldata []*felt.Felt) ([]*felt.Felt, error) {
	selector := snutils.GetSelectorFromNameFelt(entrypoint)
	out, err := c.provider.Call(ctx, rpc.FunctionCall{
		ContractAddress:    contract,
		EntryPointSelector: selector,
		Calldata:           calldata,
	}, rpc.WithBlockTag("pending"))
	if err != nil {
		return nil, mapCallError(entrypoint, err)
	}
	return out, nil
}

func (c *StarknetClient) ClassHashAt(ctx context.Context, contract *felt.Felt) (*felt.Felt, error) {
	hash, err := c.provider.ClassHashAt(ctx, rpc.WithBlockTag("pending"), contract)
	if err != nil {
		return nil, mapCallError("starknet_getClassHashAt", err)
	}
	return hash, nil
}

func mapCallError(method string, err error) error {
	var rpcErr *rpc.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == 20 {
		return errors.Join(domainerrors.ErrContractNotFound, err)
	}
	return domainerrors.Provider(method, err)
}
