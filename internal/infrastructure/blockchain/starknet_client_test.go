package blockchain

import (
	"context"
	"errors"
	"testing"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/NethermindEth/starknet.go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "world-indexer.backend/internal/domain/errors"
	"world-indexer.backend/internal/domain/repositories"
)

type fakeRPC struct {
	chainID     string
	blockNumber uint64
	block       interface{}
	chunk       *rpc.EventChunk
	callResult  []*felt.Felt
	classHash   *felt.Felt
	err         error

	lastEventsInput rpc.EventsInput
	lastCall        rpc.FunctionCall
}

func (f *fakeRPC) ChainID(ctx context.Context) (string, error) {
	return f.chainID, f.err
}

func (f *fakeRPC) BlockNumber(ctx context.Context) (uint64, error) {
	return f.blockNumber, f.err
}

func (f *fakeRPC) BlockWithTxHashes(ctx context.Context, blockID rpc.BlockID) (interface{}, error) {
	return f.block, f.err
}

func (f *fakeRPC) Events(ctx context.Context, input rpc.EventsInput) (*rpc.EventChunk, error) {
	f.lastEventsInput = input
	return f.chunk, f.err
}

func (f *fakeRPC) Call(ctx context.Context, call rpc.FunctionCall, blockID rpc.BlockID) ([]*felt.Felt, error) {
	f.lastCall = call
	return f.callResult, f.err
}

func (f *fakeRPC) ClassHashAt(ctx context.Context, blockID rpc.BlockID, contract *felt.Felt) (*felt.Felt, error) {
	return f.classHash, f.err
}

func TestNewStarknetClientDialError(t *testing.T) {
	original := newStarknetRPC
	newStarknetRPC = func(rpcURL string) (starknetRPC, error) {
		return nil, errors.New("dial refused")
	}
	defer func() { newStarknetRPC = original }()

	_, err := NewStarknetClient("http://localhost:5050")
	require.Error(t, err)
	assert.ErrorIs(t, err, domainerrors.ErrProviderUnavailable)
}

func TestEventsMapsChunk(t *testing.T) {
	txHash := new(felt.Felt).SetUint64(0x99)
	fake := &fakeRPC{chunk: &rpc.EventChunk{
		Events: []rpc.EmittedEvent{
			{
				Event: rpc.Event{
					EventContent: rpc.EventContent{
						Keys: []*felt.Felt{new(felt.Felt).SetUint64(1)},
						Data: []*felt.Felt{new(felt.Felt).SetUint64(2)},
					},
				},
				BlockNumber:     42,
				TransactionHash: txHash,
			},
		},
		ContinuationToken: "next-page",
	}}
	client := NewStarknetClientWithProvider(fake)

	page, err := client.Events(context.Background(), repositories.EventFilter{
		FromBlock: 40, ToBlock: 45, ChunkSize: 100,
	}, "token")
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, uint64(42), page.Events[0].BlockNumber)
	assert.True(t, page.Events[0].TransactionHash.Equal(txHash))
	assert.Equal(t, "next-page", page.ContinuationToken)
	assert.Equal(t, "token", fake.lastEventsInput.ContinuationToken)
	assert.Equal(t, 100, fake.lastEventsInput.ChunkSize)
}

func TestEventsProviderError(t *testing.T) {
	client := NewStarknetClientWithProvider(&fakeRPC{err: errors.New("boom")})
	_, err := client.Events(context.Background(), repositories.EventFilter{}, "")
	assert.ErrorIs(t, err, domainerrors.ErrProviderUnavailable)
}

func TestCallMapsContractNotFound(t *testing.T) {
	client := NewStarknetClientWithProvider(&fakeRPC{
		err: &rpc.RPCError{Code: 20, Message: "Contract not found"},
	})
	_, err := client.Call(context.Background(), new(felt.Felt).SetUint64(1), "schema", nil)
	assert.ErrorIs(t, err, domainerrors.ErrContractNotFound)
}

func TestCallPassesSelector(t *testing.T) {
	fake := &fakeRPC{callResult: []*felt.Felt{new(felt.Felt).SetUint64(7)}}
	client := NewStarknetClientWithProvider(fake)

	out, err := client.Call(context.Background(), new(felt.Felt).SetUint64(1), "schema", nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.NotNil(t, fake.lastCall.EntryPointSelector)
}

func TestBlockTimestamp(t *testing.T) {
	client := NewStarknetClientWithProvider(&fakeRPC{
		block: &rpc.BlockTxHashes{BlockHeader: rpc.BlockHeader{Timestamp: 1700000000}},
	})
	ts, err := client.BlockTimestamp(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(1700000000), ts)

	client = NewStarknetClientWithProvider(&fakeRPC{block: "garbage"})
	_, err = client.BlockTimestamp(context.Background(), 5)
	assert.Error(t, err)
}
