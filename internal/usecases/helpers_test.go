package usecases

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	snutils "github.com/NethermindEth/starknet.go/utils"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"world-indexer.backend/internal/domain/entities"
	domainerrors "world-indexer.backend/internal/domain/errors"
	"world-indexer.backend/internal/domain/repositories"
	datasource "world-indexer.backend/internal/infrastructure/datasources/sqlite"
	"world-indexer.backend/internal/infrastructure/storage"
	"world-indexer.backend/pkg/dojo"
)

// fakeProvider scripts chain responses for the pipeline tests. Unset hooks
// fall back to benign defaults.
type fakeProvider struct {
	blockNumber uint64
	timestamps  map[uint64]uint64
	pendingTS   uint64
	eventsFn    func(filter repositories.EventFilter, continuation string) (*repositories.EventPage, error)
	callFn      func(contract *felt.Felt, entrypoint string, calldata []*felt.Felt) ([]*felt.Felt, error)
	classHashFn func(contract *felt.Felt) (*felt.Felt, error)
}

func (f *fakeProvider) ChainID(ctx context.Context) (string, error) { return "SN_TEST", nil }

func (f *fakeProvider) BlockNumber(ctx context.Context) (uint64, error) {
	return f.blockNumber, nil
}

func (f *fakeProvider) BlockTimestamp(ctx context.Context, blockNumber uint64) (uint64, error) {
	if ts, ok := f.timestamps[blockNumber]; ok {
		return ts, nil
	}
	return 1000 + blockNumber, nil
}

func (f *fakeProvider) PendingBlockTimestamp(ctx context.Context) (uint64, error) {
	if f.pendingTS != 0 {
		return f.pendingTS, nil
	}
	return 2000, nil
}

func (f *fakeProvider) Events(ctx context.Context, filter repositories.EventFilter, continuation string) (*repositories.EventPage, error) {
	if f.eventsFn != nil {
		return f.eventsFn(filter, continuation)
	}
	return &repositories.EventPage{}, nil
}

func (f *fakeProvider) Call(ctx context.Context, contract *felt.Felt, entrypoint string, calldata []*felt.Felt) ([]*felt.Felt, error) {
	if f.callFn != nil {
		return f.callFn(contract, entrypoint, calldata)
	}
	return nil, domainerrors.Provider(entrypoint, fmt.Errorf("no call scripted"))
}

func (f *fakeProvider) ClassHashAt(ctx context.Context, contract *felt.Felt) (*felt.Felt, error) {
	if f.classHashFn != nil {
		return f.classHashFn(contract)
	}
	return new(felt.Felt).SetUint64(0x1234), nil
}

// testStack is the full storage pipeline over an in-memory database.
type testStack struct {
	db       *gorm.DB
	mat      *storage.Materializer
	query    *storage.QueryEngine
	provider *fakeProvider
	world    *entities.World
	address  *felt.Felt
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, datasource.Migrate(db))

	broker := storage.NewBroker()
	cache := storage.NewModelCache(db)
	executor := storage.NewExecutor(db, broker)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go executor.Run(ctx)

	address := new(felt.Felt).SetUint64(0xda7a)
	return &testStack{
		db:       db,
		mat:      storage.NewMaterializer(executor, cache),
		query:    storage.NewQueryEngine(db, cache),
		provider: &fakeProvider{blockNumber: 0, timestamps: map[uint64]uint64{}},
		world:    entities.NewWorld(address),
		address:  address,
	}
}

func scanInt(t *testing.T, db *gorm.DB, stmt string, args ...any) int64 {
	t.Helper()
	var out int64
	require.NoError(t, db.Raw(stmt, args...).Scan(&out).Error)
	return out
}

// feltsOf builds a calldata slice from small integers.
func feltsOf(vals ...uint64) []*felt.Felt {
	out := make([]*felt.Felt, len(vals))
	for i, v := range vals {
		out[i] = new(felt.Felt).SetUint64(v)
	}
	return out
}

// baFelts serializes a string as a Cairo ByteArray.
func baFelts(t *testing.T, s string) []*felt.Felt {
	t.Helper()
	out, err := snutils.StringToByteArrFelt(s)
	require.NoError(t, err)
	return out
}

func selectorKey(name string) *felt.Felt {
	return dojo.EventSelector(name)
}

// worldEvent builds a raw event with a deterministic id.
func worldEvent(block uint64, tx uint64, idx uint32, keys, data []*felt.Felt) *entities.WorldEvent {
	txHash := new(felt.Felt).SetUint64(tx)
	return &entities.WorldEvent{
		ID:              entities.EventID(block, txHash, idx),
		BlockNumber:     block,
		BlockTimestamp:  1000 + block,
		TransactionHash: txHash,
		Keys:            keys,
		Data:            data,
	}
}

// positionSchemaFelts is the introspection stream for a Position model with a
// ContractAddress key and two u32 coordinates.
func positionSchemaFelts(t *testing.T) []*felt.Felt {
	t.Helper()
	str := func(s string) *felt.Felt {
		f, err := dojo.ShortStringToFelt(s)
		require.NoError(t, err)
		return f
	}
	u64 := func(v uint64) *felt.Felt { return new(felt.Felt).SetUint64(v) }

	return []*felt.Felt{
		u64(1), str("Position"), u64(0), u64(2),
		u64(5), str("player"), u64(1), str("key"), u64(0), str("ContractAddress"),
		u64(16), str("vec"), u64(0), u64(1), str("Vec2"), u64(0), u64(2),
		u64(4), str("x"), u64(0), u64(0), str("u32"),
		u64(4), str("y"), u64(0), u64(0), str("u32"),
	}
}
