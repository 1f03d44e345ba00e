package usecases

import (
	"context"
	"testing"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"world-indexer.backend/internal/domain/entities"
	"world-indexer.backend/pkg/dojo"
	"world-indexer.backend/pkg/utils"
)

// scriptSchemaCalls answers model introspection with the Position schema.
func scriptSchemaCalls(t *testing.T, p *fakeProvider) {
	t.Helper()
	p.callFn = func(contract *felt.Felt, entrypoint string, calldata []*felt.Felt) ([]*felt.Felt, error) {
		switch entrypoint {
		case "schema":
			return positionSchemaFelts(t), nil
		case "packed_size", "unpacked_size":
			return feltsOf(3), nil
		}
		return nil, nil
	}
}

func newProcessorFixture(t *testing.T, namespaces, historical []string) (*testStack, *EventProcessor) {
	t.Helper()
	stack := newTestStack(t)
	scriptSchemaCalls(t, stack.provider)
	return stack, NewEventProcessor(stack.world, stack.mat, stack.provider, namespaces, historical)
}

func modelRegisteredEvent(t *testing.T, namespace, name string) *entities.WorldEvent {
	t.Helper()
	keys := []*felt.Felt{selectorKey("ModelRegistered")}
	keys = append(keys, baFelts(t, namespace)...)
	keys = append(keys, baFelts(t, name)...)
	return worldEvent(1, 0x100, 0, keys, feltsOf(0xcafe, 0x02))
}

func positionSelector(t *testing.T) *felt.Felt {
	t.Helper()
	selector, err := dojo.SelectorFromTag("ns-Position")
	require.NoError(t, err)
	return selector
}

// storeSetEvent writes player 0x5 at (x, y) for the given entity id key.
func storeSetEvent(t *testing.T, block, tx uint64, idx uint32, entityID *felt.Felt, x, y uint64) *entities.WorldEvent {
	t.Helper()
	keys := []*felt.Felt{selectorKey("StoreSetRecord"), positionSelector(t), entityID}
	data := feltsOf(1, 0x5, 2, x, y)
	return worldEvent(block, tx, idx, keys, data)
}

func registerPosition(t *testing.T, stack *testStack, processor *EventProcessor) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, processor.Process(ctx, modelRegisteredEvent(t, "ns", "Position")))
	require.NoError(t, stack.mat.Execute(ctx))
}

func TestModelRegisteredCreatesTableAndReplica(t *testing.T) {
	stack, processor := newProcessorFixture(t, nil, nil)
	registerPosition(t, stack, processor)

	selector := utils.FeltToHex(positionSelector(t))
	resource, ok := stack.world.Resource(selector)
	require.True(t, ok)
	assert.Equal(t, entities.ResourceModel, resource.Type)
	assert.Equal(t, "ns", resource.Info.Namespace)

	assert.EqualValues(t, 1, scanInt(t, stack.db, "SELECT count(*) FROM models"))
	assert.EqualValues(t, 0, scanInt(t, stack.db, "SELECT count(*) FROM [ns-Position]"))

	model, err := stack.mat.Model(selector)
	require.NoError(t, err)
	assert.Equal(t, "ns-Position", model.Tag())
	assert.EqualValues(t, 3, model.PackedSize)
}

func TestStoreSetRecordUpsertsOneRow(t *testing.T) {
	stack, processor := newProcessorFixture(t, nil, nil)
	registerPosition(t, stack, processor)
	ctx := context.Background()
	entityID := new(felt.Felt).SetUint64(0xbeef)

	require.NoError(t, processor.Process(ctx, storeSetEvent(t, 2, 0x200, 0, entityID, 1, 10)))
	require.NoError(t, processor.Process(ctx, storeSetEvent(t, 2, 0x200, 1, entityID, 2, 20)))
	require.NoError(t, stack.mat.Execute(ctx))

	assert.EqualValues(t, 1, scanInt(t, stack.db, "SELECT count(*) FROM [ns-Position]"))
	assert.EqualValues(t, 2, scanInt(t, stack.db, "SELECT [vec.x] FROM [ns-Position]"))
	assert.EqualValues(t, 1, scanInt(t, stack.db, "SELECT count(*) FROM entities"))
}

func TestStoreDelRecordKeepsEntityRow(t *testing.T) {
	stack, processor := newProcessorFixture(t, nil, nil)
	registerPosition(t, stack, processor)
	ctx := context.Background()
	entityID := new(felt.Felt).SetUint64(0xbeef)

	require.NoError(t, processor.Process(ctx, storeSetEvent(t, 2, 0x200, 0, entityID, 1, 10)))

	keys := []*felt.Felt{selectorKey("StoreDelRecord"), positionSelector(t), entityID}
	require.NoError(t, processor.Process(ctx, worldEvent(2, 0x200, 1, keys, nil)))
	require.NoError(t, stack.mat.Execute(ctx))

	assert.EqualValues(t, 0, scanInt(t, stack.db, "SELECT count(*) FROM [ns-Position]"))
	assert.EqualValues(t, 1, scanInt(t, stack.db, "SELECT count(*) FROM entities"))
}

func TestNamespaceWhitelistSkipsRegistration(t *testing.T) {
	stack, processor := newProcessorFixture(t, []string{"other"}, nil)
	ctx := context.Background()

	require.NoError(t, processor.Process(ctx, modelRegisteredEvent(t, "ns", "Position")))
	require.NoError(t, stack.mat.Execute(ctx))

	_, ok := stack.world.Resource(utils.FeltToHex(positionSelector(t)))
	assert.False(t, ok)
	assert.EqualValues(t, 0, scanInt(t, stack.db, "SELECT count(*) FROM models"))
}

func TestRecordForUnknownModelDropped(t *testing.T) {
	stack, processor := newProcessorFixture(t, nil, nil)
	ctx := context.Background()

	err := processor.Process(ctx, storeSetEvent(t, 2, 0x200, 0, new(felt.Felt).SetUint64(0xbeef), 1, 10))
	require.NoError(t, err)
	require.NoError(t, stack.mat.Execute(ctx))
	assert.EqualValues(t, 0, scanInt(t, stack.db, "SELECT count(*) FROM entities"))
}

func TestUnsubscribedEventIgnored(t *testing.T) {
	_, processor := newProcessorFixture(t, nil, nil)
	ev := worldEvent(1, 0x100, 0, feltsOf(0xdead), nil)
	require.NoError(t, processor.Process(context.Background(), ev))
}

func TestEventEmittedStoresEventMessage(t *testing.T) {
	stack, processor := newProcessorFixture(t, nil, nil)
	registerPosition(t, stack, processor)
	ctx := context.Background()

	keys := []*felt.Felt{selectorKey("EventEmitted"), positionSelector(t), new(felt.Felt).SetUint64(0x99)}
	data := feltsOf(1, 0x5, 2, 7, 70)
	require.NoError(t, processor.Process(ctx, worldEvent(3, 0x300, 0, keys, data)))
	require.NoError(t, stack.mat.Execute(ctx))

	assert.EqualValues(t, 1, scanInt(t, stack.db, "SELECT count(*) FROM event_messages"))
	assert.EqualValues(t, 0, scanInt(t, stack.db, "SELECT count(*) FROM entities"))

	wantID := utils.FeltToHex(dojo.EntityID(feltsOf(0x5)))
	assert.EqualValues(t, 1, scanInt(t, stack.db, "SELECT count(*) FROM event_messages WHERE id = ?", wantID))
}

func TestEventEmittedHistoricalAppends(t *testing.T) {
	stack, processor := newProcessorFixture(t, nil, []string{"ns-Position"})
	registerPosition(t, stack, processor)
	ctx := context.Background()

	keys := []*felt.Felt{selectorKey("EventEmitted"), positionSelector(t), new(felt.Felt).SetUint64(0x99)}
	require.NoError(t, processor.Process(ctx, worldEvent(3, 0x300, 0, keys, feltsOf(1, 0x5, 2, 7, 70))))
	require.NoError(t, processor.Process(ctx, worldEvent(3, 0x300, 1, keys, feltsOf(1, 0x5, 2, 8, 80))))
	require.NoError(t, stack.mat.Execute(ctx))

	assert.EqualValues(t, 1, scanInt(t, stack.db, "SELECT count(*) FROM event_messages"))
	assert.EqualValues(t, 2, scanInt(t, stack.db, "SELECT count(*) FROM event_messages_historical"))
}

func TestWriterUpdatedTogglesPermission(t *testing.T) {
	stack, processor := newProcessorFixture(t, nil, nil)
	registerPosition(t, stack, processor)
	ctx := context.Background()
	selector := positionSelector(t)
	contract := new(felt.Felt).SetUint64(0x777)

	keys := []*felt.Felt{selectorKey("WriterUpdated"), selector, contract}
	require.NoError(t, processor.Process(ctx, worldEvent(2, 0x200, 0, keys, feltsOf(1))))

	resource, ok := stack.world.Resource(utils.FeltToHex(selector))
	require.True(t, ok)
	_, granted := resource.Info.Writers[utils.FeltToHex(contract)]
	assert.True(t, granted)

	require.NoError(t, processor.Process(ctx, worldEvent(2, 0x200, 1, keys, feltsOf(0))))
	resource, _ = stack.world.Resource(utils.FeltToHex(selector))
	_, granted = resource.Info.Writers[utils.FeltToHex(contract)]
	assert.False(t, granted)
}

func TestWorldSpawnedSetsReplica(t *testing.T) {
	stack, processor := newProcessorFixture(t, nil, nil)
	ev := worldEvent(1, 0x100, 0, []*felt.Felt{selectorKey("WorldSpawned")}, feltsOf(0xabc, 0xdef))
	require.NoError(t, processor.Process(context.Background(), ev))

	require.Len(t, stack.world.ClassHashes, 1)
	assert.Equal(t, utils.FeltToHex(new(felt.Felt).SetUint64(0xdef)), stack.world.ClassHashes[0])
	owners := stack.world.ExternalOwners(entities.WorldSelector)
	_, ok := owners[utils.FeltToHex(new(felt.Felt).SetUint64(0xabc))]
	assert.True(t, ok)
}
