package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"world-indexer.backend/internal/domain/entities"
	datasource "world-indexer.backend/internal/infrastructure/datasources/sqlite"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, datasource.Migrate(db))
	return db
}

// newTestStore wires a materializer, query engine and running executor over
// a fresh in-memory database.
func newTestStore(t *testing.T) (*Materializer, *QueryEngine, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	broker := NewBroker()
	cache := NewModelCache(db)
	executor := NewExecutor(db, broker)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go executor.Run(ctx)

	return NewMaterializer(executor, cache), NewQueryEngine(db, cache), db
}

func positionModel() *entities.Model {
	return &entities.Model{
		Selector:        "0x00000000000000000000000000000000000000000000000000000000000000aa",
		Namespace:       "ns",
		Name:            "Position",
		ClassHash:       "0xaa",
		ContractAddress: "0x01",
		Layout:          "{}",
		Schema: entities.Ty{Kind: entities.KindStruct, Struct: &entities.Struct{
			Name: "Position",
			Children: []entities.Member{
				{Name: "player", Ty: entities.NewPrimitiveTy(entities.PrimitiveContractAddress), Key: true},
				{Name: "vec", Ty: entities.Ty{Kind: entities.KindStruct, Struct: &entities.Struct{
					Name: "Vec2",
					Children: []entities.Member{
						{Name: "x", Ty: entities.NewPrimitiveTy(entities.PrimitiveU32)},
						{Name: "y", Ty: entities.NewPrimitiveTy(entities.PrimitiveU32)},
					},
				}}},
			},
		}},
	}
}

// positionRecord returns the model schema populated with one player position.
func positionRecord(t *testing.T, model *entities.Model, player uint64, x, y uint64) entities.Ty {
	t.Helper()
	record := model.Schema.Clone()
	keys := entities.NewFeltReader([]*felt.Felt{new(felt.Felt).SetUint64(player)})
	values := entities.NewFeltReader([]*felt.Felt{
		new(felt.Felt).SetUint64(x), new(felt.Felt).SetUint64(y),
	})
	require.NoError(t, record.SetEntityValues(keys, values))
	return record
}

func scanInt(t *testing.T, db *gorm.DB, stmt string, args ...any) int64 {
	t.Helper()
	var out int64
	require.NoError(t, db.Raw(stmt, args...).Scan(&out).Error)
	return out
}
