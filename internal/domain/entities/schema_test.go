package entities

import (
	"math/big"
	"testing"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"world-indexer.backend/pkg/dojo"
)

func shortFelt(t *testing.T, s string) *felt.Felt {
	t.Helper()
	f, err := dojo.ShortStringToFelt(s)
	require.NoError(t, err)
	return f
}

func positionSchema() Ty {
	return Ty{Kind: KindStruct, Struct: &Struct{
		Name: "Position",
		Children: []Member{
			{Name: "player", Ty: NewPrimitiveTy(PrimitiveContractAddress), Key: true},
			{Name: "x", Ty: NewPrimitiveTy(PrimitiveU32)},
			{Name: "y", Ty: NewPrimitiveTy(PrimitiveU32)},
		},
	}}
}

func directionEnum() Ty {
	unit := Ty{Kind: KindTuple}
	return Ty{Kind: KindEnum, Enum: &Enum{
		Name: "Direction",
		Options: []EnumOption{
			{Name: "Left", Ty: unit},
			{Name: "Right", Ty: unit},
			{Name: "Up", Ty: unit},
			{Name: "Down", Ty: unit},
		},
	}}
}

func TestParseTyStruct(t *testing.T) {
	stream := []*felt.Felt{
		feltFromUint(t, 1), // struct
		shortFelt(t, "Position"),
		feltFromUint(t, 0), // no attrs
		feltFromUint(t, 3), // children
		feltFromUint(t, 5), shortFelt(t, "player"), feltFromUint(t, 1), shortFelt(t, "key"),
		feltFromUint(t, 0), shortFelt(t, "ContractAddress"),
		feltFromUint(t, 4), shortFelt(t, "x"), feltFromUint(t, 0), feltFromUint(t, 0), shortFelt(t, "u32"),
		feltFromUint(t, 4), shortFelt(t, "y"), feltFromUint(t, 0), feltFromUint(t, 0), shortFelt(t, "u32"),
	}

	ty, err := ParseTy(stream)
	require.NoError(t, err)
	require.Equal(t, KindStruct, ty.Kind)
	assert.Equal(t, "Position", ty.Struct.Name)
	require.Len(t, ty.Struct.Children, 3)

	player := ty.Struct.Children[0]
	assert.Equal(t, "player", player.Name)
	assert.True(t, player.Key)
	assert.Equal(t, PrimitiveContractAddress, player.Ty.Primitive.Type)

	assert.Equal(t, "x", ty.Struct.Children[1].Name)
	assert.False(t, ty.Struct.Children[1].Key)
	assert.Equal(t, PrimitiveU32, ty.Struct.Children[1].Ty.Primitive.Type)
}

func TestParseTyEnumUnitVariants(t *testing.T) {
	stream := []*felt.Felt{
		feltFromUint(t, 2), // enum
		shortFelt(t, "Direction"),
		feltFromUint(t, 0), // no attrs
		feltFromUint(t, 4), // options
		shortFelt(t, "Left"), feltFromUint(t, 0), feltFromUint(t, 3), feltFromUint(t, 0),
		shortFelt(t, "Right"), feltFromUint(t, 0), feltFromUint(t, 3), feltFromUint(t, 0),
		shortFelt(t, "Up"), feltFromUint(t, 0), feltFromUint(t, 3), feltFromUint(t, 0),
		shortFelt(t, "Down"), feltFromUint(t, 0), feltFromUint(t, 3), feltFromUint(t, 0),
	}

	ty, err := ParseTy(stream)
	require.NoError(t, err)
	require.Equal(t, KindEnum, ty.Kind)
	assert.Equal(t, "Direction", ty.Enum.Name)
	require.Len(t, ty.Enum.Options, 4)
	assert.Equal(t, "Left", ty.Enum.Options[0].Name)
	assert.Equal(t, "Down", ty.Enum.Options[3].Name)
	for _, opt := range ty.Enum.Options {
		assert.Equal(t, KindTuple, opt.Ty.Kind)
		assert.Empty(t, opt.Ty.Tuple)
	}
}

func TestParseTyByteArrayAndArray(t *testing.T) {
	ba, err := ParseTy([]*felt.Felt{feltFromUint(t, 5)})
	require.NoError(t, err)
	assert.Equal(t, KindByteArray, ba.Kind)

	arr, err := ParseTy([]*felt.Felt{
		feltFromUint(t, 4), // array
		feltFromUint(t, 1), // one element type
		feltFromUint(t, 0), shortFelt(t, "u8"),
	})
	require.NoError(t, err)
	require.Equal(t, KindArray, arr.Kind)
	require.Len(t, arr.Array, 1)
	assert.Equal(t, PrimitiveU8, arr.Array[0].Primitive.Type)
}

func TestParseTyRejectsUnknownTag(t *testing.T) {
	_, err := ParseTy([]*felt.Felt{feltFromUint(t, 9)})
	assert.Error(t, err)

	_, err = ParseTy(nil)
	assert.Error(t, err)
}

func TestSetEntityValues(t *testing.T) {
	ty := positionSchema()
	keys := NewFeltReader([]*felt.Felt{feltFromHex(t, "0xbeef")})
	values := NewFeltReader([]*felt.Felt{feltFromUint(t, 10), feltFromUint(t, 20)})

	require.NoError(t, ty.SetEntityValues(keys, values))

	assert.Equal(t, uint64(0xbeef), ty.Struct.Children[0].Ty.Primitive.Value.Uint64())
	assert.Equal(t, uint64(10), ty.Struct.Children[1].Ty.Primitive.Value.Uint64())
	assert.Equal(t, uint64(20), ty.Struct.Children[2].Ty.Primitive.Value.Uint64())
}

func TestSetEntityValuesNilKeysSkipsKeyMembers(t *testing.T) {
	ty := positionSchema()
	values := NewFeltReader([]*felt.Felt{feltFromUint(t, 1), feltFromUint(t, 2)})

	require.NoError(t, ty.SetEntityValues(nil, values))

	assert.Nil(t, ty.Struct.Children[0].Ty.Primitive.Value)
	assert.Equal(t, uint64(1), ty.Struct.Children[1].Ty.Primitive.Value.Uint64())
}

func TestSetValuesEnumTags(t *testing.T) {
	ty := directionEnum()
	require.NoError(t, ty.SetValues(NewFeltReader([]*felt.Felt{feltFromUint(t, 2)})))
	require.NotNil(t, ty.Enum.Option)
	assert.Equal(t, uint8(1), *ty.Enum.Option)

	// Tag zero means the enum was never written.
	ty = directionEnum()
	require.NoError(t, ty.SetValues(NewFeltReader([]*felt.Felt{feltFromUint(t, 0)})))
	assert.Nil(t, ty.Enum.Option)

	ty = directionEnum()
	err := ty.SetValues(NewFeltReader([]*felt.Felt{feltFromUint(t, 9)}))
	assert.Error(t, err)
}

func TestSetValuesArray(t *testing.T) {
	ty := Ty{Kind: KindArray, Array: []Ty{NewPrimitiveTy(PrimitiveU8)}}
	stream := NewFeltReader([]*felt.Felt{
		feltFromUint(t, 3),
		feltFromUint(t, 7), feltFromUint(t, 8), feltFromUint(t, 9),
	})

	require.NoError(t, ty.SetValues(stream))
	require.Len(t, ty.Array, 3)
	assert.Equal(t, uint64(9), ty.Array[2].Primitive.Value.Uint64())
	assert.Equal(t, 0, stream.Remaining())
}

func TestSerializedKeys(t *testing.T) {
	ty := positionSchema()
	keys := NewFeltReader([]*felt.Felt{feltFromHex(t, "0xdead")})
	values := NewFeltReader([]*felt.Felt{feltFromUint(t, 1), feltFromUint(t, 2)})
	require.NoError(t, ty.SetEntityValues(keys, values))

	out, err := ty.SerializedKeys()
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, uint64(0xdead), out[0].BigInt(new(big.Int)).Uint64())
}

func TestJSONValueRoundTrip(t *testing.T) {
	ty := positionSchema()
	keys := NewFeltReader([]*felt.Felt{feltFromHex(t, "0x1")})
	values := NewFeltReader([]*felt.Felt{feltFromUint(t, 5), feltFromUint(t, 6)})
	require.NoError(t, ty.SetEntityValues(keys, values))

	v := ty.JSONValue()
	obj, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(5), obj["x"])

	restored := positionSchema()
	require.NoError(t, restored.SetJSONValue(v))
	assert.Equal(t, uint64(5), restored.Struct.Children[1].Ty.Primitive.Value.Uint64())
	assert.Equal(t, uint64(1), restored.Struct.Children[0].Ty.Primitive.Value.Uint64())
}

func TestSetJSONValueEnumVariant(t *testing.T) {
	ty := directionEnum()
	require.NoError(t, ty.SetJSONValue(map[string]any{"Up": []any{}}))
	require.NotNil(t, ty.Enum.Option)
	assert.Equal(t, uint8(2), *ty.Enum.Option)

	bad := directionEnum()
	err := bad.SetJSONValue(map[string]any{"Sideways": nil})
	assert.Error(t, err)
}

func TestDiff(t *testing.T) {
	old := positionSchema()
	same := positionSchema()
	assert.Nil(t, same.Diff(old))

	upgraded := positionSchema()
	upgraded.Struct.Children = append(upgraded.Struct.Children, Member{
		Name: "z", Ty: NewPrimitiveTy(PrimitiveU32),
	})
	diff := upgraded.Diff(old)
	require.NotNil(t, diff)
	require.Len(t, diff.Struct.Children, 1)
	assert.Equal(t, "z", diff.Struct.Children[0].Name)
}

func TestCloneIsDeep(t *testing.T) {
	ty := positionSchema()
	values := NewFeltReader([]*felt.Felt{feltFromUint(t, 1), feltFromUint(t, 2)})
	require.NoError(t, ty.SetEntityValues(nil, values))

	clone := ty.Clone()
	clone.Struct.Children[1].Ty.Primitive.Value.SetUint64(99)
	assert.Equal(t, uint64(1), ty.Struct.Children[1].Ty.Primitive.Value.Uint64())
}
