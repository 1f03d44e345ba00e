package entities

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/NethermindEth/juno/core/felt"

	domainerrors "world-indexer.backend/internal/domain/errors"
)

// PrimitiveType enumerates the sized scalar types a model member may carry.
type PrimitiveType string

const (
	PrimitiveI8              PrimitiveType = "i8"
	PrimitiveI16             PrimitiveType = "i16"
	PrimitiveI32             PrimitiveType = "i32"
	PrimitiveI64             PrimitiveType = "i64"
	PrimitiveI128            PrimitiveType = "i128"
	PrimitiveU8              PrimitiveType = "u8"
	PrimitiveU16             PrimitiveType = "u16"
	PrimitiveU32             PrimitiveType = "u32"
	PrimitiveU64             PrimitiveType = "u64"
	PrimitiveU128            PrimitiveType = "u128"
	PrimitiveU256            PrimitiveType = "u256"
	PrimitiveBool            PrimitiveType = "bool"
	PrimitiveFelt252         PrimitiveType = "felt252"
	PrimitiveClassHash       PrimitiveType = "ClassHash"
	PrimitiveContractAddress PrimitiveType = "ContractAddress"
	PrimitiveEthAddress      PrimitiveType = "EthAddress"
)

var primitiveTypes = map[string]PrimitiveType{
	"i8": PrimitiveI8, "i16": PrimitiveI16, "i32": PrimitiveI32,
	"i64": PrimitiveI64, "i128": PrimitiveI128,
	"u8": PrimitiveU8, "u16": PrimitiveU16, "u32": PrimitiveU32,
	"u64": PrimitiveU64, "u128": PrimitiveU128, "u256": PrimitiveU256,
	"bool": PrimitiveBool, "felt252": PrimitiveFelt252,
	"ClassHash": PrimitiveClassHash, "ContractAddress": PrimitiveContractAddress,
	"EthAddress": PrimitiveEthAddress,
}

// ParsePrimitiveType resolves a type name from an introspected schema.
func ParsePrimitiveType(s string) (PrimitiveType, bool) {
	t, ok := primitiveTypes[s]
	return t, ok
}

// Primitive is a scalar member with an optional value.
type Primitive struct {
	Type  PrimitiveType `json:"type"`
	Value *big.Int      `json:"value,omitempty"`
}

// The Stark field prime; negative signed values are serialized as p - |v|.
var (
	fieldPrime, _  = new(big.Int).SetString("800000000000011000000000000000000000000000000000000000000000001", 16)
	fieldPrimeHalf = new(big.Int).Rsh(fieldPrime, 1)
	twoPow128      = new(big.Int).Lsh(big.NewInt(1), 128)
)

func (t PrimitiveType) signed() bool {
	switch t {
	case PrimitiveI8, PrimitiveI16, PrimitiveI32, PrimitiveI64, PrimitiveI128:
		return true
	}
	return false
}

// SQLType returns the column type used for this primitive: INTEGER for values
// that fit a signed 64-bit integer, padded hex TEXT otherwise.
func (t PrimitiveType) SQLType() string {
	switch t {
	case PrimitiveBool, PrimitiveU8, PrimitiveU16, PrimitiveU32,
		PrimitiveI8, PrimitiveI16, PrimitiveI32, PrimitiveI64:
		return "INTEGER"
	}
	return "TEXT"
}

// SetFromFelts consumes the primitive's serialized form: two felts for u256
// (low then high limb), one felt otherwise.
func (p *Primitive) SetFromFelts(r *FeltReader) error {
	if p.Type == PrimitiveU256 {
		low, err := r.Next()
		if err != nil {
			return err
		}
		high, err := r.Next()
		if err != nil {
			return err
		}
		v := high.BigInt(new(big.Int))
		v.Lsh(v, 128)
		v.Or(v, low.BigInt(new(big.Int)))
		p.Value = v
		return nil
	}

	f, err := r.Next()
	if err != nil {
		return err
	}
	v := f.BigInt(new(big.Int))
	if p.Type.signed() && v.Cmp(fieldPrimeHalf) > 0 {
		v.Sub(v, fieldPrime)
	}
	p.Value = v
	return nil
}

// ToFelts serializes the value back to its felt form.
func (p Primitive) ToFelts() ([]*felt.Felt, error) {
	if p.Value == nil {
		return nil, fmt.Errorf("%w: primitive %s has no value", domainerrors.ErrInvalidInput, p.Type)
	}
	if p.Type == PrimitiveU256 {
		low := new(big.Int).Mod(p.Value, twoPow128)
		high := new(big.Int).Rsh(p.Value, 128)
		lowF, err := new(felt.Felt).SetString(low.String())
		if err != nil {
			return nil, err
		}
		highF, err := new(felt.Felt).SetString(high.String())
		if err != nil {
			return nil, err
		}
		return []*felt.Felt{lowF, highF}, nil
	}

	v := p.Value
	if v.Sign() < 0 {
		v = new(big.Int).Add(fieldPrime, v)
	}
	f, err := new(felt.Felt).SetString(v.String())
	if err != nil {
		return nil, err
	}
	return []*felt.Felt{f}, nil
}

// SQLValue returns the value in its storage form. INTEGER columns carry the
// integer directly; TEXT columns carry fixed-width hex. u256 is 64 hex chars
// without the 0x prefix.
func (p Primitive) SQLValue() (any, error) {
	if p.Value == nil {
		return nil, nil
	}
	switch p.Type {
	case PrimitiveBool, PrimitiveU8, PrimitiveU16, PrimitiveU32,
		PrimitiveI8, PrimitiveI16, PrimitiveI32, PrimitiveI64:
		if !p.Value.IsInt64() {
			return nil, fmt.Errorf("%w: value %s out of range for %s", domainerrors.ErrInvalidInput, p.Value, p.Type)
		}
		return p.Value.Int64(), nil
	case PrimitiveU64:
		return fmt.Sprintf("0x%016x", p.Value), nil
	case PrimitiveU128:
		return fmt.Sprintf("0x%032x", p.Value), nil
	case PrimitiveI128:
		// Stored as the two's complement bit pattern.
		v := new(big.Int).Mod(p.Value, twoPow128)
		return fmt.Sprintf("0x%032x", v), nil
	case PrimitiveU256:
		return fmt.Sprintf("%064x", p.Value), nil
	case PrimitiveEthAddress:
		return fmt.Sprintf("0x%040x", p.Value), nil
	default: // felt252, ClassHash, ContractAddress
		return fmt.Sprintf("0x%064x", p.Value), nil
	}
}

// SetFromSQL restores the value from its storage form.
func (p *Primitive) SetFromSQL(s string) error {
	switch p.Type.SQLType() {
	case "INTEGER":
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s is not an integer: %v", domainerrors.ErrStorage, s, err)
		}
		p.Value = big.NewInt(v)
		return nil
	}

	hex := strings.TrimPrefix(s, "0x")
	v, ok := new(big.Int).SetString(hex, 16)
	if !ok {
		return fmt.Errorf("%w: %s is not hex", domainerrors.ErrStorage, s)
	}
	if p.Type == PrimitiveI128 && v.Cmp(new(big.Int).Rsh(twoPow128, 1)) >= 0 {
		v.Sub(v, twoPow128)
	}
	p.Value = v
	return nil
}
