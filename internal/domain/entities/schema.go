package entities

import (
	"fmt"
	"math/big"

	"github.com/NethermindEth/juno/core/felt"

	domainerrors "world-indexer.backend/internal/domain/errors"
)

// TyKind discriminates the schema sum type.
type TyKind string

const (
	KindPrimitive TyKind = "primitive"
	KindStruct    TyKind = "struct"
	KindEnum      TyKind = "enum"
	KindTuple     TyKind = "tuple"
	KindArray     TyKind = "array"
	KindByteArray TyKind = "bytearray"
)

// Ty is a model schema node. The same value drives DDL, row writing and row
// mapping; leaves may carry values after deserialization.
type Ty struct {
	Kind      TyKind     `json:"kind"`
	Primitive *Primitive `json:"primitive,omitempty"`
	Struct    *Struct    `json:"struct,omitempty"`
	Enum      *Enum      `json:"enum,omitempty"`
	Tuple     []Ty       `json:"tuple,omitempty"`
	Array     []Ty       `json:"array,omitempty"`
	ByteArray *string    `json:"byte_array,omitempty"`
}

type Struct struct {
	Name     string   `json:"name"`
	Children []Member `json:"children"`
}

type Member struct {
	Name string `json:"name"`
	Ty   Ty     `json:"ty"`
	Key  bool   `json:"key"`
}

type Enum struct {
	Name    string       `json:"name"`
	Option  *uint8       `json:"option,omitempty"`
	Options []EnumOption `json:"options"`
}

type EnumOption struct {
	Name string `json:"name"`
	Ty   Ty     `json:"ty"`
}

func NewPrimitiveTy(t PrimitiveType) Ty {
	return Ty{Kind: KindPrimitive, Primitive: &Primitive{Type: t}}
}

func NewByteArrayTy() Ty {
	return Ty{Kind: KindByteArray}
}

// Name returns the display name of the node.
func (t Ty) Name() string {
	switch t.Kind {
	case KindPrimitive:
		return string(t.Primitive.Type)
	case KindStruct:
		return t.Struct.Name
	case KindEnum:
		return t.Enum.Name
	case KindTuple:
		return "tuple"
	case KindArray:
		return "array"
	case KindByteArray:
		return "ByteArray"
	}
	return ""
}

// Clone deep-copies the node, values included.
func (t Ty) Clone() Ty {
	out := Ty{Kind: t.Kind}
	switch t.Kind {
	case KindPrimitive:
		p := Primitive{Type: t.Primitive.Type}
		if t.Primitive.Value != nil {
			p.Value = new(big.Int).Set(t.Primitive.Value)
		}
		out.Primitive = &p
	case KindStruct:
		s := Struct{Name: t.Struct.Name, Children: make([]Member, len(t.Struct.Children))}
		for i, c := range t.Struct.Children {
			s.Children[i] = Member{Name: c.Name, Ty: c.Ty.Clone(), Key: c.Key}
		}
		out.Struct = &s
	case KindEnum:
		e := Enum{Name: t.Enum.Name, Options: make([]EnumOption, len(t.Enum.Options))}
		if t.Enum.Option != nil {
			o := *t.Enum.Option
			e.Option = &o
		}
		for i, opt := range t.Enum.Options {
			e.Options[i] = EnumOption{Name: opt.Name, Ty: opt.Ty.Clone()}
		}
		out.Enum = &e
	case KindTuple:
		out.Tuple = make([]Ty, len(t.Tuple))
		for i, c := range t.Tuple {
			out.Tuple[i] = c.Clone()
		}
	case KindArray:
		out.Array = make([]Ty, len(t.Array))
		for i, c := range t.Array {
			out.Array[i] = c.Clone()
		}
	case KindByteArray:
		if t.ByteArray != nil {
			s := *t.ByteArray
			out.ByteArray = &s
		}
	}
	return out
}

// SetValues deserializes a felt stream into the schema's leaves. Enum tags
// are stored shifted by one; zero means the enum was never initialized and
// carries no payload.
func (t *Ty) SetValues(r *FeltReader) error {
	switch t.Kind {
	case KindPrimitive:
		return t.Primitive.SetFromFelts(r)
	case KindStruct:
		for i := range t.Struct.Children {
			if err := t.Struct.Children[i].Ty.SetValues(r); err != nil {
				return err
			}
		}
		return nil
	case KindEnum:
		tag, err := r.NextUint()
		if err != nil {
			return err
		}
		if tag == 0 {
			t.Enum.Option = nil
			return nil
		}
		idx := tag - 1
		if idx >= uint64(len(t.Enum.Options)) {
			return fmt.Errorf("%w: enum %s tag %d out of range", domainerrors.ErrDecodeEvent, t.Enum.Name, tag)
		}
		o := uint8(idx)
		t.Enum.Option = &o
		return t.Enum.Options[idx].Ty.SetValues(r)
	case KindTuple:
		for i := range t.Tuple {
			if err := t.Tuple[i].SetValues(r); err != nil {
				return err
			}
		}
		return nil
	case KindArray:
		if len(t.Array) == 0 {
			return fmt.Errorf("%w: array type without element schema", domainerrors.ErrInvalidSchema)
		}
		n, err := r.NextUint()
		if err != nil {
			return err
		}
		if n > uint64(r.Remaining()) {
			return fmt.Errorf("%w: array claims %d items, have %d felts", domainerrors.ErrDecodeEvent, n, r.Remaining())
		}
		template := t.Array[0]
		items := make([]Ty, n)
		for i := range items {
			items[i] = template.Clone()
			if err := items[i].SetValues(r); err != nil {
				return err
			}
		}
		t.Array = items
		return nil
	case KindByteArray:
		s, err := r.ReadByteArray()
		if err != nil {
			return err
		}
		t.ByteArray = &s
		return nil
	}
	return fmt.Errorf("%w: unknown kind %q", domainerrors.ErrInvalidSchema, t.Kind)
}

// SetEntityValues deserializes a record event into a struct schema: key
// members consume the keys stream, the rest the values stream. A nil keys
// stream leaves key members untouched (partial updates re-use stored keys).
func (t *Ty) SetEntityValues(keys, values *FeltReader) error {
	if t.Kind != KindStruct {
		return fmt.Errorf("%w: record schema must be a struct", domainerrors.ErrInvalidSchema)
	}
	for i := range t.Struct.Children {
		child := &t.Struct.Children[i]
		src := values
		if child.Key {
			src = keys
		}
		if src == nil {
			continue
		}
		if err := child.Ty.SetValues(src); err != nil {
			return fmt.Errorf("member %s: %w", child.Name, err)
		}
	}
	return nil
}

// SerializedKeys returns the felt serialization of the key members, in order.
func (t Ty) SerializedKeys() ([]*felt.Felt, error) {
	if t.Kind != KindStruct {
		return nil, fmt.Errorf("%w: keys require a struct schema", domainerrors.ErrInvalidSchema)
	}
	var out []*felt.Felt
	for _, c := range t.Struct.Children {
		if !c.Key {
			continue
		}
		switch c.Ty.Kind {
		case KindPrimitive:
			felts, err := c.Ty.Primitive.ToFelts()
			if err != nil {
				return nil, fmt.Errorf("key %s: %w", c.Name, err)
			}
			out = append(out, felts...)
		default:
			return nil, fmt.Errorf("%w: key member %s must be a primitive", domainerrors.ErrInvalidSchema, c.Name)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: schema has no key members", domainerrors.ErrInvalidSchema)
	}
	return out, nil
}

// JSONValue projects the populated leaves into plain JSON-encodable values.
// Arrays are stored in this form.
func (t Ty) JSONValue() any {
	switch t.Kind {
	case KindPrimitive:
		v, err := t.Primitive.SQLValue()
		if err != nil {
			return nil
		}
		return v
	case KindStruct:
		obj := map[string]any{}
		for _, c := range t.Struct.Children {
			obj[c.Name] = c.Ty.JSONValue()
		}
		return obj
	case KindEnum:
		if t.Enum.Option == nil {
			return nil
		}
		opt := t.Enum.Options[*t.Enum.Option]
		return map[string]any{opt.Name: opt.Ty.JSONValue()}
	case KindTuple:
		items := make([]any, len(t.Tuple))
		for i, c := range t.Tuple {
			items[i] = c.JSONValue()
		}
		return items
	case KindArray:
		items := make([]any, len(t.Array))
		for i, c := range t.Array {
			items[i] = c.JSONValue()
		}
		return items
	case KindByteArray:
		if t.ByteArray == nil {
			return nil
		}
		return *t.ByteArray
	}
	return nil
}

// SetJSONValue restores leaf values from the JSONValue projection. It also
// maps typed-data message bodies onto a schema.
func (t *Ty) SetJSONValue(v any) error {
	if v == nil {
		return nil
	}
	switch t.Kind {
	case KindPrimitive:
		return t.setPrimitiveJSON(v)
	case KindStruct:
		obj, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: expected object for struct %s", domainerrors.ErrInvalidInput, t.Struct.Name)
		}
		for i := range t.Struct.Children {
			child := &t.Struct.Children[i]
			cv, ok := obj[child.Name]
			if !ok {
				continue
			}
			if err := child.Ty.SetJSONValue(cv); err != nil {
				return fmt.Errorf("member %s: %w", child.Name, err)
			}
		}
		return nil
	case KindEnum:
		obj, ok := v.(map[string]any)
		if !ok || len(obj) != 1 {
			return fmt.Errorf("%w: expected single-variant object for enum %s", domainerrors.ErrInvalidInput, t.Enum.Name)
		}
		for name, inner := range obj {
			for i := range t.Enum.Options {
				if t.Enum.Options[i].Name == name {
					o := uint8(i)
					t.Enum.Option = &o
					return t.Enum.Options[i].Ty.SetJSONValue(inner)
				}
			}
			return fmt.Errorf("%w: enum %s has no variant %s", domainerrors.ErrInvalidInput, t.Enum.Name, name)
		}
		return nil
	case KindTuple:
		items, ok := v.([]any)
		if !ok || len(items) != len(t.Tuple) {
			return fmt.Errorf("%w: expected %d-tuple", domainerrors.ErrInvalidInput, len(t.Tuple))
		}
		for i := range t.Tuple {
			if err := t.Tuple[i].SetJSONValue(items[i]); err != nil {
				return err
			}
		}
		return nil
	case KindArray:
		items, ok := v.([]any)
		if !ok {
			return fmt.Errorf("%w: expected array", domainerrors.ErrInvalidInput)
		}
		if len(t.Array) == 0 {
			return fmt.Errorf("%w: array type without element schema", domainerrors.ErrInvalidSchema)
		}
		template := t.Array[0]
		out := make([]Ty, len(items))
		for i, item := range items {
			out[i] = template.Clone()
			if err := out[i].SetJSONValue(item); err != nil {
				return err
			}
		}
		t.Array = out
		return nil
	case KindByteArray:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: expected string for ByteArray", domainerrors.ErrInvalidInput)
		}
		t.ByteArray = &s
		return nil
	}
	return fmt.Errorf("%w: unknown kind %q", domainerrors.ErrInvalidSchema, t.Kind)
}

func (t *Ty) setPrimitiveJSON(v any) error {
	switch val := v.(type) {
	case bool:
		n := big.NewInt(0)
		if val {
			n = big.NewInt(1)
		}
		t.Primitive.Value = n
		return nil
	case float64:
		t.Primitive.Value = big.NewInt(int64(val))
		return nil
	case string:
		return t.Primitive.SetFromSQL(val)
	case int64:
		t.Primitive.Value = big.NewInt(val)
		return nil
	default:
		return fmt.Errorf("%w: cannot read %T into %s", domainerrors.ErrInvalidInput, v, t.Primitive.Type)
	}
}

// SameShape compares two nodes structurally, ignoring values.
func (t Ty) SameShape(other Ty) bool {
	if t.Kind != other.Kind {
		return false
	}
	switch t.Kind {
	case KindPrimitive:
		return t.Primitive.Type == other.Primitive.Type
	case KindStruct:
		if t.Struct.Name != other.Struct.Name || len(t.Struct.Children) != len(other.Struct.Children) {
			return false
		}
		for i := range t.Struct.Children {
			a, b := t.Struct.Children[i], other.Struct.Children[i]
			if a.Name != b.Name || a.Key != b.Key || !a.Ty.SameShape(b.Ty) {
				return false
			}
		}
		return true
	case KindEnum:
		if t.Enum.Name != other.Enum.Name || len(t.Enum.Options) != len(other.Enum.Options) {
			return false
		}
		for i := range t.Enum.Options {
			a, b := t.Enum.Options[i], other.Enum.Options[i]
			if a.Name != b.Name || !a.Ty.SameShape(b.Ty) {
				return false
			}
		}
		return true
	case KindTuple:
		if len(t.Tuple) != len(other.Tuple) {
			return false
		}
		for i := range t.Tuple {
			if !t.Tuple[i].SameShape(other.Tuple[i]) {
				return false
			}
		}
		return true
	case KindArray:
		if len(t.Array) == 0 || len(other.Array) == 0 {
			return len(t.Array) == len(other.Array)
		}
		return t.Array[0].SameShape(other.Array[0])
	case KindByteArray:
		return true
	}
	return false
}

// Diff returns the subset of this schema that is new or changed relative to
// old, or nil when the shapes are identical. Upgrades use the diff to add
// columns without touching removed members.
func (t Ty) Diff(old Ty) *Ty {
	if t.Kind != old.Kind {
		c := t.Clone()
		return &c
	}
	switch t.Kind {
	case KindStruct:
		oldChildren := map[string]Member{}
		for _, c := range old.Struct.Children {
			oldChildren[c.Name] = c
		}
		var changed []Member
		for _, c := range t.Struct.Children {
			prev, ok := oldChildren[c.Name]
			if !ok {
				changed = append(changed, Member{Name: c.Name, Ty: c.Ty.Clone(), Key: c.Key})
				continue
			}
			if inner := c.Ty.Diff(prev.Ty); inner != nil {
				changed = append(changed, Member{Name: c.Name, Ty: *inner, Key: c.Key})
			}
		}
		if len(changed) == 0 {
			return nil
		}
		return &Ty{Kind: KindStruct, Struct: &Struct{Name: t.Struct.Name, Children: changed}}
	case KindEnum:
		oldOptions := map[string]EnumOption{}
		for _, o := range old.Enum.Options {
			oldOptions[o.Name] = o
		}
		var changed []EnumOption
		for _, o := range t.Enum.Options {
			prev, ok := oldOptions[o.Name]
			if !ok {
				changed = append(changed, EnumOption{Name: o.Name, Ty: o.Ty.Clone()})
				continue
			}
			if inner := o.Ty.Diff(prev.Ty); inner != nil {
				changed = append(changed, EnumOption{Name: o.Name, Ty: *inner})
			}
		}
		if len(changed) == 0 {
			return nil
		}
		return &Ty{Kind: KindEnum, Enum: &Enum{Name: t.Enum.Name, Options: changed}}
	default:
		if t.SameShape(old) {
			return nil
		}
		c := t.Clone()
		return &c
	}
}

func feltToU32(f *felt.Felt) (uint32, error) {
	v := f.BigInt(new(big.Int))
	if !v.IsUint64() || v.Uint64() > uint64(^uint32(0)) {
		return 0, fmt.Errorf("%w: felt %s does not fit u32", domainerrors.ErrInvalidSchema, v)
	}
	return uint32(v.Uint64()), nil
}
