package entities

import (
	"fmt"

	"github.com/NethermindEth/juno/core/felt"

	domainerrors "world-indexer.backend/internal/domain/errors"
	"world-indexer.backend/pkg/dojo"
)

// Member type tags in an introspected schema stream.
const (
	memberPrimitive = 0
	memberStruct    = 1
	memberEnum      = 2
	memberTuple     = 3
	memberArray     = 4
	memberByteArray = 5
)

// ParseTy decodes the raw introspection output of a model contract's schema
// entrypoint into a Ty. The stream is a tagged prefix layout: every node
// starts with its member type tag followed by a tag-specific body.
func ParseTy(data []*felt.Felt) (Ty, error) {
	if len(data) == 0 {
		return Ty{}, fmt.Errorf("%w: empty schema stream", domainerrors.ErrInvalidSchema)
	}
	tag, err := feltToU32(data[0])
	if err != nil {
		return Ty{}, err
	}

	switch tag {
	case memberPrimitive:
		return parseSimple(data[1:])
	case memberStruct:
		return parseStruct(data[1:])
	case memberEnum:
		return parseEnum(data[1:])
	case memberTuple:
		return parseTuple(data[1:])
	case memberArray:
		return parseArray(data[1:])
	case memberByteArray:
		return NewByteArrayTy(), nil
	default:
		return Ty{}, fmt.Errorf("%w: unsupported member type tag %d", domainerrors.ErrInvalidSchema, tag)
	}
}

func parseSimple(data []*felt.Felt) (Ty, error) {
	if len(data) == 0 {
		return Ty{}, fmt.Errorf("%w: missing primitive name", domainerrors.ErrInvalidSchema)
	}
	name := dojo.ParseShortString(data[0])
	pt, ok := ParsePrimitiveType(name)
	if !ok {
		return Ty{}, fmt.Errorf("%w: unsupported primitive %q", domainerrors.ErrInvalidSchema, name)
	}
	return NewPrimitiveTy(pt), nil
}

func parseStruct(data []*felt.Felt) (Ty, error) {
	// A struct needs at least its name, attrs length and children length.
	if len(data) < 3 {
		return Ty{}, fmt.Errorf("%w: struct header needs 3 felts, have %d", domainerrors.ErrInvalidSchema, len(data))
	}
	name := dojo.ParseShortString(data[0])

	attrsLen, err := feltToU32(data[1])
	if err != nil {
		return Ty{}, err
	}
	attrsEnd := 2 + int(attrsLen)
	if attrsEnd >= len(data) {
		return Ty{}, fmt.Errorf("%w: struct %s attrs overrun", domainerrors.ErrInvalidSchema, name)
	}

	childrenLen, err := feltToU32(data[attrsEnd])
	if err != nil {
		return Ty{}, err
	}

	children := make([]Member, 0, childrenLen)
	offset := attrsEnd + 1
	for i := 0; i < int(childrenLen); i++ {
		start := i + offset
		if start >= len(data) {
			return Ty{}, fmt.Errorf("%w: struct %s truncated at child %d", domainerrors.ErrInvalidSchema, name, i)
		}
		length, err := feltToU32(data[start])
		if err != nil {
			return Ty{}, err
		}
		sliceStart := start + 1
		sliceEnd := sliceStart + int(length)
		if sliceEnd > len(data) {
			return Ty{}, fmt.Errorf("%w: struct %s child %d overrun", domainerrors.ErrInvalidSchema, name, i)
		}
		member, err := parseMember(data[sliceStart:sliceEnd])
		if err != nil {
			return Ty{}, err
		}
		children = append(children, member)
		offset += int(length)
	}

	return Ty{Kind: KindStruct, Struct: &Struct{Name: name, Children: children}}, nil
}

func parseMember(data []*felt.Felt) (Member, error) {
	if len(data) < 3 {
		return Member{}, fmt.Errorf("%w: member needs name, attrs and type", domainerrors.ErrInvalidSchema)
	}
	name := dojo.ParseShortString(data[0])

	attrsLen, err := feltToU32(data[1])
	if err != nil {
		return Member{}, err
	}
	attrsEnd := 2 + int(attrsLen)
	if attrsEnd > len(data) {
		return Member{}, fmt.Errorf("%w: member %s attrs overrun", domainerrors.ErrInvalidSchema, name)
	}

	key := false
	for _, attr := range data[2:attrsEnd] {
		if dojo.ParseShortString(attr) == "key" {
			key = true
		}
	}

	ty, err := ParseTy(data[attrsEnd:])
	if err != nil {
		return Member{}, err
	}
	return Member{Name: name, Ty: ty, Key: key}, nil
}

func parseEnum(data []*felt.Felt) (Ty, error) {
	if len(data) < 3 {
		return Ty{}, fmt.Errorf("%w: enum header needs 3 felts, have %d", domainerrors.ErrInvalidSchema, len(data))
	}
	name := dojo.ParseShortString(data[0])

	attrsLen, err := feltToU32(data[1])
	if err != nil {
		return Ty{}, err
	}
	attrsEnd := 2 + int(attrsLen)
	if attrsEnd >= len(data) {
		return Ty{}, fmt.Errorf("%w: enum %s attrs overrun", domainerrors.ErrInvalidSchema, name)
	}

	valuesLen, err := feltToU32(data[attrsEnd])
	if err != nil {
		return Ty{}, err
	}

	options := make([]EnumOption, 0, valuesLen)
	offset := attrsEnd + 1
	for i := 0; i < int(valuesLen); i++ {
		start := i + offset
		if start+3 >= len(data) {
			return Ty{}, fmt.Errorf("%w: enum %s truncated at option %d", domainerrors.ErrInvalidSchema, name, i)
		}
		optName := dojo.ParseShortString(data[start])
		// The option body starts two felts in; its length felt counts the
		// payload without the member type tag.
		length, err := feltToU32(data[start+3])
		if err != nil {
			return Ty{}, err
		}
		length++
		sliceStart := start + 2
		sliceEnd := sliceStart + int(length)
		if sliceEnd > len(data) {
			return Ty{}, fmt.Errorf("%w: enum %s option %d overrun", domainerrors.ErrInvalidSchema, name, i)
		}
		optTy, err := ParseTy(data[sliceStart:sliceEnd])
		if err != nil {
			return Ty{}, err
		}
		options = append(options, EnumOption{Name: optName, Ty: optTy})
		offset += int(length) + 2
	}

	return Ty{Kind: KindEnum, Enum: &Enum{Name: name, Options: options}}, nil
}

func parseTuple(data []*felt.Felt) (Ty, error) {
	// The unit type is an empty tuple.
	if len(data) == 0 {
		return Ty{Kind: KindTuple}, nil
	}

	childrenLen, err := feltToU32(data[0])
	if err != nil {
		return Ty{}, err
	}

	children := make([]Ty, 0, childrenLen)
	offset := 1
	for i := 0; i < int(childrenLen); i++ {
		start := i + offset
		if start >= len(data) {
			return Ty{}, fmt.Errorf("%w: tuple truncated at element %d", domainerrors.ErrInvalidSchema, i)
		}
		length, err := feltToU32(data[start])
		if err != nil {
			return Ty{}, err
		}
		sliceStart := start + 1
		sliceEnd := sliceStart + int(length)
		if sliceEnd > len(data) {
			return Ty{}, fmt.Errorf("%w: tuple element %d overrun", domainerrors.ErrInvalidSchema, i)
		}
		child, err := ParseTy(data[sliceStart:sliceEnd])
		if err != nil {
			return Ty{}, err
		}
		children = append(children, child)
		offset += int(length)
	}

	return Ty{Kind: KindTuple, Tuple: children}, nil
}

func parseArray(data []*felt.Felt) (Ty, error) {
	if len(data) < 2 {
		return Ty{}, fmt.Errorf("%w: array type needs an element descriptor", domainerrors.ErrInvalidSchema)
	}
	// Arrays are homogeneous; the descriptor is the single element type.
	item, err := ParseTy(data[1:])
	if err != nil {
		return Ty{}, err
	}
	return Ty{Kind: KindArray, Array: []Ty{item}}, nil
}
