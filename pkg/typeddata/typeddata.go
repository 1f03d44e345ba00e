// Package typeddata implements SNIP-12 revision 1 hashing for signable
// off-chain messages: a named primary type, a type registry, a domain
// separator and a poseidon-based message hash bound to the signer account.
package typeddata

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/NethermindEth/starknet.go/curve"

	"world-indexer.backend/pkg/dojo"
)

// Field describes one member of a registered type.
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Contains string `json:"contains,omitempty"`
}

// Domain is the StarknetDomain separator struct.
type Domain struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	ChainID  string `json:"chainId"`
	Revision string `json:"revision,omitempty"`
}

// TypedData is a signable off-chain message.
type TypedData struct {
	Types       map[string][]Field `json:"types"`
	PrimaryType string             `json:"primaryType"`
	Domain      Domain             `json:"domain"`
	Message     map[string]any     `json:"message"`
}

const messagePrefix = "StarkNet Message"

var basicTypes = map[string]struct{}{
	"felt": {}, "bool": {}, "string": {}, "selector": {}, "merkletree": {},
	"u128": {}, "i128": {}, "timestamp": {}, "shortstring": {},
	"ContractAddress": {}, "ClassHash": {},
}

// EncodeType renders the canonical revision-1 encoding of a registered type,
// referenced composite types appended in alphabetical order.
func (td *TypedData) EncodeType(name string) (string, error) {
	deps, err := td.collectDeps(name, map[string]struct{}{})
	if err != nil {
		return "", err
	}
	sort.Strings(deps)

	ordered := append([]string{name}, deps...)
	var b strings.Builder
	for _, t := range ordered {
		fields := td.Types[t]
		b.WriteString(fmt.Sprintf("%q(", t))
		for i, f := range fields {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(fmt.Sprintf("%q:%q", f.Name, f.Type))
		}
		b.WriteString(")")
	}
	return b.String(), nil
}

func (td *TypedData) collectDeps(name string, seen map[string]struct{}) ([]string, error) {
	fields, ok := td.Types[name]
	if !ok {
		return nil, fmt.Errorf("type %q not in registry", name)
	}
	seen[name] = struct{}{}

	var deps []string
	for _, f := range fields {
		ref := strings.TrimSuffix(f.Type, "*")
		if _, basic := basicTypes[ref]; basic {
			continue
		}
		if _, done := seen[ref]; done {
			continue
		}
		if _, registered := td.Types[ref]; !registered {
			return nil, fmt.Errorf("field %q references unregistered type %q", f.Name, ref)
		}
		deps = append(deps, ref)
		sub, err := td.collectDeps(ref, seen)
		if err != nil {
			return nil, err
		}
		deps = append(deps, sub...)
	}
	return deps, nil
}

// TypeHash is starknet_keccak of the canonical type encoding.
func (td *TypedData) TypeHash(name string) (*felt.Felt, error) {
	enc, err := td.EncodeType(name)
	if err != nil {
		return nil, err
	}
	return dojo.StarknetKeccak([]byte(enc)), nil
}

// StructHash hashes an object of a registered type:
// poseidon(type_hash, field_1, …, field_n).
func (td *TypedData) StructHash(name string, obj map[string]any) (*felt.Felt, error) {
	th, err := td.TypeHash(name)
	if err != nil {
		return nil, err
	}

	encoded := []*felt.Felt{th}
	for _, f := range td.Types[name] {
		v, ok := obj[f.Name]
		if !ok {
			return nil, fmt.Errorf("message missing field %q of type %q", f.Name, name)
		}
		ev, err := td.encodeValue(f.Type, v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		encoded = append(encoded, ev)
	}
	return curve.PoseidonArray(encoded...), nil
}

func (td *TypedData) encodeValue(fieldType string, v any) (*felt.Felt, error) {
	if elem, ok := strings.CutSuffix(fieldType, "*"); ok {
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("expected array for type %q", fieldType)
		}
		var hashes []*felt.Felt
		for _, item := range items {
			h, err := td.encodeValue(elem, item)
			if err != nil {
				return nil, err
			}
			hashes = append(hashes, h)
		}
		return curve.PoseidonArray(hashes...), nil
	}

	if _, registered := td.Types[fieldType]; registered {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object for type %q", fieldType)
		}
		return td.StructHash(fieldType, obj)
	}

	switch fieldType {
	case "felt", "ContractAddress", "ClassHash", "u128", "i128", "timestamp":
		return numericFelt(v)
	case "bool":
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		if b {
			return new(felt.Felt).SetUint64(1), nil
		}
		return new(felt.Felt).SetUint64(0), nil
	case "string":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return dojo.ByteArrayHash(s)
	case "selector":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected selector string, got %T", v)
		}
		return dojo.EventSelector(s), nil
	case "shortstring":
		return shortStringFelt(v)
	case "merkletree":
		return nil, fmt.Errorf("merkletree fields are not supported")
	default:
		return nil, fmt.Errorf("unknown type %q", fieldType)
	}
}

func numericFelt(v any) (*felt.Felt, error) {
	switch t := v.(type) {
	case string:
		return new(felt.Felt).SetString(t)
	case float64:
		if t < 0 {
			return nil, fmt.Errorf("negative value %v not representable", t)
		}
		return new(felt.Felt).SetUint64(uint64(t)), nil
	case *big.Int:
		return new(felt.Felt).SetString(t.String())
	default:
		return nil, fmt.Errorf("cannot encode %T as felt", v)
	}
}

func shortStringFelt(v any) (*felt.Felt, error) {
	s, ok := v.(string)
	if !ok {
		return numericFelt(v)
	}
	if strings.HasPrefix(s, "0x") {
		return new(felt.Felt).SetString(s)
	}
	return dojo.ShortStringToFelt(s)
}

// MessageHash computes the final signable hash for an account:
// poseidon("StarkNet Message", domain_hash, account, struct_hash(primary)).
func (td *TypedData) MessageHash(account *felt.Felt) (*felt.Felt, error) {
	if td.Domain.Revision != "" && td.Domain.Revision != "1" {
		return nil, fmt.Errorf("unsupported domain revision %q", td.Domain.Revision)
	}

	prefix, err := dojo.ShortStringToFelt(messagePrefix)
	if err != nil {
		return nil, err
	}

	domainType := "StarknetDomain"
	if _, ok := td.Types[domainType]; !ok {
		return nil, fmt.Errorf("type registry missing %q", domainType)
	}
	domainHash, err := td.StructHash(domainType, map[string]any{
		"name":     td.Domain.Name,
		"version":  td.Domain.Version,
		"chainId":  td.Domain.ChainID,
		"revision": td.Domain.Revision,
	})
	if err != nil {
		return nil, err
	}

	msgHash, err := td.StructHash(td.PrimaryType, td.Message)
	if err != nil {
		return nil, err
	}

	return curve.PoseidonArray(prefix, domainHash, account, msgHash), nil
}
