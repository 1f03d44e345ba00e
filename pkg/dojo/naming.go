// Package dojo implements the naming and hashing conventions of the world
// contract: tags, selectors, byte-array hashes and event name selectors.
package dojo

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/NethermindEth/starknet.go/curve"
	snutils "github.com/NethermindEth/starknet.go/utils"
	"github.com/ethereum/go-ethereum/crypto"
)

const TagSeparator = "-"

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// GetTag builds the "namespace-name" form of a resource tag.
func GetTag(namespace, name string) string {
	return namespace + TagSeparator + name
}

// SplitTag splits a "namespace-name" tag into its two parts.
func SplitTag(tag string) (string, string, error) {
	parts := strings.Split(tag, TagSeparator)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("unexpected tag %q, expected <NAMESPACE>-<NAME>", tag)
	}
	return parts[0], parts[1], nil
}

// IsNameValid reports whether a namespace or resource name follows the
// toolchain format rules.
func IsNameValid(name string) bool {
	return namePattern.MatchString(name)
}

// IsValidTag reports whether both halves of a tag are valid names.
func IsValidTag(tag string) bool {
	namespace, name, err := SplitTag(tag)
	if err != nil {
		return false
	}
	return IsNameValid(namespace) && IsNameValid(name)
}

// ByteArrayHash computes poseidon over the Cairo serialization of the string
// as a ByteArray. Namespaces are identified by this hash.
func ByteArrayHash(value string) (*felt.Felt, error) {
	felts, err := snutils.StringToByteArrFelt(value)
	if err != nil {
		return nil, fmt.Errorf("invalid byte array %q: %w", value, err)
	}
	return curve.PoseidonArray(felts...), nil
}

// SelectorFromNames computes the resource selector
// poseidon(bytearray_hash(namespace), bytearray_hash(name)).
func SelectorFromNames(namespace, name string) (*felt.Felt, error) {
	nsHash, err := ByteArrayHash(namespace)
	if err != nil {
		return nil, err
	}
	nameHash, err := ByteArrayHash(name)
	if err != nil {
		return nil, err
	}
	return curve.PoseidonArray(nsHash, nameHash), nil
}

// SelectorFromTag computes the resource selector for a "namespace-name" tag.
func SelectorFromTag(tag string) (*felt.Felt, error) {
	namespace, name, err := SplitTag(tag)
	if err != nil {
		return nil, err
	}
	return SelectorFromNames(namespace, name)
}

// StarknetKeccak is keccak256 truncated to 250 bits, the hash used for event
// and entrypoint name selectors.
func StarknetKeccak(data []byte) *felt.Felt {
	h := crypto.Keccak256(data)
	h[0] &= 0x03
	return new(felt.Felt).SetBytes(h)
}

// EventSelector returns the selector emitted as keys[0] for a named event.
func EventSelector(name string) *felt.Felt {
	return StarknetKeccak([]byte(name))
}

// ParseShortString decodes a Cairo short string felt into its ASCII form.
func ParseShortString(f *felt.Felt) string {
	b := f.Bytes()
	return string(bytes.TrimLeft(b[:], "\x00"))
}

// ShortStringToFelt encodes an ASCII string of at most 31 bytes as a felt.
func ShortStringToFelt(s string) (*felt.Felt, error) {
	if len(s) > 31 {
		return nil, fmt.Errorf("short string %q exceeds 31 bytes", s)
	}
	return new(felt.Felt).SetBytes([]byte(s)), nil
}

// EntityID computes the identity of an entity from its key values.
func EntityID(keys []*felt.Felt) *felt.Felt {
	return curve.PoseidonArray(keys...)
}
