package utils

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/NethermindEth/juno/core/felt"
)

// FeltToHex returns the canonical lowercase 0x-prefixed 64-digit form used
// everywhere in storage.
func FeltToHex(f *felt.Felt) string {
	return fmt.Sprintf("0x%064x", f.BigInt(new(big.Int)))
}

// HexToFelt parses a 0x-prefixed hex string into a field element.
func HexToFelt(s string) (*felt.Felt, error) {
	return new(felt.Felt).SetString(s)
}

// BigToPaddedHex formats a big integer as 0x-prefixed hex padded to the given
// number of hex digits.
func BigToPaddedHex(v *big.Int, digits int) string {
	return fmt.Sprintf("0x%0*x", digits, v)
}

// JoinKeys encodes a key list as the "k1/k2/.../" storage form.
func JoinKeys(keys []*felt.Felt) string {
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(FeltToHex(k))
		b.WriteString("/")
	}
	return b.String()
}

// SplitKeys decodes the "k1/k2/.../" storage form back into field elements.
func SplitKeys(s string) ([]*felt.Felt, error) {
	parts := strings.Split(strings.TrimSuffix(s, "/"), "/")
	var keys []*felt.Felt
	for _, p := range parts {
		if p == "" {
			continue
		}
		f, err := HexToFelt(p)
		if err != nil {
			return nil, err
		}
		keys = append(keys, f)
	}
	return keys, nil
}
