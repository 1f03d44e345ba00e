package entities

import (
	"fmt"
	"math/big"

	"github.com/NethermindEth/juno/core/felt"
	snutils "github.com/NethermindEth/starknet.go/utils"

	domainerrors "world-indexer.backend/internal/domain/errors"
)

// FeltReader is a cursor over a serialized felt stream.
type FeltReader struct {
	data []*felt.Felt
	pos  int
}

func NewFeltReader(data []*felt.Felt) *FeltReader {
	return &FeltReader{data: data}
}

// Next consumes one felt.
func (r *FeltReader) Next() (*felt.Felt, error) {
	if r.pos >= len(r.data) {
		return nil, fmt.Errorf("%w: truncated felt stream at offset %d", domainerrors.ErrDecodeEvent, r.pos)
	}
	f := r.data[r.pos]
	r.pos++
	return f, nil
}

// NextN consumes n felts.
func (r *FeltReader) NextN(n int) ([]*felt.Felt, error) {
	if n < 0 || n > len(r.data)-r.pos {
		return nil, fmt.Errorf("%w: need %d felts at offset %d, have %d", domainerrors.ErrDecodeEvent, n, r.pos, len(r.data)-r.pos)
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

// NextUint consumes one felt expected to fit a uint64.
func (r *FeltReader) NextUint() (uint64, error) {
	f, err := r.Next()
	if err != nil {
		return 0, err
	}
	v := f.BigInt(new(big.Int))
	if !v.IsUint64() {
		return 0, fmt.Errorf("%w: length felt out of range", domainerrors.ErrDecodeEvent)
	}
	return v.Uint64(), nil
}

// ReadByteArray consumes a Cairo-serialized ByteArray: the full-word count,
// that many 31-byte packed words, the pending word and its byte length.
func (r *FeltReader) ReadByteArray() (string, error) {
	start := r.pos
	n, err := r.NextUint()
	if err != nil {
		return "", err
	}
	if n > uint64(r.Remaining()) {
		return "", fmt.Errorf("%w: byte array claims %d words, have %d", domainerrors.ErrDecodeEvent, n, r.Remaining())
	}
	if _, err := r.NextN(int(n) + 2); err != nil {
		return "", err
	}
	s, err := snutils.ByteArrFeltToString(r.data[start:r.pos])
	if err != nil {
		return "", fmt.Errorf("%w: %v", domainerrors.ErrDecodeEvent, err)
	}
	return s, nil
}

// Remaining reports how many felts are left unread.
func (r *FeltReader) Remaining() int {
	return len(r.data) - r.pos
}
