package entities

import (
	"fmt"

	"github.com/NethermindEth/juno/core/felt"

	"world-indexer.backend/pkg/utils"
)

// WorldEvent is one raw event emitted by the world contract.
type WorldEvent struct {
	ID              string
	BlockNumber     uint64
	BlockTimestamp  uint64
	TransactionHash *felt.Felt
	Keys            []*felt.Felt
	Data            []*felt.Felt
}

// EventID builds the globally ordered event identifier. All three fields are
// fixed-width hex so lexicographic order matches chain order within a block.
func EventID(blockNumber uint64, txHash *felt.Felt, eventIdx uint32) string {
	return fmt.Sprintf("0x%016x:%s:0x%04x", blockNumber, utils.FeltToHex(txHash), eventIdx)
}

// ContractType tags an indexed contract.
type ContractType string

const ContractTypeWorld ContractType = "WORLD"

// ContractCursor is the per-contract indexing head, committed atomically
// with each range.
type ContractCursor struct {
	ContractAddress            string
	ContractType               ContractType
	Head                       uint64
	LastBlockTimestamp         uint64
	LastPendingBlockTx         string
	LastPendingBlockContractTx string
	TxnsCount                  uint64
}

// Transaction is an indexed world transaction.
type Transaction struct {
	ID              string
	TransactionHash string
	SenderAddress   string
	Calldata        string
	MaxFee          string
	Signature       string
	Nonce           string
	TransactionType string
}
