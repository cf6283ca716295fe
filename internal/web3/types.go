package web3

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Confirmation summarises a mined transaction receipt.
type Confirmation struct {
	TxHash      common.Hash
	BlockNumber uint64
	Succeeded   bool
}

// ReceiptReader looks up transaction receipts on a single chain.
type ReceiptReader interface {
	Confirm(ctx context.Context, txHash common.Hash) (Confirmation, error)
	Close()
}
