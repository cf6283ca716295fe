package x402

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"ZyndAI-Connect/internal/web3"
)

// ReaderSource 按网络名称返回链上回执读取器。
type ReaderSource interface {
	Reader(network string) (web3.ReceiptReader, bool)
}

// Confirmer 在结算成功后到链上确认交易。
type Confirmer struct {
	readers ReaderSource
}

// NewConfirmer 创建链上确认器。
func NewConfirmer(readers ReaderSource) *Confirmer {
	return &Confirmer{readers: readers}
}

// Confirm 查询交易回执；未配置该网络的 RPC 时返回 ok=false。
func (c *Confirmer) Confirm(ctx context.Context, network, txHash string) (web3.Confirmation, bool, error) {
	if c == nil || c.readers == nil || txHash == "" {
		return web3.Confirmation{}, false, nil
	}
	reader, ok := c.readers.Reader(network)
	if !ok {
		return web3.Confirmation{}, false, nil
	}
	if len(common.FromHex(txHash)) != common.HashLength {
		return web3.Confirmation{}, false, fmt.Errorf("无效的交易哈希: %s", txHash)
	}
	confirmation, err := reader.Confirm(ctx, common.HexToHash(txHash))
	if err != nil {
		return web3.Confirmation{}, false, err
	}
	return confirmation, true, nil
}
