package x402

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "ZyndAI-Connect/internal/errors"
	"ZyndAI-Connect/internal/web3"
)

// NativeTokenAddress 是原生代币在支付要求中使用的占位地址。
var NativeTokenAddress = common.HexToAddress("0xEeeeeEeeeEeEeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// Amount 是换算为最小单位后的价格。
type Amount struct {
	Value    *big.Int
	Asset    common.Address
	Decimals int
	USD      bool
}

// ParsePrice 解析节点价格："$0.01" 按 USDC 计价，其余按网络原生代币计价。
func ParsePrice(price string, network web3.Network) (Amount, error) {
	raw := strings.TrimSpace(price)
	amount := Amount{Asset: NativeTokenAddress, Decimals: network.NativeDecimals}
	if strings.HasPrefix(raw, "$") {
		raw = strings.TrimSpace(strings.TrimPrefix(raw, "$"))
		amount.Asset = network.USDC
		amount.Decimals = web3.USDCDecimals
		amount.USD = true
	}
	if amount.Decimals <= 0 {
		amount.Decimals = 18
	}

	value, ok := new(big.Rat).SetString(raw)
	if !ok {
		return Amount{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("invalid price: %q", price))
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(amount.Decimals)), nil)
	value.Mul(value, new(big.Rat).SetInt(scale))
	atomic := new(big.Int).Quo(value.Num(), value.Denom())
	if atomic.Sign() <= 0 {
		return Amount{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("price must be positive: %q", price))
	}
	amount.Value = atomic
	return amount, nil
}
