package web3

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "ZyndAI-Connect/internal/errors"
)

// CodeUnsupportedNetwork 表示网络名称不在网络表中。
const CodeUnsupportedNetwork xerrors.Code = "UNSUPPORTED_NETWORK"

func init() {
	xerrors.Register(CodeUnsupportedNetwork, xerrors.Attributes{
		Message:    "unsupported network",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: http.StatusBadRequest,
	})
}

// Network describes an EVM network that can receive x402 payments.
type Network struct {
	Name           string
	ChainID        int64
	USDC           common.Address
	NativeSymbol   string
	NativeDecimals int
	RPCURL         string
	Description    string
}

// DefaultNetwork 是未指定网络时使用的测试网。
const DefaultNetwork = "base-sepolia"

// USDCDecimals 是 USDC 的精度。
const USDCDecimals = 6

func builtinNetworks() map[string]Network {
	return map[string]Network{
		"base": {
			Name: "base", ChainID: 8453, NativeSymbol: "ETH", NativeDecimals: 18,
			USDC:        common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
			Description: "Base Mainnet",
		},
		"base-sepolia": {
			Name: "base-sepolia", ChainID: 84532, NativeSymbol: "ETH", NativeDecimals: 18,
			USDC:        common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
			Description: "Base Sepolia (Testnet)",
		},
		"ethereum": {
			Name: "ethereum", ChainID: 1, NativeSymbol: "ETH", NativeDecimals: 18,
			USDC:        common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
			Description: "Ethereum Mainnet",
		},
		"sepolia": {
			Name: "sepolia", ChainID: 11155111, NativeSymbol: "ETH", NativeDecimals: 18,
			USDC:        common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"),
			Description: "Sepolia (Testnet)",
		},
		"polygon": {
			Name: "polygon", ChainID: 137, NativeSymbol: "POL", NativeDecimals: 18,
			USDC:        common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"),
			Description: "Polygon",
		},
		"arbitrum": {
			Name: "arbitrum", ChainID: 42161, NativeSymbol: "ETH", NativeDecimals: 18,
			USDC:        common.HexToAddress("0xaf88d065e77c8cC2239327C5EDb3A432268e5831"),
			Description: "Arbitrum One",
		},
		"arbitrum-sepolia": {
			Name: "arbitrum-sepolia", ChainID: 421614, NativeSymbol: "ETH", NativeDecimals: 18,
			USDC:        common.HexToAddress("0x75faf114eafb1BDbe2F0316DF893fd58CE46AA4d"),
			Description: "Arbitrum Sepolia (Testnet)",
		},
		"optimism": {
			Name: "optimism", ChainID: 10, NativeSymbol: "ETH", NativeDecimals: 18,
			USDC:        common.HexToAddress("0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85"),
			Description: "Optimism",
		},
	}
}

// Networks is a lookup table of supported networks keyed by lower-case name.
type Networks struct {
	byName map[string]Network
}

// DefaultNetworks returns the built-in network table.
func DefaultNetworks() *Networks {
	return &Networks{byName: builtinNetworks()}
}

// Lookup 返回指定网络，名称大小写不敏感。
func (n *Networks) Lookup(name string) (Network, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if n != nil {
		if network, ok := n.byName[key]; ok {
			return network, nil
		}
	}
	return Network{}, xerrors.New(CodeUnsupportedNetwork, fmt.Sprintf("Unsupported network: %s", name),
		xerrors.WithMetadata("network", name))
}

// ChainID 返回网络的链 ID。
func (n *Networks) ChainID(name string) (int64, error) {
	network, err := n.Lookup(name)
	if err != nil {
		return 0, err
	}
	return network.ChainID, nil
}

// Names 返回排序后的网络名称。
func (n *Networks) Names() []string {
	if n == nil {
		return nil
	}
	names := make([]string, 0, len(n.byName))
	for name := range n.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithRPC 返回配置了 RPC 地址的网络。
func (n *Networks) WithRPC() []Network {
	if n == nil {
		return nil
	}
	var out []Network
	for _, name := range n.Names() {
		if network := n.byName[name]; network.RPCURL != "" {
			out = append(out, network)
		}
	}
	return out
}

// ValidateAddress 校验 EVM 地址格式。
func ValidateAddress(address string) error {
	if !common.IsHexAddress(strings.TrimSpace(address)) {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("invalid wallet address: %q", address))
	}
	return nil
}
