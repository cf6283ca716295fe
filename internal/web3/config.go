package web3

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// NetworkDefinitions models the structure of configs/networks.yaml.
type NetworkDefinitions struct {
	Networks map[string]NetworkDefinition `yaml:"networks"`
}

// NetworkDefinition overrides or adds a single network. Zero values keep the
// built-in setting.
type NetworkDefinition struct {
	ChainID        int64  `yaml:"chain_id"`
	USDCAddress    string `yaml:"usdc_address"`
	NativeSymbol   string `yaml:"native_symbol"`
	NativeDecimals int    `yaml:"native_decimals"`
	RPCURL         string `yaml:"rpc_url"`
	Description    string `yaml:"description"`
}

// LoadNetworks reads the optional YAML override file and merges it into the
// built-in table. An empty path returns the built-in table.
func LoadNetworks(path string) (*Networks, error) {
	networks := DefaultNetworks()
	if strings.TrimSpace(path) == "" {
		return networks, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取网络配置失败: %w", err)
	}
	var defs NetworkDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return nil, fmt.Errorf("解析网络配置失败: %w", err)
	}
	if err := networks.merge(defs); err != nil {
		return nil, err
	}
	return networks, nil
}

func (n *Networks) merge(defs NetworkDefinitions) error {
	for rawName, def := range defs.Networks {
		name := strings.ToLower(strings.TrimSpace(rawName))
		if name == "" {
			continue
		}
		network, exists := n.byName[name]
		if !exists {
			if def.ChainID == 0 {
				return fmt.Errorf("网络 %s 缺少 chain_id", name)
			}
			network = Network{Name: name, NativeSymbol: "ETH", NativeDecimals: 18}
		}
		if def.ChainID != 0 {
			network.ChainID = def.ChainID
		}
		if def.USDCAddress != "" {
			if !common.IsHexAddress(def.USDCAddress) {
				return fmt.Errorf("网络 %s 的 usdc_address 无效: %s", name, def.USDCAddress)
			}
			network.USDC = common.HexToAddress(def.USDCAddress)
		}
		if def.NativeSymbol != "" {
			network.NativeSymbol = def.NativeSymbol
		}
		if def.NativeDecimals > 0 {
			network.NativeDecimals = def.NativeDecimals
		}
		if def.RPCURL != "" {
			network.RPCURL = strings.TrimSpace(def.RPCURL)
		}
		if def.Description != "" {
			network.Description = def.Description
		}
		n.byName[name] = network
	}
	return nil
}
