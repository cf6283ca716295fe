package web3

import (
	"os"
	"path/filepath"
	"testing"

	xerrors "ZyndAI-Connect/internal/errors"
)

func TestLookupBuiltinNetworks(t *testing.T) {
	networks := DefaultNetworks()
	want := map[string]int64{
		"base": 8453, "base-sepolia": 84532, "ethereum": 1, "sepolia": 11155111,
		"polygon": 137, "arbitrum": 42161, "arbitrum-sepolia": 421614, "optimism": 10,
	}
	for name, id := range want {
		got, err := networks.ChainID(name)
		if err != nil {
			t.Fatalf("chain id for %s: %v", name, err)
		}
		if got != id {
			t.Fatalf("%s: got %d want %d", name, got, id)
		}
	}
	if n, _ := networks.Lookup("Base-Sepolia"); n.Name != "base-sepolia" {
		t.Fatalf("lookup should be case insensitive, got %+v", n)
	}
	if _, err := networks.Lookup("solana"); xerrors.CodeOf(err) != CodeUnsupportedNetwork {
		t.Fatalf("expected unsupported network, got %v", err)
	}
}

func TestLoadNetworksOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "networks.yaml")
	content := []byte(`networks:
  base-sepolia:
    rpc_url: https://sepolia.base.org
  avalanche:
    chain_id: 43114
    usdc_address: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E"
    native_symbol: AVAX
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	networks, err := LoadNetworks(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	base, _ := networks.Lookup("base-sepolia")
	if base.RPCURL != "https://sepolia.base.org" || base.ChainID != 84532 {
		t.Fatalf("override not merged: %+v", base)
	}
	avax, err := networks.Lookup("avalanche")
	if err != nil || avax.NativeSymbol != "AVAX" || avax.NativeDecimals != 18 {
		t.Fatalf("new network not added: %+v %v", avax, err)
	}
	if rpc := networks.WithRPC(); len(rpc) != 1 || rpc[0].Name != "base-sepolia" {
		t.Fatalf("unexpected rpc networks %+v", rpc)
	}
}

func TestLoadNetworksRejectsInvalidEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "networks.yaml")
	_ = os.WriteFile(path, []byte("networks:\n  custom:\n    rpc_url: http://x\n"), 0o644)
	if _, err := LoadNetworks(path); err == nil {
		t.Fatal("expected error for network without chain id")
	}
}

func TestValidateAddress(t *testing.T) {
	if err := ValidateAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"); err != nil {
		t.Fatalf("valid address rejected: %v", err)
	}
	if err := ValidateAddress("not-an-address"); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}
