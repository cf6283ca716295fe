package x402

import (
	"testing"

	"ZyndAI-Connect/internal/web3"
)

func TestParsePrice(t *testing.T) {
	network, err := web3.DefaultNetworks().Lookup("base")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	cases := []struct {
		price string
		want  string
		usd   bool
	}{
		{price: "$0.01", want: "10000", usd: true},
		{price: "$ 1.5", want: "1500000", usd: true},
		{price: "0.001", want: "1000000000000000"},
	}
	for _, tc := range cases {
		amount, err := ParsePrice(tc.price, network)
		if err != nil {
			t.Fatalf("ParsePrice(%q): %v", tc.price, err)
		}
		if amount.Value.String() != tc.want || amount.USD != tc.usd {
			t.Fatalf("ParsePrice(%q) = %s usd=%v, want %s usd=%v", tc.price, amount.Value, amount.USD, tc.want, tc.usd)
		}
		if tc.usd && amount.Asset != network.USDC {
			t.Fatalf("expected USDC asset, got %s", amount.Asset.Hex())
		}
		if !tc.usd && amount.Asset != NativeTokenAddress {
			t.Fatalf("expected native asset, got %s", amount.Asset.Hex())
		}
	}

	for _, bad := range []string{"", "abc", "$0", "-1", "$0.0000001"} {
		if _, err := ParsePrice(bad, network); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
