package redis

import (
	"context"
	"testing"
)

func TestKey(t *testing.T) {
	cases := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{prefix: "zynd:", parts: []string{"settle", "abc"}, want: "zynd:settle:abc"},
		{prefix: "zynd", parts: []string{"jobs"}, want: "zynd:jobs"},
		{prefix: "", parts: []string{"a", "b"}, want: "a:b"},
	}
	for _, tc := range cases {
		if got := Key(tc.prefix, tc.parts...); got != tc.want {
			t.Fatalf("Key(%q, %v) = %q, want %q", tc.prefix, tc.parts, got, tc.want)
		}
	}
}

func TestConnectRequiresAddress(t *testing.T) {
	if _, err := Connect(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty address")
	}
}
