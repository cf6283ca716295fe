package dashboard

import (
	"strings"
	"testing"
)

func TestNormalizeMessage(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{name: "plain", in: "hello", want: "hello"},
		{name: "text parts", in: `[{"type":"text","text":"one"},{"type":"image","url":"x"},{"type":"text","text":"two"}]`, want: "one\ntwo"},
		{name: "invalid json kept", in: `[{"type":"text", broken`, want: `[{"type":"text", broken`},
		{name: "object", in: map[string]any{"a": 1}, want: `{"a":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeMessage(tc.in); got != tc.want {
				t.Fatalf("NormalizeMessage() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNormalizeMessageStripsLargeDataURLs(t *testing.T) {
	blob := "data:image/png;base64," + strings.Repeat("A", 6000)
	got := NormalizeMessage("see " + blob + " end")
	if got != "see "+StrippedPlaceholder+" end" {
		t.Fatalf("unexpected stripped message: %.80q", got)
	}

	short := "data:image/png;base64," + strings.Repeat("A", 200)
	if got := NormalizeMessage(short); got != short {
		t.Fatal("short messages must be kept verbatim")
	}
}

func TestRenderBold(t *testing.T) {
	bold := func(a ...interface{}) string { return "<b>" + a[0].(string) + "</b>" }
	got := RenderBold("a **b** c **d**", bold)
	if got != "a <b>b</b> c <b>d</b>" {
		t.Fatalf("unexpected render: %q", got)
	}
}
