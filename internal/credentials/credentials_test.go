package credentials

import (
	"strings"
	"testing"

	xerrors "ZyndAI-Connect/internal/errors"
)

func TestDescriptorFields(t *testing.T) {
	got := Descriptor()
	if len(got) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(got))
	}
	if got[0].Name != "apiUrl" || got[0].Default != "https://registry.zynd.ai" || got[0].Required {
		t.Fatalf("unexpected api url field: %+v", got[0])
	}
	if !got[1].Required || !got[2].Required {
		t.Fatal("api keys must be required")
	}

	got[0].Default = "mutated"
	if Descriptor()[0].Default != DefaultAPIURL {
		t.Fatal("descriptor must return a copy")
	}
}

func TestNormalize(t *testing.T) {
	c := ZyndAIAPI{APIURL: " https://registry.example/ ", APIKey: " k "}.Normalize()
	if c.APIURL != "https://registry.example" {
		t.Fatalf("unexpected url %q", c.APIURL)
	}
	if c.APIKey != "k" {
		t.Fatalf("unexpected key %q", c.APIKey)
	}
	if (ZyndAIAPI{}).Normalize().APIURL != DefaultAPIURL {
		t.Fatal("default api url not applied")
	}
}

func TestValidate(t *testing.T) {
	err := ZyndAIAPI{}.Normalize().Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("unexpected code %s", xerrors.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "apiKey") || !strings.Contains(err.Error(), "n8nApiKey") {
		t.Fatalf("missing field names in %q", err)
	}

	ok := ZyndAIAPI{APIKey: "a", N8NAPIKey: "b"}.Normalize()
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
