package n8n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "ZyndAI-Connect/internal/errors"
)

const sampleWorkflow = `{"id":"wf-1","name":"Lead bot","nodes":[
  {"name":"Set","type":"n8n-nodes-base.set"},
  {"name":"Webhook","type":"n8n-nodes-base.webhook","webhookId":"hook-123"},
  {"name":"Webhook2","type":"n8n-nodes-base.webhook","webhookId":"hook-456"}
]}`

func TestGetWorkflow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v1/workflows/wf-1" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-N8N-API-KEY") != "n8n-key" {
			t.Fatalf("missing n8n api key")
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Fatalf("missing accept header")
		}
		_, _ = w.Write([]byte(sampleWorkflow))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "n8n-key", srv.Client())
	wf, err := client.GetWorkflow(context.Background(), "wf-1")
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if string(wf.Raw) != sampleWorkflow {
		t.Fatal("raw workflow bytes changed")
	}
	if wf.ID() != "wf-1" || wf.Name() != "Lead bot" {
		t.Fatalf("unexpected id/name %q %q", wf.ID(), wf.Name())
	}
	if got := client.WebhookURL("hook-123"); got != srv.URL+"/webhook/hook-123" {
		t.Fatalf("unexpected webhook url %q", got)
	}
}

func TestGetWorkflowErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "k", srv.Client())
	_, err := client.GetWorkflow(context.Background(), "missing")
	if xerrors.CodeOf(err) != CodeRequestFailed {
		t.Fatalf("unexpected code for %v", err)
	}
	if xerrors.RetryableError(err) {
		t.Fatal("404 should not be retryable")
	}

	if _, err := client.GetWorkflow(context.Background(), " "); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestFindWebhookID(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{name: "first webhook wins", doc: sampleWorkflow, want: "hook-123"},
		{name: "no webhook node", doc: `{"nodes":[{"type":"n8n-nodes-base.set"}]}`, want: ""},
		{name: "webhook without id", doc: `{"nodes":[{"type":"n8n-nodes-base.webhook"}]}`, want: ""},
		{name: "no nodes", doc: `{"name":"empty"}`, want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wf, err := ParseWorkflow([]byte(tc.doc))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			got, err := wf.FindWebhookID()
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}
