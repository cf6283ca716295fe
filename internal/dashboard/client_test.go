package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestClientEndpoints(t *testing.T) {
	var query map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "GET /api/status":
			_, _ = w.Write([]byte(`{"core":"online","risk":"offline"}`))
		case "GET /api/profile":
			_, _ = w.Write([]byte(`{"startup_name":"Acme","stage":""}`))
		case "POST /api/query":
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &query)
			_, _ = w.Write([]byte(`{"response":[{"text":"hi"},"plain"]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, server.Client())
	status, err := client.Status(context.Background())
	if err != nil || status["core"] != "online" || status["risk"] != "offline" {
		t.Fatalf("unexpected status %v %v", status, err)
	}
	profile, err := client.Profile(context.Background())
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	profile = profile.WithFallbacks()
	if profile.StartupName != "Acme" || profile.FounderName != "Founder" || profile.Stage != "Ideation" {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	resp, err := client.Query(context.Background(), QueryRequest{AgentID: "core", Content: "hello", SessionID: "session_abc"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if query["agent_id"] != "core" || query["content"] != "hello" || query["session_id"] != "session_abc" {
		t.Fatalf("unexpected query body: %v", query)
	}
	if file, ok := query["file"]; !ok || file != nil {
		t.Fatalf("expected explicit null file, got %v", query)
	}
	messages := resp.Messages()
	if len(messages) != 2 || messages[0] != "hi" || messages[1] != "plain" {
		t.Fatalf("unexpected messages: %v", messages)
	}
}

func TestClientQueryErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"agent offline"}`))
	}))
	defer server.Close()

	resp, err := NewClient(server.URL, nil).Query(context.Background(), QueryRequest{Content: "x"})
	if err != nil {
		t.Fatalf("expected error body to be returned, got %v", err)
	}
	if !resp.Failed() || resp.ErrorText() != "agent offline" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestLoadAttachment(t *testing.T) {
	dir := t.TempDir()
	textPath := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(textPath, []byte("pitch deck notes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	text, err := LoadAttachment(textPath)
	if err != nil {
		t.Fatalf("load text: %v", err)
	}
	if text.Name != "notes.txt" || text.Type != "text/plain" || text.Data != "pitch deck notes" {
		t.Fatalf("unexpected text attachment: %+v", text)
	}

	imgPath := filepath.Join(dir, "logo.png")
	if err := os.WriteFile(imgPath, []byte{0x89, 'P', 'N', 'G'}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	img, err := LoadAttachment(imgPath)
	if err != nil {
		t.Fatalf("load image: %v", err)
	}
	if img.Type != "image/png" || !strings.HasPrefix(img.Data, "data:image/png;base64,") {
		t.Fatalf("unexpected image attachment: %+v", img)
	}
}

func TestNewSessionID(t *testing.T) {
	id := NewSessionID()
	if !strings.HasPrefix(id, "session_") || len(id) != len("session_")+9 {
		t.Fatalf("unexpected session id %q", id)
	}
	if id == NewSessionID() {
		t.Fatal("session ids must differ")
	}
}
