package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ZyndAI-Connect/internal/auth"
	"ZyndAI-Connect/internal/storage/mysql"
	"ZyndAI-Connect/internal/task"
	"ZyndAI-Connect/internal/x402"
)

type stubPublications struct {
	records []mysql.PublicationRecord
	limit   int
}

func (s *stubPublications) ListLatest(_ context.Context, limit int) ([]mysql.PublicationRecord, error) {
	s.limit = limit
	return s.records, nil
}

func newTestServer(t *testing.T, opts ...Option) (http.Handler, *task.Service) {
	t.Helper()
	queue := task.NewMemoryQueue(16)
	t.Cleanup(func() { _ = queue.Close() })
	svc := task.NewService(task.NewMemoryStore(), queue, 1)
	base := []Option{WithJobs(svc), WithDefaultWorkflowID("wf-default")}
	return NewServer(":0", append(base, opts...)...).Handler(), svc
}

func TestCreateAndFetchJob(t *testing.T) {
	handler, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/publish-jobs", strings.NewReader(`{"items":[{"agentKeyword":"kw"}]}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status code: got %d want %d (%s)", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	var created task.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.WorkflowID != "wf-default" || created.Status != task.StatusPending || len(created.Items) != 1 {
		t.Fatalf("unexpected job: %+v", created)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/publish-jobs/"+created.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	var got task.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != created.ID || got.Items[0].AgentKeyword != "kw" {
		t.Fatalf("unexpected job: %+v", got)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/publish-jobs?status=pending&limit=5", nil))
	var list []task.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestJobErrors(t *testing.T) {
	handler, _ := newTestServer(t)

	t.Run("not found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/publish-jobs/missing", nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})

	t.Run("invalid body", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/publish-jobs", strings.NewReader("{")))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("invalid status filter", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/publish-jobs?status=bogus", nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("invalid method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/publish-jobs", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})
}

func TestAdminRoutesRequireKey(t *testing.T) {
	handler, _ := newTestServer(t, WithAuth(auth.NewService("admin-key")))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/publish-jobs", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/publish-jobs", nil)
	req.Header.Set(auth.APIKeyHeader, "admin-key")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health check must stay public, got %d", rec.Code)
	}
}

func TestCreateJobRecordsSubmitter(t *testing.T) {
	handler, svc := newTestServer(t, WithAuth(auth.NewService("admin-key")))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/publish-jobs", strings.NewReader(`{"submitted_by":"someone-else"}`))
	req.Header.Set(auth.APIKeyHeader, "admin-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status code: %d (%s)", rec.Code, rec.Body.String())
	}
	var created task.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasPrefix(created.SubmittedBy, "admin:") || len(created.SubmittedBy) != len("admin:")+8 {
		t.Fatalf("expected submitter fingerprint from the api key, got %q", created.SubmittedBy)
	}
	stored, err := svc.Get(context.Background(), created.ID)
	if err != nil || stored.SubmittedBy != created.SubmittedBy {
		t.Fatalf("submitter not persisted: %+v %v", stored, err)
	}

	open, _ := newTestServer(t)
	rec = httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/publish-jobs", strings.NewReader(`{}`)))
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.SubmittedBy != auth.Anonymous {
		t.Fatalf("expected anonymous submitter without an admin key, got %q", created.SubmittedBy)
	}
}

func TestListPublications(t *testing.T) {
	stub := &stubPublications{records: []mysql.PublicationRecord{{ID: 1, WorkflowID: "wf", AgentID: "agent-1"}}}
	handler, _ := newTestServer(t, WithPublications(stub))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/publications?limit=3", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var got []mysql.PublicationRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stub.limit != 3 || len(got) != 1 || got[0].AgentID != "agent-1" {
		t.Fatalf("unexpected publications %+v (limit %d)", got, stub.limit)
	}
}

func TestWebhookRoutes(t *testing.T) {
	trigger := x402.NewTrigger(x402.Options{HTTPMethod: "POST", Path: "paid", RequirePayment: false}, nil)
	handler, _ := newTestServer(t, WithTrigger(trigger))

	for _, path := range []string{"/webhook/paid", "/webhook-test/paid"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"a":1}`)))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: unexpected status %d", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook/paid", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected method mismatch to be rejected, got %d", rec.Code)
	}
}
