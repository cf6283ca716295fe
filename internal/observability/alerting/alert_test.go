package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "ZyndAI-Connect/internal/errors"
)

type failingNotifier struct{ calls int }

func (f *failingNotifier) Channel() Channel { return "failing" }

func (f *failingNotifier) Notify(context.Context, Event) error {
	f.calls++
	return errors.New("down")
}

func TestFanoutCollectsErrors(t *testing.T) {
	failing := &failingNotifier{}
	d := NewFanout(LogNotifier{}, failing, nil)

	err := d.Notify(context.Background(), Event{Code: xerrors.CodeUnknown, Severity: xerrors.SeverityCritical})
	if err == nil || !strings.Contains(err.Error(), "channel failing") {
		t.Fatalf("expected joined channel error, got %v", err)
	}
	if failing.calls != 1 {
		t.Fatalf("notifier called %d times", failing.calls)
	}

	var nilDispatcher *FanoutDispatcher
	if err := nilDispatcher.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("nil dispatcher should be a no-op: %v", err)
	}
}

func TestWebhookNotifierPostsEvent(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event Event
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			t.Errorf("decode: %v", err)
		}
		received <- event
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, srv.Client())
	err := n.Notify(context.Background(), Event{
		Code:       "JOB_PROCESSING_FAILED",
		JobID:      "job-1",
		OccurredAt: time.Unix(100, 0).UTC(),
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	got := <-received
	if got.JobID != "job-1" || got.Code != "JOB_PROCESSING_FAILED" {
		t.Fatalf("unexpected event %+v", got)
	}

	if NewWebhookNotifier("", nil) != nil {
		t.Fatal("empty url should disable notifier")
	}
}
