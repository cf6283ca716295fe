package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xerrors "ZyndAI-Connect/internal/errors"
	"ZyndAI-Connect/internal/observability/alerting"
	"ZyndAI-Connect/internal/publisher"
)

type fakePublisher struct {
	processed atomic.Int32
	latency   time.Duration
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, req publisher.Request) ([]publisher.Record, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.processed.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	records := make([]publisher.Record, 0, len(req.Items))
	for i := range req.Items {
		records = append(records, publisher.Record{
			JSON:       publisher.Result{Success: true, AgentID: req.WorkflowID, Message: publisher.SuccessMessage},
			PairedItem: i,
		})
	}
	return records, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingDispatcher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestProcessorHandlesConcurrentJobs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	pub := &fakePublisher{latency: 5 * time.Millisecond}

	service := NewService(store, queue, 1)
	processor := NewProcessor(pub, store, queue, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 100
	for i := 0; i < total; i++ {
		if _, err := service.Submit(ctx, SubmitRequest{WorkflowID: fmt.Sprintf("wf-%d", i)}); err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for int(pub.processed.Load()) < total {
		select {
		case <-deadline:
			t.Fatalf("任务未能及时处理，已完成 %d", pub.processed.Load())
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestServiceWaitUntilCompleted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	service := NewService(store, queue, 1)
	processor := NewProcessor(&fakePublisher{}, store, queue, queue)
	go func() { _ = processor.Start(ctx) }()

	job, err := service.Submit(ctx, SubmitRequest{WorkflowID: "wf-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(job.Items) != 1 {
		t.Fatalf("expected a single implicit item, got %d", len(job.Items))
	}
	done, err := service.WaitUntilCompleted(ctx, job.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusSucceeded || len(done.Records) != 1 || done.Records[0].JSON.AgentID != "wf-1" {
		t.Fatalf("unexpected job %+v", done)
	}

	again, err := service.Submit(ctx, SubmitRequest{ID: job.ID, WorkflowID: "wf-1"})
	if err != nil || again.ID != job.ID || again.Status != StatusSucceeded {
		t.Fatalf("resubmitting the same id should return the stored job, got %+v %v", again, err)
	}
}

func TestProcessorTerminalFailureRaisesAlert(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	alerts := &recordingDispatcher{}
	failure := xerrors.New(xerrors.CodeUpstreamFailure, "registry down", xerrors.WithRetryable(true))
	pub := &fakePublisher{err: failure}

	service := NewService(store, queue, 2)
	processor := NewProcessor(pub, store, queue, queue, WithAlertDispatcher(alerts))
	go func() { _ = processor.Start(ctx) }()

	job, err := service.Submit(ctx, SubmitRequest{WorkflowID: "wf-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, err := service.WaitUntilCompleted(ctx, job.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusFailed || done.Attempts != 2 || done.ErrorCode != string(xerrors.CodeUpstreamFailure) {
		t.Fatalf("unexpected job %+v", done)
	}
	if pub.processed.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", pub.processed.Load())
	}
	if alerts.count() == 0 {
		t.Fatal("expected an alert for the terminal failure")
	}
}

func TestSubmitValidation(t *testing.T) {
	service := NewService(NewMemoryStore(), NewMemoryQueue(1), 1)
	if _, err := service.Submit(context.Background(), SubmitRequest{}); xerrors.CodeOf(err) != CodeJobValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

type recordingProducer struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingProducer) Publish(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, jobID)
	return nil
}

func (r *recordingProducer) Close() error { return nil }

func TestProcessorSkipsJobHeldByAnotherWorker(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Create(ctx, &Job{ID: "j1", WorkflowID: "wf", Status: StatusPending, MaxRetries: 2}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Claim(ctx, "j1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	alerts := &recordingDispatcher{}
	pub := &fakePublisher{}
	processor := NewProcessor(pub, store, nil, &recordingProducer{}, WithAlertDispatcher(alerts))
	if err := processor.handle(ctx, "j1"); err != nil {
		t.Fatalf("duplicate delivery must be acknowledged, got %v", err)
	}
	if pub.processed.Load() != 0 || alerts.count() != 0 {
		t.Fatalf("duplicate delivery must not execute or alert, processed=%d alerts=%d", pub.processed.Load(), alerts.count())
	}
}

func TestProcessorReclaimsExpiredLease(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	store := NewMemoryStore(WithLeaseTimeout(time.Minute))
	store.now = func() time.Time { return now }
	if err := store.Create(ctx, &Job{ID: "j1", WorkflowID: "wf", Status: StatusPending, MaxRetries: 2}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Claim(ctx, "j1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	now = now.Add(2 * time.Minute)

	pub := &fakePublisher{}
	processor := NewProcessor(pub, store, nil, &recordingProducer{})
	if err := processor.handle(ctx, "j1"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	job, _ := store.Get(ctx, "j1")
	if job.Status != StatusSucceeded || job.Attempts != 2 || pub.processed.Load() != 1 {
		t.Fatalf("expected stale job to be re-executed, got %+v processed=%d", job, pub.processed.Load())
	}
}

func TestProcessorExpiredLeaseWithoutRetriesFails(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	store := NewMemoryStore(WithLeaseTimeout(time.Minute))
	store.now = func() time.Time { return now }
	if err := store.Create(ctx, &Job{ID: "j1", WorkflowID: "wf", Status: StatusPending, MaxRetries: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Claim(ctx, "j1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	now = now.Add(2 * time.Minute)

	alerts := &recordingDispatcher{}
	pub := &fakePublisher{}
	processor := NewProcessor(pub, store, nil, &recordingProducer{}, WithAlertDispatcher(alerts))
	if err := processor.handle(ctx, "j1"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	job, _ := store.Get(ctx, "j1")
	if job.Status != StatusFailed || job.ErrorCode != string(CodeJobLeaseExpired) || pub.processed.Load() != 0 {
		t.Fatalf("expected lease expiry failure, got %+v", job)
	}
	if alerts.count() != 1 || alerts.events[0].Code != CodeJobLeaseExpired {
		t.Fatalf("expected a lease expiry alert, got %+v", alerts.events)
	}
	if _, err := store.Claim(ctx, "j1"); !errors.Is(err, ErrJobExhausted) {
		t.Fatalf("expired job must not be claimable again, got %v", err)
	}
}

func TestProcessorRecoverStaleRepublishesExpiredJobs(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	store := NewMemoryStore(WithLeaseTimeout(time.Minute))
	store.now = func() time.Time { return now }
	for _, id := range []string{"stale", "fresh", "pending"} {
		if err := store.Create(ctx, &Job{ID: id, WorkflowID: "wf", Status: StatusPending, MaxRetries: 2}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if _, err := store.Claim(ctx, "stale"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	now = now.Add(5 * time.Minute)
	if _, err := store.Claim(ctx, "fresh"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	producer := &recordingProducer{}
	processor := NewProcessor(&fakePublisher{}, store, nil, producer, WithStaleJobRecovery(time.Minute))
	processor.now = func() time.Time { return now }

	recovered, err := processor.RecoverStale(ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != 1 || len(producer.ids) != 1 || producer.ids[0] != "stale" {
		t.Fatalf("expected only the stale job to be republished, got %d %v", recovered, producer.ids)
	}
}
