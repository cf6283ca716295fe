package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "ZyndAI-Connect/internal/errors"
	"ZyndAI-Connect/internal/observability/alerting"
	"ZyndAI-Connect/internal/observability/metrics"
	"ZyndAI-Connect/internal/publisher"
	"ZyndAI-Connect/pkg/logger"
)

// Executor 定义了处理器所需的发布能力。
type Executor interface {
	Publish(ctx context.Context, req publisher.Request) ([]publisher.Record, error)
}

// Processor 负责从队列消费任务并交给发布器执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	lease       time.Duration
	now         func() time.Time
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithStaleJobRecovery 开启运行租约回收：周期性地将超过 lease 仍处于运行中的任务重新投递，
// 由 Store.Claim 决定重新执行还是标记为租约过期。lease 应与 Store 的租约一致。
func WithStaleJobRecovery(lease time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.lease = lease
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		logger:      logger.Named("task"),
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动任务处理循环，阻塞到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	if p.lease > 0 && p.producer != nil {
		go p.recoverLoop(ctx)
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) recoverLoop(ctx context.Context) {
	interval := p.lease / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := p.RecoverStale(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("回收超时任务失败", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RecoverStale 重新投递租约已过期的运行中任务，返回投递数量。
func (p *Processor) RecoverStale(ctx context.Context) (int, error) {
	if p.store == nil || p.producer == nil || p.lease <= 0 {
		return 0, nil
	}
	cutoff := p.now().Add(-p.lease)
	jobs, err := p.store.List(ctx, buildListOptions([]ListOption{
		WithStatuses(StatusRunning),
		WithUpdatedUntil(cutoff),
		WithSortOrder(SortByUpdatedAsc),
		WithLimit(100),
	}))
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, job := range jobs {
		if err := p.producer.Publish(ctx, job.ID); err != nil {
			return recovered, xerrors.Wrap(CodeJobPublish, err, fmt.Sprintf("任务 %s 重投失败", job.ID))
		}
		recovered++
		p.logger.Warn("运行租约过期，任务已重新投递",
			slog.String("job_id", job.ID),
			slog.Int("attempts", job.Attempts),
			slog.Int64("updated_at", job.UpdatedAt),
		)
	}
	return recovered, nil
}

func (p *Processor) handle(ctx context.Context, jobID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	job, err := p.store.Claim(ctx, jobID)
	if err != nil {
		if job == nil {
			job = &Job{ID: jobID}
		}
		switch {
		case stdErrors.Is(err, ErrJobNotFound), stdErrors.Is(err, ErrJobCompleted), stdErrors.Is(err, ErrJobExhausted):
			p.logger.Debug("跳过任务", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			return nil
		case stdErrors.Is(err, ErrJobConflict):
			// 重复投递的消息，任务仍由其他 worker 持有。
			p.logger.Debug("任务正在执行，忽略重复消息", slog.String("job_id", jobID))
			return nil
		case stdErrors.Is(err, ErrJobLeaseExpired):
			metrics.ObserveJob(string(StatusFailed))
			logger.Audit().Warn("发布任务租约过期",
				slog.String("job_id", jobID),
				slog.Int("attempts", job.Attempts),
				slog.Int("max_retries", job.MaxRetries),
			)
			p.emitAlert(ctx, job, CodeJobLeaseExpired, nil, "lease")
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("job_id", jobID))
		p.emitAlert(ctx, job, CodeJobProcessing, err, "claim")
		return err
	}
	metrics.ObserveJob(string(StatusRunning))

	records, execErr := p.executor.Publish(ctx, publisher.Request{
		JobID:          job.ID,
		WorkflowID:     job.WorkflowID,
		Items:          job.Items,
		ContinueOnFail: job.ContinueOnFail,
	})
	if execErr != nil {
		return p.handleExecutionFailure(ctx, job, execErr)
	}

	if err := p.store.MarkSucceeded(ctx, job.ID, records); err != nil {
		p.logger.Error("标记任务成功状态失败", slog.Any("error", err), slog.String("job_id", job.ID))
		return err
	}
	metrics.ObserveJob(string(StatusSucceeded))
	logger.Audit().Info("发布任务执行成功",
		slog.String("job_id", job.ID),
		slog.String("workflow_id", job.WorkflowID),
		slog.Int("records", len(records)),
	)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, job *Job, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeJobProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := job.Attempts >= job.MaxRetries || !retryable

	if storeErr := p.store.MarkFailed(ctx, job.ID, code, execErr.Error(), terminal); storeErr != nil {
		p.logger.Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("job_id", job.ID))
		return storeErr
	}
	metrics.ObserveJob(string(StatusFailed))
	logger.Audit().Warn("发布任务执行失败",
		slog.String("job_id", job.ID),
		slog.String("workflow_id", job.WorkflowID),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_retries", job.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
	}
	if terminal || xerrors.ShouldAlert(execErr) {
		p.emitAlert(ctx, job, code, execErr, stage)
	}

	if !terminal {
		if pubErr := p.producer.Publish(ctx, job.ID); pubErr != nil {
			return xerrors.Wrap(CodeJobPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", job.ID))
		}
		p.logger.Debug("任务已重新排队", slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts))
	}
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, code xerrors.Code, cause error, stage string) {
	if p.alerter == nil || job == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{"stage": stage}
	if job.WorkflowID != "" {
		metadata["workflow_id"] = job.WorkflowID
	}
	if cause != nil {
		message = cause.Error()
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		JobID:      job.ID,
		Attempts:   job.Attempts,
		MaxRetries: job.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("job_id", job.ID),
			slog.String("stage", stage),
		)
	}
}
