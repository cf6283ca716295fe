package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "ZyndAI-Connect/internal/errors"
	"ZyndAI-Connect/internal/observability/metrics"
	"ZyndAI-Connect/internal/publisher"
	"ZyndAI-Connect/pkg/logger"
)

// SubmitRequest 描述一次发布任务的提交参数。ID 非空时用于幂等提交。
// SubmittedBy 由接口层根据鉴权结果填写，不从请求体读取。
type SubmitRequest struct {
	ID             string           `json:"id,omitempty"`
	WorkflowID     string           `json:"workflow_id"`
	Items          []publisher.Item `json:"items,omitempty"`
	ContinueOnFail bool             `json:"continue_on_fail"`
	SubmittedBy    string           `json:"-"`
}

// Service 负责任务的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造任务服务。maxRetries 小于 1 时只尝试一次。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// Submit 创建一个新的发布任务并推送到队列。没有条目时按单个空条目处理。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if strings.TrimSpace(req.WorkflowID) == "" {
		return nil, xerrors.New(CodeJobValidation, "工作流 ID 不能为空")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}

	jobID := strings.TrimSpace(req.ID)
	if jobID != "" {
		job, err := s.store.Get(ctx, jobID)
		if err == nil {
			return job, nil
		}
		if !stdErrors.Is(err, ErrJobNotFound) {
			return nil, err
		}
	} else {
		jobID = uuid.NewString()
	}

	items := req.Items
	if len(items) == 0 {
		items = []publisher.Item{{}}
	}
	job := &Job{
		ID:             jobID,
		WorkflowID:     strings.TrimSpace(req.WorkflowID),
		Items:          items,
		ContinueOnFail: req.ContinueOnFail,
		SubmittedBy:    strings.TrimSpace(req.SubmittedBy),
		Status:         StatusPending,
		MaxRetries:     s.maxRetries,
	}
	if err := s.store.Create(ctx, job); err != nil {
		if stdErrors.Is(err, ErrJobConflict) {
			if existing, getErr := s.store.Get(ctx, jobID); getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, jobID); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("job_id", jobID))
		wrapped := xerrors.Wrap(CodeJobPublish, err, "发布任务到队列失败")
		_ = s.store.MarkFailed(ctx, jobID, CodeJobPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	metrics.ObserveJob(string(StatusPending))
	logger.Audit().Info("发布任务入队成功",
		slog.String("job_id", jobID),
		slog.String("workflow_id", job.WorkflowID),
		slog.String("submitted_by", job.SubmittedBy),
		slog.Int("items", len(job.Items)),
		slog.Int("max_retries", job.MaxRetries),
	)
	return job, nil
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats 返回符合过滤条件的任务统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (JobStats, error) {
	if s.store == nil {
		return JobStats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// Close 释放资源。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}

// WaitUntilCompleted 轮询任务状态直到进入终态或 ctx 结束。
// 失败但仍可重试的任务会继续等待。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status == StatusSucceeded || (job.Status == StatusFailed && job.Attempts >= job.MaxRetries) {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
