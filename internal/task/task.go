package task

import (
	stdErrors "errors"
	"net/http"

	xerrors "ZyndAI-Connect/internal/errors"
	"ZyndAI-Connect/internal/publisher"
)

// Status 表示发布任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job 描述一次排队执行的发布批次。
type Job struct {
	ID             string             `json:"id"`
	WorkflowID     string             `json:"workflow_id"`
	Items          []publisher.Item   `json:"items"`
	ContinueOnFail bool               `json:"continue_on_fail"`
	SubmittedBy    string             `json:"submitted_by,omitempty"`
	Status         Status             `json:"status"`
	Attempts       int                `json:"attempts"`
	MaxRetries     int                `json:"max_retries"`
	LastError      string             `json:"last_error,omitempty"`
	ErrorCode      string             `json:"error_code,omitempty"`
	Records        []publisher.Record `json:"records,omitempty"`
	CreatedAt      int64              `json:"created_at"`
	UpdatedAt      int64              `json:"updated_at"`
}

var (
	// ErrJobNotFound 表示指定的任务不存在。
	ErrJobNotFound = xerrors.New(CodeJobNotFound, "job not found")
	// ErrJobConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrJobConflict = xerrors.New(CodeJobConflict, "job conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrJobCompleted 表示任务已经成功完成。
	ErrJobCompleted = xerrors.New(CodeJobCompleted, "job already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrJobExhausted 表示任务的重试次数已经耗尽。
	ErrJobExhausted = xerrors.New(CodeJobExhausted, "job retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
	// ErrJobLeaseExpired 表示运行中的任务租约过期且没有剩余重试次数，已被标记为失败。
	ErrJobLeaseExpired = xerrors.New(CodeJobLeaseExpired, "job lease expired", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeJobNotFound     xerrors.Code = "JOB_NOT_FOUND"
	CodeJobConflict     xerrors.Code = "JOB_CONFLICT"
	CodeJobCompleted    xerrors.Code = "JOB_COMPLETED"
	CodeJobExhausted    xerrors.Code = "JOB_RETRIES_EXHAUSTED"
	CodeJobValidation   xerrors.Code = "JOB_VALIDATION_FAILED"
	CodeJobPublish      xerrors.Code = "JOB_ENQUEUE_FAILED"
	CodeJobProcessing   xerrors.Code = "JOB_PROCESSING_FAILED"
	CodeJobLeaseExpired xerrors.Code = "JOB_LEASE_EXPIRED"
)

func init() {
	xerrors.Register(CodeJobNotFound, xerrors.Attributes{
		Message:    "job not found",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusNotFound,
	})
	xerrors.Register(CodeJobConflict, xerrors.Attributes{
		Message:    "job conflict",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: http.StatusConflict,
	})
	xerrors.Register(CodeJobCompleted, xerrors.Attributes{
		Message:    "job already completed",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusConflict,
	})
	xerrors.Register(CodeJobExhausted, xerrors.Attributes{
		Message:  "job retries exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeJobLeaseExpired, xerrors.Attributes{
		Message:  "job lease expired",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeJobValidation, xerrors.Attributes{
		Message:    "job validation failed",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusBadRequest,
	})
	xerrors.Register(CodeJobPublish, xerrors.Attributes{
		Message:    "failed to enqueue job",
		Severity:   xerrors.SeverityCritical,
		Retryable:  true,
		Alert:      true,
		HTTPStatus: http.StatusServiceUnavailable,
	})
	xerrors.Register(CodeJobProcessing, xerrors.Attributes{
		Message:   "job execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// IsJobError 判断错误是否为指定的任务错误。
func IsJobError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	switch {
	case stdErrors.Is(err, ErrJobNotFound):
		return target == CodeJobNotFound
	case stdErrors.Is(err, ErrJobConflict):
		return target == CodeJobConflict
	case stdErrors.Is(err, ErrJobCompleted):
		return target == CodeJobCompleted
	case stdErrors.Is(err, ErrJobExhausted):
		return target == CodeJobExhausted
	case stdErrors.Is(err, ErrJobLeaseExpired):
		return target == CodeJobLeaseExpired
	}
	return false
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

func cloneJob(job *Job) *Job {
	clone := *job
	if job.Items != nil {
		clone.Items = make([]publisher.Item, len(job.Items))
		for i, item := range job.Items {
			clone.Items[i] = publisher.Item{
				AgentKeyword: item.AgentKeyword,
				Capabilities: append([]string(nil), item.Capabilities...),
			}
		}
	}
	if job.Records != nil {
		clone.Records = append([]publisher.Record(nil), job.Records...)
	}
	return &clone
}
