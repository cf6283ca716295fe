package task

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "ZyndAI-Connect/internal/errors"
	"ZyndAI-Connect/internal/publisher"
)

// MemoryStore 以内存方式保存任务状态，适用于单进程部署与测试。
type MemoryStore struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	now   func() time.Time
	lease time.Duration
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	cfg := buildStoreConfig(opts)
	return &MemoryStore{jobs: make(map[string]*Job), now: time.Now, lease: cfg.leaseTimeout}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, job *Job) error {
	if job == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	if job.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return ErrJobConflict
	}
	now := m.now().Unix()
	if job.CreatedAt == 0 {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

// Get 返回任务。
func (m *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(job), nil
}

// Claim 将任务状态更新为运行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	now := m.now()
	switch job.Status {
	case StatusSucceeded:
		return cloneJob(job), ErrJobCompleted
	case StatusRunning:
		if !leaseExpired(job, m.lease, now) {
			return cloneJob(job), ErrJobConflict
		}
		if job.Attempts >= job.MaxRetries {
			job.Status = StatusFailed
			job.ErrorCode = string(CodeJobLeaseExpired)
			job.LastError = leaseExpiredMessage
			job.UpdatedAt = now.Unix()
			return cloneJob(job), ErrJobLeaseExpired
		}
	default:
		if job.Attempts >= job.MaxRetries {
			return cloneJob(job), ErrJobExhausted
		}
	}
	job.Status = StatusRunning
	job.Attempts++
	job.LastError = ""
	job.ErrorCode = ""
	job.UpdatedAt = now.Unix()
	return cloneJob(job), nil
}

// MarkSucceeded 记录发布输出。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, records []publisher.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = StatusSucceeded
	job.Records = append([]publisher.Record(nil), records...)
	job.LastError = ""
	job.ErrorCode = ""
	job.UpdatedAt = m.now().Unix()
	return nil
}

// MarkFailed 标记任务失败。非终态失败保留重试次数，等待重新领取。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = StatusFailed
	if terminal && job.Attempts < job.MaxRetries {
		job.MaxRetries = job.Attempts
	}
	job.LastError = lastError
	job.ErrorCode = string(code)
	job.UpdatedAt = m.now().Unix()
	return nil
}

// List 返回符合过滤条件的任务。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if matchesListFilters(job, opts) {
			results = append(results, cloneJob(job))
		}
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if opts.Order == SortByUpdatedAsc {
			a, b = b, a
		}
		if a.UpdatedAt == b.UpdatedAt {
			if a.CreatedAt == b.CreatedAt {
				return a.ID > b.ID
			}
			return a.CreatedAt > b.CreatedAt
		}
		return a.UpdatedAt > b.UpdatedAt
	})

	if opts.Offset >= len(results) {
		return []*Job{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的任务数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (JobStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := JobStats{}
	for _, job := range m.jobs {
		if !matchesListFilters(job, opts) {
			continue
		}
		stats.Total++
		switch job.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusSucceeded:
			stats.Succeeded++
		case StatusFailed:
			stats.Failed++
		}
		if job.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = job.UpdatedAt
		}
		if stats.OldestUpdatedAt == 0 || (job.UpdatedAt != 0 && job.UpdatedAt < stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = job.UpdatedAt
		}
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func matchesListFilters(job *Job, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if job.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.WorkflowID != "" && job.WorkflowID != opts.WorkflowID {
		return false
	}
	if opts.UpdatedGTE > 0 && job.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && job.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.HasRecords != nil && (len(job.Records) > 0) != *opts.HasRecords {
		return false
	}
	if opts.Query != "" {
		q := strings.ToLower(opts.Query)
		if !strings.Contains(strings.ToLower(job.ID), q) &&
			!strings.Contains(strings.ToLower(job.WorkflowID), q) &&
			!strings.Contains(strings.ToLower(job.LastError), q) {
			return false
		}
	}
	return true
}

var _ Store = (*MemoryStore)(nil)
