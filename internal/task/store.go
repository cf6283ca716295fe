package task

import (
	"context"
	"time"

	xerrors "ZyndAI-Connect/internal/errors"
	"ZyndAI-Connect/internal/publisher"
)

// Store 抽象了发布任务状态的持久化接口。
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// Claim 将待执行或失败的任务置为运行中。运行中的任务超过租约后视为中断：
	// 仍有重试次数时重新领取，否则标记失败并返回 ErrJobLeaseExpired。
	Claim(ctx context.Context, id string) (*Job, error)
	MarkSucceeded(ctx context.Context, id string, records []publisher.Record) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Job, error)
	Stats(ctx context.Context, opts ListOptions) (JobStats, error)
	Close() error
}

// DefaultLeaseTimeout 是运行中任务的默认租约时长。超时未完成的任务视为执行中断，可被重新领取。
const DefaultLeaseTimeout = 30 * time.Minute

const leaseExpiredMessage = "job lease expired before completion"

type storeConfig struct {
	leaseTimeout time.Duration
}

// StoreOption 调整 Store 实现的行为。
type StoreOption func(*storeConfig)

// WithLeaseTimeout 设置运行租约；非正值表示永不回收运行中的任务。
func WithLeaseTimeout(d time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.leaseTimeout = d
	}
}

func buildStoreConfig(opts []StoreOption) storeConfig {
	cfg := storeConfig{leaseTimeout: DefaultLeaseTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// leaseExpired 判断运行中的任务是否已超过租约。
func leaseExpired(job *Job, lease time.Duration, now time.Time) bool {
	if lease <= 0 || job.Status != StatusRunning {
		return false
	}
	return job.UpdatedAt <= now.Add(-lease).Unix()
}
