package task

import (
	"strings"
	"time"
)

// SortOrder 决定列表结果的排序方式。
type SortOrder int

const (
	// SortByUpdatedDesc 按更新时间倒序。
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc 按更新时间正序。
	SortByUpdatedAsc
)

// ListOptions 控制任务查询的过滤条件。
type ListOptions struct {
	Limit      int
	Offset     int
	Statuses   []Status
	WorkflowID string
	UpdatedGTE int64
	UpdatedLTE int64
	HasRecords *bool
	Order      SortOrder
	Query      string
}

func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Statuses != nil {
		opts.Statuses = normalizeStatuses(opts.Statuses)
	}
	if opts.Order != SortByUpdatedAsc {
		opts.Order = SortByUpdatedDesc
	}
	opts.WorkflowID = strings.TrimSpace(opts.WorkflowID)
	opts.Query = strings.TrimSpace(opts.Query)
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

// WithLimit 限制返回数量。
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithOffset 跳过前 n 条匹配记录。
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// WithStatuses 按状态过滤。
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithWorkflowID 只返回指定工作流的任务。
func WithWorkflowID(id string) ListOption {
	return func(opts *ListOptions) {
		opts.WorkflowID = id
	}
}

// WithUpdatedSince 过滤在给定时间之后（含）更新的任务。
func WithUpdatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		if ts.IsZero() {
			opts.UpdatedGTE = 0
			return
		}
		opts.UpdatedGTE = ts.Unix()
	}
}

// WithUpdatedUntil 过滤在给定时间之前（含）更新的任务。
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		if ts.IsZero() {
			opts.UpdatedLTE = 0
			return
		}
		opts.UpdatedLTE = ts.Unix()
	}
}

// WithRecordsPresence 按是否已有输出记录过滤。
func WithRecordsPresence(has bool) ListOption {
	return func(opts *ListOptions) {
		opts.HasRecords = &has
	}
}

// WithSortOrder 修改排序方式。
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) {
		opts.Order = order
	}
}

// WithQuery 在任务 ID、工作流 ID 与错误信息中模糊匹配。
func WithQuery(query string) ListOption {
	return func(opts *ListOptions) {
		opts.Query = query
	}
}

func buildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func normalizeStatuses(input []Status) []Status {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[Status]struct{}, len(input))
	result := make([]Status, 0, len(input))
	for _, status := range input {
		if !IsValidStatus(status) {
			continue
		}
		if _, ok := seen[status]; ok {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
