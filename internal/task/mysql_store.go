package task

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "ZyndAI-Connect/internal/errors"
	"ZyndAI-Connect/internal/publisher"
)

const jobColumns = `id, workflow_id, items, continue_on_fail, submitted_by, status, attempts, max_retries, last_error, error_code, records, created_at, updated_at`

// MySQLStore 使用 MySQL 的 publish_jobs 表记录任务状态。表结构由 storage/mysql 的迁移创建。
type MySQLStore struct {
	db    *sql.DB
	now   func() time.Time
	lease time.Duration
}

// NewMySQLStore 基于已迁移的连接池创建 MySQLStore。
func NewMySQLStore(db *sql.DB, opts ...StoreOption) (*MySQLStore, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL 连接不能为空")
	}
	cfg := buildStoreConfig(opts)
	return &MySQLStore{db: db, now: time.Now, lease: cfg.leaseTimeout}, nil
}

// Create 插入新的任务记录。
func (s *MySQLStore) Create(ctx context.Context, job *Job) error {
	if job == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	if strings.TrimSpace(job.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}

	now := s.now().Unix()
	job.CreatedAt = now
	job.UpdatedAt = now

	items, err := marshalJSON(job.Items)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务条目失败")
	}

	const stmt = `INSERT INTO publish_jobs
    (id, workflow_id, items, continue_on_fail, submitted_by, status, attempts, max_retries, last_error, error_code, records, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '', NULL, ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		job.ID,
		job.WorkflowID,
		items,
		job.ContinueOnFail,
		job.SubmittedBy,
		string(job.Status),
		job.Attempts,
		job.MaxRetries,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrJobConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

// Get 查询指定任务。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM publish_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return job, nil
}

// Claim 将任务标记为运行中并返回最新状态。租约过期的运行中任务可被重新领取。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Job, error) {
	const stmt = `UPDATE publish_jobs SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
    WHERE id = ? AND attempts < max_retries AND (status IN (?, ?) OR (status = ? AND updated_at <= ?))`

	now := s.now()
	staleBefore := s.staleBefore(now)
	res, err := s.db.ExecContext(ctx, stmt,
		string(StatusRunning),
		now.Unix(),
		id,
		string(StatusPending),
		string(StatusFailed),
		string(StatusRunning),
		staleBefore,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected > 0 {
		return job, nil
	}
	switch {
	case job.Status == StatusSucceeded:
		return job, ErrJobCompleted
	case job.Status == StatusRunning:
		if leaseExpired(job, s.lease, now) {
			return s.expireLease(ctx, job, now, staleBefore)
		}
		return job, ErrJobConflict
	case job.Attempts >= job.MaxRetries:
		return job, ErrJobExhausted
	default:
		return job, ErrJobConflict
	}
}

// expireLease 将租约过期且无剩余重试的任务标记为失败。
func (s *MySQLStore) expireLease(ctx context.Context, job *Job, now time.Time, staleBefore int64) (*Job, error) {
	const stmt = `UPDATE publish_jobs SET status = ?, last_error = ?, error_code = ?, updated_at = ?
    WHERE id = ? AND status = ? AND updated_at <= ?`

	res, err := s.db.ExecContext(ctx, stmt,
		string(StatusFailed),
		leaseExpiredMessage,
		string(CodeJobLeaseExpired),
		now.Unix(),
		job.ID,
		string(StatusRunning),
		staleBefore,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记租约过期失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		// 其他 worker 已处理该任务。
		return job, ErrJobConflict
	}
	job.Status = StatusFailed
	job.LastError = leaseExpiredMessage
	job.ErrorCode = string(CodeJobLeaseExpired)
	job.UpdatedAt = now.Unix()
	return job, ErrJobLeaseExpired
}

// staleBefore 返回租约判定的时间界限；租约关闭时返回 0，不会匹配任何任务。
func (s *MySQLStore) staleBefore(now time.Time) int64 {
	if s.lease <= 0 {
		return 0
	}
	return now.Add(-s.lease).Unix()
}

// MarkSucceeded 将任务标记为成功并保存输出记录。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, records []publisher.Record) error {
	encoded, err := marshalJSON(records)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码发布结果失败")
	}
	const stmt = `UPDATE publish_jobs SET status = ?, records = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`

	res, err := s.db.ExecContext(ctx, stmt, string(StatusSucceeded), encoded, s.now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// MarkFailed 将任务标记为失败；terminal 为 true 时不再允许领取。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	const stmt = `UPDATE publish_jobs SET status = ?, last_error = ?, error_code = ?, updated_at = ?,
    max_retries = CASE WHEN ? THEN LEAST(max_retries, attempts) ELSE max_retries END WHERE id = ?`

	res, err := s.db.ExecContext(ctx, stmt,
		string(StatusFailed),
		lastError,
		string(code),
		s.now().Unix(),
		terminal,
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务失败状态出错")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// List 返回符合过滤条件的任务。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Job, error) {
	opts.applyDefaults()

	query := `SELECT ` + jobColumns + ` FROM publish_jobs`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	if opts.Order == SortByUpdatedAsc {
		query += " ORDER BY updated_at ASC, created_at ASC, id ASC"
	} else {
		query += " ORDER BY updated_at DESC, created_at DESC, id DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	jobs := make([]*Job, 0, opts.Limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	return jobs, nil
}

// Stats 返回符合过滤条件的任务聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (JobStats, error) {
	opts.applyDefaults()

	query := `SELECT
    COUNT(*) AS total,
    COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
    COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running,
    COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS succeeded,
    COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
    COALESCE(MIN(updated_at), 0) AS oldest,
    COALESCE(MAX(updated_at), 0) AS newest
    FROM publish_jobs`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{string(StatusPending), string(StatusRunning), string(StatusSucceeded), string(StatusFailed)}
	args = append(args, filterArgs...)

	var stats JobStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return JobStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务统计失败")
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job       Job
		status    string
		items     sql.NullString
		records   sql.NullString
		lastError sql.NullString
		errorCode sql.NullString
	)
	if err := row.Scan(
		&job.ID,
		&job.WorkflowID,
		&items,
		&job.ContinueOnFail,
		&job.SubmittedBy,
		&status,
		&job.Attempts,
		&job.MaxRetries,
		&lastError,
		&errorCode,
		&records,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = Status(status)
	job.LastError = lastError.String
	job.ErrorCode = errorCode.String
	if err := unmarshalJSON(items, &job.Items); err != nil {
		return nil, fmt.Errorf("解析任务条目失败: %w", err)
	}
	if err := unmarshalJSON(records, &job.Records); err != nil {
		return nil, fmt.Errorf("解析发布结果失败: %w", err)
	}
	return &job, nil
}

func marshalJSON(v any) (sql.NullString, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(raw) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func unmarshalJSON(raw sql.NullString, out any) error {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), out)
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 5)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, status := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if opts.WorkflowID != "" {
		conditions = append(conditions, "workflow_id = ?")
		args = append(args, opts.WorkflowID)
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.HasRecords != nil {
		if *opts.HasRecords {
			conditions = append(conditions, "(records IS NOT NULL AND records <> '' AND records <> '[]')")
		} else {
			conditions = append(conditions, "(records IS NULL OR records = '' OR records = '[]')")
		}
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(id LIKE ? OR workflow_id LIKE ? OR last_error LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
