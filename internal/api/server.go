package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ZyndAI-Connect/internal/auth"
	xerrors "ZyndAI-Connect/internal/errors"
	"ZyndAI-Connect/internal/observability/metrics"
	"ZyndAI-Connect/internal/storage/mysql"
	"ZyndAI-Connect/internal/task"
	"ZyndAI-Connect/internal/x402"
)

// PublicationLister 返回最近的发布记录。
type PublicationLister interface {
	ListLatest(ctx context.Context, limit int) ([]mysql.PublicationRecord, error)
}

// Server 负责暴露 REST 接口与付费 webhook。
type Server struct {
	addr              string
	jobs              *task.Service
	publications      PublicationLister
	trigger           *x402.Trigger
	auth              *auth.Service
	defaultWorkflowID string
}

// Option 配置 Server。
type Option func(*Server)

// WithJobs 启用发布任务接口。
func WithJobs(jobs *task.Service) Option {
	return func(s *Server) { s.jobs = jobs }
}

// WithPublications 启用发布记录查询接口。
func WithPublications(publications PublicationLister) Option {
	return func(s *Server) { s.publications = publications }
}

// WithTrigger 挂载付费 webhook。
func WithTrigger(trigger *x402.Trigger) Option {
	return func(s *Server) { s.trigger = trigger }
}

// WithAuth 为管理接口启用密钥校验。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) { s.auth = svc }
}

// WithDefaultWorkflowID 设置提交任务时缺省的工作流 ID。
func WithDefaultWorkflowID(id string) Option {
	return func(s *Server) { s.defaultWorkflowID = strings.TrimSpace(id) }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, opts ...Option) *Server {
	s := &Server{addr: addr}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler 返回挂载全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.trigger != nil {
		for _, prefix := range []string{"/webhook/", "/webhook-test/"} {
			pattern := s.trigger.Method() + " " + prefix + s.trigger.Path()
			mux.Handle(pattern, instrument("webhook", s.trigger))
		}
	}

	admin := func(name string, h http.HandlerFunc) http.Handler {
		return instrument(name, s.auth.Middleware(name)(h))
	}
	mux.Handle("POST /api/v1/publish-jobs", admin("publish_jobs_create", s.handleCreateJob))
	mux.Handle("GET /api/v1/publish-jobs", admin("publish_jobs_list", s.handleListJobs))
	mux.Handle("GET /api/v1/publish-jobs/stats", admin("publish_jobs_stats", s.handleJobStats))
	mux.Handle("GET /api/v1/publish-jobs/{id}", admin("publish_jobs_detail", s.handleJobDetail))
	mux.Handle("GET /api/v1/publications", admin("publications_list", s.handleListPublications))
	mux.Handle("GET /healthz", instrument("healthz", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// handleCreateJob 提交一个发布任务，立即返回 202。
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		http.Error(w, "任务服务未启用", http.StatusServiceUnavailable)
		return
	}
	var req task.SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	if strings.TrimSpace(req.WorkflowID) == "" {
		req.WorkflowID = s.defaultWorkflowID
	}
	req.SubmittedBy = auth.Submitter(r.Context())
	job, err := s.jobs.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		http.Error(w, "任务服务未启用", http.StatusServiceUnavailable)
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	jobs, err := s.jobs.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		http.Error(w, "任务服务未启用", http.StatusServiceUnavailable)
		return
	}
	opts, err := parseListOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.jobs.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		http.Error(w, "任务服务未启用", http.StatusServiceUnavailable)
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		http.Error(w, "缺少任务 ID", http.StatusBadRequest)
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListPublications(w http.ResponseWriter, r *http.Request) {
	if s.publications == nil {
		http.Error(w, "发布记录未启用", http.StatusServiceUnavailable)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	records, err := s.publications.ListLatest(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseListOptions 将查询参数转换为任务列表过滤条件。
func parseListOptions(r *http.Request) ([]task.ListOption, error) {
	query := r.URL.Query()
	var opts []task.ListOption
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "limit 必须为整数")
		}
		opts = append(opts, task.WithLimit(limit))
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "offset 必须为整数")
		}
		opts = append(opts, task.WithOffset(offset))
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.TrimSpace(part))
			if !task.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务状态: "+part)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := query.Get("workflow_id"); raw != "" {
		opts = append(opts, task.WithWorkflowID(raw))
	}
	if raw := query.Get("q"); raw != "" {
		opts = append(opts, task.WithQuery(raw))
	}
	if raw := query.Get("has_records"); raw != "" {
		has, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "has_records 必须为布尔值")
		}
		opts = append(opts, task.WithRecordsPresence(has))
	}
	for key, apply := range map[string]func(time.Time) task.ListOption{
		"updated_since": task.WithUpdatedSince,
		"updated_until": task.WithUpdatedUntil,
	} {
		if raw := query.Get(key); raw != "" {
			ts, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, key+" 必须为 Unix 时间戳")
			}
			opts = append(opts, apply(time.Unix(ts, 0)))
		}
	}
	if strings.EqualFold(query.Get("order"), "asc") {
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	}
	return opts, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	body := map[string]string{
		"error":   string(xerrors.CodeOf(err)),
		"message": err.Error(),
	}
	if coded, ok := xerrors.From(err); ok && coded.Message() != "" {
		body["message"] = coded.Message()
	}
	writeJSON(w, xerrors.HTTPStatus(err), body)
}

// statusRecorder 捕获响应状态码用于指标统计。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func instrument(name string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
