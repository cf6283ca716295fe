package zynd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout 是未传入 http.Client 时使用的超时时间。
const DefaultHTTPTimeout = 15 * time.Second

// Client 封装对 zyndd 管理接口的调用。
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	apiKey     string
}

// Item 描述一次发布的单个输入项。
type Item struct {
	AgentKeyword string   `json:"agentKeyword,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// JobSubmission 是创建发布任务的请求体。
type JobSubmission struct {
	ID             string `json:"id,omitempty"`
	WorkflowID     string `json:"workflow_id,omitempty"`
	Items          []Item `json:"items,omitempty"`
	ContinueOnFail bool   `json:"continue_on_fail"`
}

// Record 是单个输入项的发布结果。
type Record struct {
	JSON struct {
		Success  bool   `json:"success"`
		AgentID  string `json:"agentId,omitempty"`
		AgentDID string `json:"agentDID,omitempty"`
		Message  string `json:"message,omitempty"`
		Error    string `json:"error,omitempty"`
	} `json:"json"`
	PairedItem int `json:"pairedItem"`
}

// Job 是服务端返回的发布任务视图。
type Job struct {
	ID             string   `json:"id"`
	WorkflowID     string   `json:"workflow_id"`
	Items          []Item   `json:"items"`
	ContinueOnFail bool     `json:"continue_on_fail"`
	SubmittedBy    string   `json:"submitted_by,omitempty"`
	Status         string   `json:"status"`
	Attempts       int      `json:"attempts"`
	MaxRetries     int      `json:"max_retries"`
	LastError      string   `json:"last_error,omitempty"`
	ErrorCode      string   `json:"error_code,omitempty"`
	Records        []Record `json:"records,omitempty"`
	CreatedAt      int64    `json:"created_at"`
	UpdatedAt      int64    `json:"updated_at"`
}

// Terminal 判断任务是否已经结束。
func (j Job) Terminal() bool {
	return j.Status == "succeeded" || j.Status == "failed"
}

// JobStats 汇总各状态的任务数量。
type JobStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// Publication 是一条已发布 agent 的记录。
type Publication struct {
	ID          int64  `json:"id,omitempty"`
	WorkflowID  string `json:"workflow_id"`
	AgentID     string `json:"agent_id"`
	AgentDID    string `json:"agent_did,omitempty"`
	WebhookURL  string `json:"webhook_url,omitempty"`
	JobID       string `json:"job_id,omitempty"`
	PublishedAt int64  `json:"published_at"`
}

// ListFilter 对应任务列表接口的查询参数。
type ListFilter struct {
	Limit        int
	Offset       int
	Statuses     []string
	WorkflowID   string
	Query        string
	HasRecords   *bool
	UpdatedSince time.Time
	UpdatedUntil time.Time
	Ascending    bool
}

func (f ListFilter) values() url.Values {
	values := url.Values{}
	if f.Limit > 0 {
		values.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		values.Set("offset", strconv.Itoa(f.Offset))
	}
	if len(f.Statuses) > 0 {
		values.Set("status", strings.Join(f.Statuses, ","))
	}
	if f.WorkflowID != "" {
		values.Set("workflow_id", f.WorkflowID)
	}
	if f.Query != "" {
		values.Set("q", f.Query)
	}
	if f.HasRecords != nil {
		values.Set("has_records", strconv.FormatBool(*f.HasRecords))
	}
	if !f.UpdatedSince.IsZero() {
		values.Set("updated_since", strconv.FormatInt(f.UpdatedSince.Unix(), 10))
	}
	if !f.UpdatedUntil.IsZero() {
		values.Set("updated_until", strconv.FormatInt(f.UpdatedUntil.Unix(), 10))
	}
	if f.Ascending {
		values.Set("order", "asc")
	}
	return values
}

// APIError 表示服务端返回的错误响应。
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("zynd api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("zynd api error (%d): %s", e.StatusCode, e.Message)
}

// ErrJobNotFinished 表示在等待期间任务仍未结束。
var ErrJobNotFinished = errors.New("zynd: job did not finish before the context ended")

// NewClient 创建客户端。rawURL 指向 zyndd 的监听地址，apiKey 为空时不附带认证头。
func NewClient(rawURL, apiKey string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, apiKey: strings.TrimSpace(apiKey)}, nil
}

// SubmitJob 提交发布任务，服务端以 202 返回排队中的任务。
func (c *Client) SubmitJob(ctx context.Context, submission JobSubmission) (Job, error) {
	var job Job
	if err := c.post(ctx, "/api/v1/publish-jobs", submission, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// GetJob 按 ID 查询任务。
func (c *Client) GetJob(ctx context.Context, id string) (Job, error) {
	var job Job
	if err := c.get(ctx, "/api/v1/publish-jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// ListJobs 按过滤条件列出任务。
func (c *Client) ListJobs(ctx context.Context, filter ListFilter) ([]Job, error) {
	var jobs []Job
	if err := c.get(ctx, "/api/v1/publish-jobs", filter.values(), &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// JobStats 返回满足过滤条件的任务统计。
func (c *Client) JobStats(ctx context.Context, filter ListFilter) (JobStats, error) {
	var stats JobStats
	if err := c.get(ctx, "/api/v1/publish-jobs/stats", filter.values(), &stats); err != nil {
		return JobStats{}, err
	}
	return stats, nil
}

// ListPublications 返回最近的发布记录。
func (c *Client) ListPublications(ctx context.Context, limit int) ([]Publication, error) {
	values := url.Values{}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	var records []Publication
	if err := c.get(ctx, "/api/v1/publications", values, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// WaitForJob 轮询任务直到进入终态或 ctx 结束。
func (c *Client) WaitForJob(ctx context.Context, id string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return Job{}, err
		}
		if job.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, fmt.Errorf("%w: %v", ErrJobNotFinished, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
