package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ZyndAI-Connect/internal/httpx"
)

// Profile 是 /api/profile 返回的创始人资料。
type Profile struct {
	StartupName  string `json:"startup_name"`
	FounderName  string `json:"founder_name"`
	Stage        string `json:"stage"`
	ProfileImage string `json:"profile_image"`
}

// WithFallbacks 为空字段填充展示默认值。
func (p Profile) WithFallbacks() Profile {
	if p.StartupName == "" {
		p.StartupName = "New Venture"
	}
	if p.FounderName == "" {
		p.FounderName = "Founder"
	}
	if p.Stage == "" {
		p.Stage = "Ideation"
	}
	return p
}

// Attachment 是随消息发送的文件。
type Attachment struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Data string `json:"data"`
}

// QueryRequest 是 /api/query 的请求体，未附带文件时 file 为 null。
type QueryRequest struct {
	AgentID   string      `json:"agent_id"`
	Content   string      `json:"content"`
	SessionID string      `json:"session_id"`
	File      *Attachment `json:"file"`
}

// QueryResponse 是 /api/query 的响应体。
type QueryResponse struct {
	Error    any `json:"error,omitempty"`
	Response any `json:"response,omitempty"`
}

// Failed 判断后端是否返回了错误。
func (q QueryResponse) Failed() bool {
	switch v := q.Error.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case bool:
		return v
	default:
		return true
	}
}

// ErrorText 返回错误描述。
func (q QueryResponse) ErrorText() string {
	if s, ok := q.Error.(string); ok {
		return s
	}
	raw, _ := json.Marshal(q.Error)
	return string(raw)
}

// Messages 将 response 展开为待展示的消息：数组逐项取 text 字段，否则整体作为一条消息。
func (q QueryResponse) Messages() []any {
	items, ok := q.Response.([]any)
	if !ok {
		if q.Response == nil || q.Response == "" {
			return []any{map[string]any{}}
		}
		return []any{q.Response}
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			if text, ok := obj["text"]; ok && text != nil && text != "" {
				out = append(out, text)
				continue
			}
		}
		out = append(out, item)
	}
	return out
}

// Client 调用仪表盘后端接口。
type Client struct {
	http *httpx.Client
}

// NewClient 创建仪表盘客户端。
func NewClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{http: httpx.New(baseURL, httpClient, nil)}
}

// Status 返回每个智能体的在线状态。
func (c *Client) Status(ctx context.Context) (map[string]string, error) {
	var status map[string]string
	if err := c.http.DoJSON(ctx, http.MethodGet, "api/status", nil, &status); err != nil {
		return nil, fmt.Errorf("status check failed: %w", err)
	}
	return status, nil
}

// Profile 返回创始人资料。
func (c *Client) Profile(ctx context.Context) (Profile, error) {
	var profile Profile
	if err := c.http.DoJSON(ctx, http.MethodGet, "api/profile", nil, &profile); err != nil {
		return Profile{}, fmt.Errorf("profile fetch failed: %w", err)
	}
	return profile, nil
}

// Query 发送一条消息。后端以非 2xx 返回但响应体可解析时仍返回响应体。
func (c *Client) Query(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	var resp QueryResponse
	err := c.http.DoJSON(ctx, http.MethodPost, "api/query", req, &resp)
	if err == nil {
		return resp, nil
	}
	var apiErr *httpx.APIError
	if errors.As(err, &apiErr) && len(apiErr.Body) > 0 {
		if json.Unmarshal(apiErr.Body, &resp) == nil && (resp.Failed() || resp.Response != nil) {
			return resp, nil
		}
	}
	return QueryResponse{}, err
}
