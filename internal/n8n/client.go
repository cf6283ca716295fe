// Package n8n 封装对宿主 n8n 公共 API 的访问以及工作流 JSON 的解析。
package n8n

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	xerrors "ZyndAI-Connect/internal/errors"
	"ZyndAI-Connect/internal/httpx"
)

// CodeRequestFailed 表示调用 n8n API 失败。
const CodeRequestFailed xerrors.Code = "N8N_REQUEST_FAILED"

func init() {
	xerrors.Register(CodeRequestFailed, xerrors.Attributes{
		Message:    "n8n request failed",
		Severity:   xerrors.SeverityWarning,
		Retryable:  true,
		HTTPStatus: http.StatusBadGateway,
	})
}

// Client 访问 n8n 公共 API。
type Client struct {
	baseURL string
	http    *httpx.Client
}

// NewClient 创建客户端。baseURL 会被规范为以斜杠结尾。
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	base := NormalizeBaseURL(baseURL)
	return &Client{
		baseURL: base,
		http:    httpx.New(base, httpClient, map[string]string{"X-N8N-API-KEY": apiKey}),
	}
}

// NormalizeBaseURL 保证实例地址以斜杠结尾。
func NormalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	return raw
}

// BaseURL 返回以斜杠结尾的实例地址。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetWorkflow 读取指定工作流的完整 JSON。
func (c *Client) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "工作流 ID 不能为空")
	}
	raw, err := c.http.Do(ctx, http.MethodGet, "api/v1/workflows/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, xerrors.Wrap(CodeRequestFailed, err, fmt.Sprintf("获取工作流 %s 失败", id),
			xerrors.WithRetryable(httpx.Retryable(err)))
	}
	wf, err := ParseWorkflow(raw)
	if err != nil {
		return nil, xerrors.Wrap(CodeRequestFailed, err, "解析工作流 JSON 失败", xerrors.WithRetryable(false))
	}
	return wf, nil
}

// WebhookURL 返回生产环境 webhook 地址 {base}webhook/{id}。
func (c *Client) WebhookURL(webhookID string) string {
	return c.baseURL + "webhook/" + webhookID
}

// Workflow 同时保存原始字节与解码后的文档。
type Workflow struct {
	Raw json.RawMessage
	doc any
}

// ParseWorkflow 解析工作流 JSON，原始字节保持不变。
func ParseWorkflow(raw []byte) (*Workflow, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return &Workflow{Raw: json.RawMessage(raw), doc: doc}, nil
}

// ID 返回工作流 JSON 中的 id 字段。
func (w *Workflow) ID() string {
	if m, ok := w.doc.(map[string]any); ok {
		switch v := m["id"].(type) {
		case string:
			return v
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

// Name 返回工作流名称。
func (w *Workflow) Name() string {
	if m, ok := w.doc.(map[string]any); ok {
		if v, ok := m["name"].(string); ok {
			return v
		}
	}
	return ""
}
