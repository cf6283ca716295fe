// Package httpx 提供调用外部 JSON 接口的最小 HTTP 客户端。
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout 是未提供自定义 http.Client 时单次请求的超时时间。
const DefaultTimeout = 10 * time.Second

// maxErrorBody 限制错误响应体的读取长度。
const maxErrorBody = 64 << 10

// APIError 表示上游返回了非 2xx 状态码。
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Message    string
	Body       []byte
}

// Error 实现 error 接口。
func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return fmt.Sprintf("Request failed with status code %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("Request failed with status code %d", e.StatusCode)
}

// Retryable 判断上游错误是否值得重试：网络错误与 5xx、429 返回 true。
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled)
}

// Client 以固定的基础地址和默认请求头发送 JSON 请求。
type Client struct {
	baseURL    string
	headers    http.Header
	httpClient *http.Client
}

// New 创建客户端。baseURL 末尾的斜杠会被去掉，非空请求路径以斜杠拼接。
func New(baseURL string, httpClient *http.Client, headers map[string]string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	h := make(http.Header, len(headers)+2)
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/json")
	for k, v := range headers {
		h.Set(k, v)
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		headers:    h,
		httpClient: httpClient,
	}
}

// BaseURL 返回去掉末尾斜杠后的基础地址。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do 发送请求并返回原始响应体。payload 为 []byte 或 json.RawMessage 时原样发送，
// 其它值会先序列化为 JSON。
func (c *Client) Do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := encode(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}

	url := c.baseURL
	if p := strings.TrimLeft(path, "/"); p != "" {
		url += "/" + p
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vals := range c.headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{
			Method:     method,
			URL:        url,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data),
			Body:       data,
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return data, nil
}

// DoJSON 发送请求并把响应解码到 out。
func (c *Client) DoJSON(ctx context.Context, method, path string, payload, out any) error {
	data, err := c.Do(ctx, method, path, payload)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func encode(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		return raw, nil
	}
}

// errorMessage 尝试从 {"message": ...} 或 {"error": ...} 中提取可读信息。
func errorMessage(data []byte) string {
	var envelope struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil {
		if envelope.Message != "" {
			return envelope.Message
		}
		var s string
		if json.Unmarshal(envelope.Error, &s) == nil && s != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(envelope.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
	}
	return string(bytes.TrimSpace(data))
}
