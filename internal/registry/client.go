// Package registry 实现 Zynd 智能体注册中心的 HTTP 客户端。
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"ZyndAI-Connect/internal/credentials"
	xerrors "ZyndAI-Connect/internal/errors"
	"ZyndAI-Connect/internal/httpx"
)

// CodeRequestFailed 表示注册中心请求失败。
const CodeRequestFailed xerrors.Code = "REGISTRY_REQUEST_FAILED"

func init() {
	xerrors.Register(CodeRequestFailed, xerrors.Attributes{
		Message:    "registry request failed",
		Severity:   xerrors.SeverityWarning,
		Retryable:  true,
		HTTPStatus: http.StatusBadGateway,
	})
}

// ID 是注册中心返回的标识，兼容字符串与数字两种编码。
type ID string

// UnmarshalJSON 接受 "42"、42 与 null。
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("registry id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Agent 是注册中心返回的智能体记录。
type Agent struct {
	ID            ID     `json:"id,omitempty"`
	AgentID       ID     `json:"agentId,omitempty"`
	DIDIdentifier string `json:"didIdentifier,omitempty"`
}

// Identifier 返回用于后续调用的智能体标识：优先 id，其次 agentId。
func (a Agent) Identifier() string {
	if a.ID != "" {
		return string(a.ID)
	}
	return string(a.AgentID)
}

// WebhookUpdate 是 update-n8n-webhook 的请求体。
type WebhookUpdate struct {
	AgentID           string `json:"agentId"`
	N8NHTTPWebhookURL string `json:"n8nHttpWebhookUrl"`
}

// Client 访问注册中心。
type Client struct {
	http *httpx.Client
}

// NewClient 创建注册中心客户端。
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = credentials.DefaultAPIURL
	}
	return &Client{http: httpx.New(baseURL, httpClient, map[string]string{"X-API-KEY": apiKey})}
}

// FromCredentials 基于凭证创建客户端。
func FromCredentials(cred credentials.ZyndAIAPI, httpClient *http.Client) *Client {
	cred = cred.Normalize()
	return NewClient(cred.APIURL, cred.APIKey, httpClient)
}

// BaseURL 返回注册中心地址。
func (c *Client) BaseURL() string {
	return c.http.BaseURL()
}

// RegisterN8N 将工作流 JSON 原样提交到注册中心。
func (c *Client) RegisterN8N(ctx context.Context, workflow json.RawMessage) (Agent, error) {
	var agent Agent
	if len(workflow) == 0 {
		return agent, xerrors.New(xerrors.CodeInvalidArgument, "工作流内容为空")
	}
	if err := c.http.DoJSON(ctx, http.MethodPost, "agents/n8n", workflow, &agent); err != nil {
		return agent, xerrors.Wrap(CodeRequestFailed, err, "注册智能体失败",
			xerrors.WithRetryable(httpx.Retryable(err)))
	}
	return agent, nil
}

// UpdateN8NWebhook 把智能体关联到工作流的生产 webhook 地址。
func (c *Client) UpdateN8NWebhook(ctx context.Context, agentID, webhookURL string) error {
	body := WebhookUpdate{AgentID: agentID, N8NHTTPWebhookURL: webhookURL}
	if err := c.http.DoJSON(ctx, http.MethodPost, "agents/update-n8n-webhook", body, nil); err != nil {
		return xerrors.Wrap(CodeRequestFailed, err, "更新智能体 webhook 失败",
			xerrors.WithRetryable(httpx.Retryable(err)),
			xerrors.WithMetadata("agent_id", agentID))
	}
	return nil
}
