// Package publisher 把宿主工作流发布到 Zynd 注册中心并绑定其 webhook 地址。
package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	xerrors "ZyndAI-Connect/internal/errors"
	"ZyndAI-Connect/internal/n8n"
	"ZyndAI-Connect/internal/observability/metrics"
	"ZyndAI-Connect/internal/registry"
	"ZyndAI-Connect/internal/storage/mysql"
	"ZyndAI-Connect/pkg/logger"
)

// SuccessMessage 是发布成功时输出的提示语。
const SuccessMessage = "Agent published successfully"

// UnknownErrorMessage 在错误没有可读信息时使用。
const UnknownErrorMessage = "Unknown error occurred"

// Item 是一个输入条目，携带可选的检索参数。
type Item struct {
	AgentKeyword string   `json:"agentKeyword,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Query 在失败记录中回显条目的检索参数。
type Query struct {
	Keyword      string   `json:"keyword"`
	Capabilities []string `json:"capabilities"`
}

// Result 是单个条目的输出 JSON。
type Result struct {
	Success  bool   `json:"success"`
	AgentID  string `json:"agentId,omitempty"`
	AgentDID string `json:"agentDID,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
	Query    *Query `json:"query,omitempty"`
}

// Record 把输出与输入条目下标配对。
type Record struct {
	JSON       Result `json:"json"`
	PairedItem int    `json:"pairedItem"`
}

// Request 描述一次发布批次。
type Request struct {
	JobID          string
	WorkflowID     string
	Items          []Item
	ContinueOnFail bool
}

// WorkflowSource 读取宿主工作流。
type WorkflowSource interface {
	GetWorkflow(ctx context.Context, id string) (*n8n.Workflow, error)
	WebhookURL(webhookID string) string
}

// Registry 是注册中心的最小能力集合。
type Registry interface {
	RegisterN8N(ctx context.Context, workflow json.RawMessage) (registry.Agent, error)
	UpdateN8NWebhook(ctx context.Context, agentID, webhookURL string) error
}

// Publisher 逐条处理输入条目。
type Publisher struct {
	workflows    WorkflowSource
	registry     Registry
	publications mysql.PublicationRepository
	logger       *slog.Logger
	now          func() time.Time
}

// Option 定义可选配置。
type Option func(*Publisher)

// WithPublicationRepository 记录每次成功发布。
func WithPublicationRepository(repo mysql.PublicationRepository) Option {
	return func(p *Publisher) {
		p.publications = repo
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// New 创建 Publisher。
func New(workflows WorkflowSource, reg Registry, opts ...Option) *Publisher {
	p := &Publisher{
		workflows: workflows,
		registry:  reg,
		logger:    logger.Named("publisher"),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Publish 按顺序处理每个条目。ContinueOnFail 为 false 时遇到第一个错误即返回。
func (p *Publisher) Publish(ctx context.Context, req Request) ([]Record, error) {
	if p.workflows == nil || p.registry == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "发布器未初始化")
	}
	if strings.TrimSpace(req.WorkflowID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "工作流 ID 不能为空")
	}
	p.logger.Debug("开始发布智能体", slog.String("workflow_id", req.WorkflowID), slog.Int("items", len(req.Items)))

	records := make([]Record, 0, len(req.Items))
	for i, item := range req.Items {
		result, err := p.publishOne(ctx, req)
		if err != nil {
			if !req.ContinueOnFail {
				metrics.ObservePublish(metrics.OutcomeFailure)
				return records, err
			}
			metrics.ObservePublish(metrics.OutcomeContinued)
			records = append(records, Record{JSON: failureResult(err, item), PairedItem: i})
			continue
		}
		metrics.ObservePublish(metrics.OutcomeSuccess)
		records = append(records, Record{JSON: result, PairedItem: i})
	}
	return records, nil
}

func (p *Publisher) publishOne(ctx context.Context, req Request) (Result, error) {
	workflow, err := p.workflows.GetWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return Result{}, err
	}

	agent, err := p.registry.RegisterN8N(ctx, workflow.Raw)
	if err != nil {
		return Result{}, err
	}

	webhookID, err := workflow.FindWebhookID()
	if err != nil {
		return Result{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析 webhook 节点失败")
	}
	var webhookURL string
	if webhookID != "" {
		webhookURL = p.workflows.WebhookURL(webhookID)
		if err := p.registry.UpdateN8NWebhook(ctx, agent.Identifier(), webhookURL); err != nil {
			return Result{}, err
		}
		p.logger.Info("已更新智能体 webhook",
			slog.String("agent_id", agent.Identifier()),
			slog.String("webhook_url", webhookURL))
	}

	if p.publications != nil {
		record := mysql.PublicationRecord{
			WorkflowID:  req.WorkflowID,
			AgentID:     agent.Identifier(),
			AgentDID:    agent.DIDIdentifier,
			WebhookURL:  webhookURL,
			JobID:       req.JobID,
			PublishedAt: p.now().Unix(),
		}
		if err := p.publications.Save(ctx, record); err != nil {
			p.logger.Error("保存发布记录失败", slog.Any("error", err), slog.String("agent_id", record.AgentID))
		}
	}
	logger.Audit().Info("智能体发布成功",
		slog.String("workflow_id", req.WorkflowID),
		slog.String("agent_id", agent.Identifier()),
		slog.String("agent_did", agent.DIDIdentifier),
		slog.String("job_id", req.JobID),
	)

	return Result{
		Success:  true,
		AgentID:  agent.Identifier(),
		AgentDID: agent.DIDIdentifier,
		Message:  SuccessMessage,
	}, nil
}

func failureResult(err error, item Item) Result {
	capabilities := item.Capabilities
	if capabilities == nil {
		capabilities = []string{}
	}
	return Result{
		Success: false,
		Error:   errorMessage(err),
		Query:   &Query{Keyword: item.AgentKeyword, Capabilities: capabilities},
	}
}

// errorMessage 返回最内层的可读错误信息，去掉错误码前缀。
func errorMessage(err error) string {
	if err == nil {
		return UnknownErrorMessage
	}
	msg := err.Error()
	if coded, ok := xerrors.From(err); ok {
		if cause := coded.Unwrap(); cause != nil {
			msg = cause.Error()
		} else {
			msg = coded.Message()
		}
	}
	if strings.TrimSpace(msg) == "" {
		return UnknownErrorMessage
	}
	return msg
}
