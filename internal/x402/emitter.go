package x402

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"ZyndAI-Connect/internal/httpx"
	"ZyndAI-Connect/pkg/logger"
)

// PaymentDetails 是附加到输出中的支付信息。
type PaymentDetails struct {
	Verified    bool   `json:"verified"`
	VerifiedAt  string `json:"verifiedAt"`
	Network     string `json:"network"`
	Price       string `json:"price"`
	PayTo       string `json:"payTo"`
	Payer       string `json:"payer,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	BlockNumber uint64 `json:"blockNumber,omitempty"`
}

// Output 是触发器交给下游的单条数据。
type Output struct {
	Body    any               `json:"body"`
	Headers map[string]string `json:"headers"`
	Query   map[string]any    `json:"query"`
	Payment *PaymentDetails   `json:"payment,omitempty"`
}

// Emitter 接收触发器产生的输出。
type Emitter interface {
	Emit(ctx context.Context, items []Output) error
}

// AuditEmitter 将输出写入审计日志。
type AuditEmitter struct {
	logger *slog.Logger
}

// NewAuditEmitter 创建审计日志输出。
func NewAuditEmitter() *AuditEmitter {
	return &AuditEmitter{logger: logger.Audit()}
}

// Emit 实现 Emitter。
func (a *AuditEmitter) Emit(_ context.Context, items []Output) error {
	for _, item := range items {
		attrs := []any{"headers", len(item.Headers), "query", len(item.Query)}
		if item.Payment != nil {
			attrs = append(attrs,
				"network", item.Payment.Network,
				"price", item.Payment.Price,
				"pay_to", item.Payment.PayTo,
				"transaction", item.Payment.Transaction,
			)
		}
		a.logger.Info("webhook_triggered", attrs...)
	}
	return nil
}

// HTTPEmitter 将输出以 JSON 数组 POST 到下游地址。
type HTTPEmitter struct {
	client *httpx.Client
}

// NewHTTPEmitter 创建转发输出；url 为空时返回 nil。
func NewHTTPEmitter(url string, httpClient *http.Client) *HTTPEmitter {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	return &HTTPEmitter{client: httpx.New(url, httpClient, nil)}
}

// Emit 实现 Emitter。
func (h *HTTPEmitter) Emit(ctx context.Context, items []Output) error {
	_, err := h.client.Do(ctx, http.MethodPost, "", items)
	return err
}

// Emitters 依次调用多个 Emitter，汇总全部错误。
type Emitters []Emitter

// Emit 实现 Emitter。
func (e Emitters) Emit(ctx context.Context, items []Output) error {
	var errs []error
	for _, emitter := range e {
		if emitter == nil {
			continue
		}
		if err := emitter.Emit(ctx, items); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
