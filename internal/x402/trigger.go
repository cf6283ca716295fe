package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "ZyndAI-Connect/internal/errors"
	"ZyndAI-Connect/internal/observability/metrics"
	"ZyndAI-Connect/internal/web3"
	"ZyndAI-Connect/pkg/logger"
)

const maxBodyBytes = 16 << 20

const (
	missingSecretDetails = "Thirdweb secret key is required. Set THIRDWEB_SECRET_KEY environment variable or provide in node configuration."
	unexpectedError      = "An unexpected error occurred"
)

// Trigger 是受 x402 支付保护的 webhook 处理器。
type Trigger struct {
	opts      Options
	settler   Settler
	networks  *web3.Networks
	emitter   Emitter
	confirmer *Confirmer
	logger    *slog.Logger
	now       func() time.Time
}

// TriggerOption 自定义 Trigger。
type TriggerOption func(*Trigger)

// WithEmitter 设置验证通过后的输出。
func WithEmitter(emitter Emitter) TriggerOption {
	return func(t *Trigger) {
		t.emitter = emitter
	}
}

// WithConfirmer 启用链上确认。
func WithConfirmer(confirmer *Confirmer) TriggerOption {
	return func(t *Trigger) {
		t.confirmer = confirmer
	}
}

// WithNetworks 替换网络表。
func WithNetworks(networks *web3.Networks) TriggerOption {
	return func(t *Trigger) {
		if networks != nil {
			t.networks = networks
		}
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) TriggerOption {
	return func(t *Trigger) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTrigger 创建触发器。
func NewTrigger(opts Options, settler Settler, options ...TriggerOption) *Trigger {
	t := &Trigger{
		opts:     opts.withDefaults(),
		settler:  settler,
		networks: web3.DefaultNetworks(),
		logger:   logger.Named("x402"),
		now:      time.Now,
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// Method 返回监听的 HTTP 方法。
func (t *Trigger) Method() string {
	return t.opts.HTTPMethod
}

// Path 返回不含前缀的 webhook 路径。
func (t *Trigger) Path() string {
	return t.opts.Path
}

// ServeHTTP 处理一次 webhook 调用。
func (t *Trigger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		t.fail(w, err)
		return
	}
	output := Output{
		Body:    body,
		Headers: flattenHeaders(r.Header),
		Query:   flattenQuery(r.URL.Query()),
	}
	if r.Host != "" {
		output.Headers["host"] = r.Host
	}

	if !t.opts.RequirePayment {
		writeJSON(w, http.StatusOK, nil, map[string]any{
			"success": true,
			"data":    output,
		})
		return
	}

	secret := t.opts.ResolveSecretKey()
	if secret == "" {
		t.logger.Error("缺少结算密钥", "path", t.opts.Path)
		writeJSON(w, http.StatusInternalServerError, nil, map[string]any{
			"error":   "Configuration Error",
			"details": missingSecretDetails,
		})
		return
	}

	network, err := t.networks.Lookup(t.opts.Network)
	if err != nil {
		t.fail(w, err)
		return
	}

	req := SettleRequest{
		ResourceURL: t.opts.WebhookURL(),
		Method:      t.opts.HTTPMethod,
		PaymentData: r.Header.Get("x-payment"),
		PayTo:       t.opts.ServerWalletAddress,
		Network:     network.Name,
		Price:       t.opts.Price,
		Facilitator: settlerName(t.settler),
		SecretKey:   secret,
		RouteConfig: RouteConfig{
			Description:       t.opts.Description,
			MimeType:          t.opts.MimeType,
			MaxTimeoutSeconds: t.opts.MaxTimeoutSeconds,
		},
	}
	result, err := t.settler.Settle(r.Context(), req)
	if err != nil {
		metrics.ObserveSettlement(network.Name, 0)
		t.fail(w, err)
		return
	}
	metrics.ObserveSettlement(network.Name, result.Status)
	if result.Status < 200 || result.Status > 599 {
		t.fail(w, xerrors.New(CodePaymentSettlementFailed, fmt.Sprintf("settler returned invalid status %d", result.Status)))
		return
	}
	t.logger.Info("结算完成", "network", network.Name, "status", result.Status, "transaction", result.Transaction, "replayed", result.Replayed)

	if result.Status != http.StatusOK {
		writeJSON(w, result.Status, result.ResponseHeaders, relayBody(result.ResponseBody))
		return
	}

	writeJSON(w, http.StatusOK, result.ResponseHeaders, map[string]any{
		"success": true,
		"message": "Payment verified",
	})

	// 重复提交的支付凭证不再触发工作流。
	if result.Replayed {
		return
	}

	ctx := context.WithoutCancel(r.Context())
	if t.opts.IncludePaymentDetails {
		output.Payment = t.paymentDetails(ctx, network.Name, result)
	}
	if t.emitter != nil {
		if err := t.emitter.Emit(ctx, []Output{output}); err != nil {
			t.logger.Error("输出 webhook 数据失败", "error", err)
		}
	}
}

func (t *Trigger) paymentDetails(ctx context.Context, network string, result SettleResult) *PaymentDetails {
	details := &PaymentDetails{
		Verified:    true,
		VerifiedAt:  t.now().UTC().Format(time.RFC3339),
		Network:     network,
		Price:       t.opts.Price,
		PayTo:       t.opts.ServerWalletAddress,
		Payer:       result.Payer,
		Transaction: result.Transaction,
	}
	confirmation, ok, err := t.confirmer.Confirm(ctx, network, result.Transaction)
	if err != nil {
		t.logger.Warn("链上确认失败", "network", network, "transaction", result.Transaction, "error", err)
		return details
	}
	if ok {
		details.BlockNumber = confirmation.BlockNumber
		if !confirmation.Succeeded {
			t.logger.Warn("交易回执状态为失败", "network", network, "transaction", result.Transaction)
		}
	}
	return details
}

func (t *Trigger) fail(w http.ResponseWriter, err error) {
	t.logger.Error("处理付费 webhook 失败", "error", err, "code", xerrors.CodeOf(err))
	writeJSON(w, http.StatusInternalServerError, nil, map[string]any{
		"error":   "Payment processing error",
		"message": errorMessage(err),
	})
}

func errorMessage(err error) string {
	if err == nil {
		return unexpectedError
	}
	msg := err.Error()
	if coded, ok := xerrors.From(err); ok {
		msg = coded.Message()
		if cause := errors.Unwrap(coded); cause != nil {
			if msg == "" {
				msg = cause.Error()
			} else {
				msg += ": " + cause.Error()
			}
		}
	}
	if strings.TrimSpace(msg) == "" {
		return unexpectedError
	}
	return msg
}

// relayBody 解析结算服务返回的 x402 响应体，缺失或无法解析时使用默认内容。
func relayBody(body any) any {
	fallback := map[string]any{
		"x402Version": X402Version,
		"error":       "Payment verification failed",
	}
	var raw []byte
	switch v := body.(type) {
	case nil:
		return fallback
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	case json.RawMessage:
		raw = v
	default:
		return v
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return fallback
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fallback
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, headers map[string]string, payload any) {
	w.Header().Set("Content-Type", "application/json")
	for key, value := range headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// readBody 按 Content-Type 解析请求体：JSON 解码为对象，表单解码为键值，其余保留为字符串。
func readBody(r *http.Request) (any, error) {
	if r.Body == nil {
		return map[string]any{}, nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "read request body")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(raw))
		if err == nil {
			return flattenQuery(values), nil
		}
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json") || mediaType == "":
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err == nil {
			return decoded, nil
		}
	}
	return string(raw), nil
}

func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key, values := range header {
		out[strings.ToLower(key)] = strings.Join(values, ", ")
	}
	return out
}

func flattenQuery(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for key, list := range values {
		if len(list) == 1 {
			out[key] = list[0]
			continue
		}
		out[key] = list
	}
	return out
}
