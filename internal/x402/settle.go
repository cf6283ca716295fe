package x402

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	xerrors "ZyndAI-Connect/internal/errors"
	"ZyndAI-Connect/internal/web3"
)

// X402Version 是当前实现的协议版本。
const X402Version = 1

// PaymentResponseHeader 携带结算回执，内容为 base64 编码的 JSON。
const PaymentResponseHeader = "X-PAYMENT-RESPONSE"

// RouteConfig 描述被保护资源。
type RouteConfig struct {
	Description       string
	MimeType          string
	MaxTimeoutSeconds int
}

// SettleRequest 是一次结算所需的全部输入。
type SettleRequest struct {
	ResourceURL string
	Method      string
	PaymentData string
	PayTo       string
	Network     string
	Price       string
	Facilitator string
	SecretKey   string
	RouteConfig RouteConfig
}

// SettleResult 是结算服务的结果。Status 为 200 表示结算成功，其余状态需原样返回给调用方。
// ResponseBody 可以是 JSON 文本或任意可序列化的值。
// Replayed 表示结果来自同一支付凭证的先前结算，调用方不得再次交付资源。
type SettleResult struct {
	Status          int               `json:"status"`
	ResponseBody    any               `json:"responseBody,omitempty"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	Transaction     string            `json:"transaction,omitempty"`
	Payer           string            `json:"payer,omitempty"`
	Replayed        bool              `json:"-"`
}

// Settler 校验并结算一笔支付。
type Settler interface {
	Settle(ctx context.Context, req SettleRequest) (SettleResult, error)
}

// SettlerFunc 允许普通函数实现 Settler。
type SettlerFunc func(ctx context.Context, req SettleRequest) (SettleResult, error)

// Settle 调用函数本身。
func (f SettlerFunc) Settle(ctx context.Context, req SettleRequest) (SettleResult, error) {
	return f(ctx, req)
}

// PaymentRequirements 是 402 挑战中 accepts 列表的元素。
type PaymentRequirements struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource"`
	Description       string         `json:"description"`
	MimeType          string         `json:"mimeType"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds"`
	Asset             string         `json:"asset"`
	OutputSchema      map[string]any `json:"outputSchema,omitempty"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// PaymentRequired 是 402 响应体。
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error"`
	Accepts     []PaymentRequirements `json:"accepts"`
	Payer       string                `json:"payer,omitempty"`
}

// PaymentPayload 是客户端在 x-payment 头中提交的支付凭证。
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

// BuildRequirements 根据结算请求生成支付要求。
func BuildRequirements(networks *web3.Networks, req SettleRequest) (PaymentRequirements, error) {
	network, err := networks.Lookup(req.Network)
	if err != nil {
		return PaymentRequirements{}, err
	}
	if err := web3.ValidateAddress(req.PayTo); err != nil {
		return PaymentRequirements{}, err
	}
	amount, err := ParsePrice(req.Price, network)
	if err != nil {
		return PaymentRequirements{}, err
	}

	requirements := PaymentRequirements{
		Scheme:            "exact",
		Network:           network.Name,
		MaxAmountRequired: amount.Value.String(),
		Resource:          req.ResourceURL,
		Description:       req.RouteConfig.Description,
		MimeType:          req.RouteConfig.MimeType,
		PayTo:             strings.TrimSpace(req.PayTo),
		MaxTimeoutSeconds: req.RouteConfig.MaxTimeoutSeconds,
		Asset:             amount.Asset.Hex(),
	}
	if req.Method != "" {
		requirements.OutputSchema = map[string]any{
			"input": map[string]any{"type": "http", "method": strings.ToUpper(req.Method)},
		}
	}
	if amount.USD {
		requirements.Extra = map[string]any{"name": "USD Coin", "version": "2"}
	}
	return requirements, nil
}

// DecodePaymentHeader 解码 x-payment 头。
func DecodePaymentHeader(value string) (PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return PaymentPayload{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid payment header encoding")
	}
	var payload PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return PaymentPayload{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid payment header payload")
	}
	return payload, nil
}

// EncodePaymentHeader 是 DecodePaymentHeader 的逆操作，主要供客户端与测试使用。
func EncodePaymentHeader(payload PaymentPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("编码支付凭证失败: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func paymentRequired(reason string, requirements PaymentRequirements, payer string) PaymentRequired {
	return PaymentRequired{
		X402Version: X402Version,
		Error:       reason,
		Accepts:     []PaymentRequirements{requirements},
		Payer:       payer,
	}
}
