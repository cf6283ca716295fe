package x402

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	xerrors "ZyndAI-Connect/internal/errors"
	"ZyndAI-Connect/internal/httpx"
	"ZyndAI-Connect/internal/web3"
)

// DefaultFacilitatorURL 是 thirdweb 的 x402 结算服务。
const DefaultFacilitatorURL = "https://api.thirdweb.com/v1/payments/x402"

// FacilitatorConfig 配置 HTTP 结算客户端。
type FacilitatorConfig struct {
	URL        string
	ClientID   string
	Timeout    time.Duration
	Networks   *web3.Networks
	HTTPClient *http.Client
}

// Facilitator 通过结算服务的 /verify 与 /settle 接口完成 x402 结算。
type Facilitator struct {
	baseURL    string
	clientID   string
	networks   *web3.Networks
	httpClient *http.Client
}

type facilitatorRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

type verifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason"`
	Payer         string `json:"payer"`
}

type settleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
}

// NewFacilitator 创建结算客户端。
func NewFacilitator(cfg FacilitatorConfig) *Facilitator {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		baseURL = DefaultFacilitatorURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	networks := cfg.Networks
	if networks == nil {
		networks = web3.DefaultNetworks()
	}
	return &Facilitator{
		baseURL:    strings.TrimRight(baseURL, "/"),
		clientID:   cfg.ClientID,
		networks:   networks,
		httpClient: client,
	}
}

// Name 返回结算服务地址。
func (f *Facilitator) Name() string {
	return f.baseURL
}

// Settle 实现 Settler。
func (f *Facilitator) Settle(ctx context.Context, req SettleRequest) (SettleResult, error) {
	requirements, err := BuildRequirements(f.networks, req)
	if err != nil {
		return SettleResult{}, err
	}
	if strings.TrimSpace(req.PaymentData) == "" {
		return challenge("X-PAYMENT header is required", requirements, ""), nil
	}

	payload, err := DecodePaymentHeader(req.PaymentData)
	if err != nil {
		return challenge("Invalid payment header", requirements, ""), nil
	}
	if payload.Network != "" && !strings.EqualFold(payload.Network, requirements.Network) {
		return challenge("Payment network mismatch", requirements, ""), nil
	}
	if payload.X402Version == 0 {
		payload.X402Version = X402Version
	}

	headers := map[string]string{"x-secret-key": req.SecretKey}
	if f.clientID != "" {
		headers["x-client-id"] = f.clientID
	}
	client := httpx.New(f.baseURL, f.httpClient, headers)
	body := facilitatorRequest{
		X402Version:         X402Version,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	}

	var verified verifyResponse
	if err := client.DoJSON(ctx, http.MethodPost, "verify", body, &verified); err != nil {
		if rejected, ok := rejection(err, requirements); ok {
			return rejected, nil
		}
		return SettleResult{}, settlementError(err, "verify payment")
	}
	if !verified.IsValid {
		reason := verified.InvalidReason
		if reason == "" {
			reason = "Payment verification failed"
		}
		return challenge(reason, requirements, verified.Payer), nil
	}

	var settled settleResponse
	if err := client.DoJSON(ctx, http.MethodPost, "settle", body, &settled); err != nil {
		if rejected, ok := rejection(err, requirements); ok {
			return rejected, nil
		}
		return SettleResult{}, settlementError(err, "settle payment")
	}
	if !settled.Success {
		reason := settled.ErrorReason
		if reason == "" {
			reason = "Payment settlement failed"
		}
		return challenge(reason, requirements, settled.Payer), nil
	}
	if settled.Payer == "" {
		settled.Payer = verified.Payer
	}
	if settled.Network == "" {
		settled.Network = requirements.Network
	}

	receipt, err := json.Marshal(settled)
	if err != nil {
		return SettleResult{}, xerrors.Wrap(CodePaymentSettlementFailed, err, "encode payment response")
	}
	return SettleResult{
		Status:          http.StatusOK,
		ResponseBody:    settled,
		ResponseHeaders: map[string]string{PaymentResponseHeader: base64.StdEncoding.EncodeToString(receipt)},
		Transaction:     settled.Transaction,
		Payer:           settled.Payer,
	}, nil
}

func challenge(reason string, requirements PaymentRequirements, payer string) SettleResult {
	return SettleResult{
		Status:       http.StatusPaymentRequired,
		ResponseBody: paymentRequired(reason, requirements, payer),
		Payer:        payer,
	}
}

// rejection 将结算服务返回的 4xx 视为支付被拒绝。
func rejection(err error, requirements PaymentRequirements) (SettleResult, bool) {
	var apiErr *httpx.APIError
	if !errors.As(err, &apiErr) {
		return SettleResult{}, false
	}
	if apiErr.StatusCode < 400 || apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests {
		return SettleResult{}, false
	}
	reason := apiErr.Message
	if reason == "" {
		reason = "Payment verification failed"
	}
	return challenge(reason, requirements, ""), true
}

func settlementError(err error, action string) error {
	return xerrors.Wrap(CodePaymentSettlementFailed, err, action,
		xerrors.WithRetryable(httpx.Retryable(err)))
}
