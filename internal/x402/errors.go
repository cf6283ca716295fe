package x402

import (
	"net/http"

	xerrors "ZyndAI-Connect/internal/errors"
)

const (
	// CodePaymentConfiguration 表示触发器缺少必要的支付配置。
	CodePaymentConfiguration xerrors.Code = "PAYMENT_CONFIGURATION"
	// CodePaymentSettlementFailed 表示与结算服务的交互失败。
	CodePaymentSettlementFailed xerrors.Code = "PAYMENT_SETTLEMENT_FAILED"
)

func init() {
	xerrors.Register(CodePaymentConfiguration, xerrors.Attributes{
		Message:    "payment configuration error",
		Severity:   xerrors.SeverityCritical,
		Alert:      true,
		HTTPStatus: http.StatusInternalServerError,
	})
	xerrors.Register(CodePaymentSettlementFailed, xerrors.Attributes{
		Message:    "payment settlement failed",
		Severity:   xerrors.SeverityWarning,
		Retryable:  true,
		HTTPStatus: http.StatusBadGateway,
	})
}
