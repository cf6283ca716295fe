package x402

import (
	"os"
	"strings"

	"ZyndAI-Connect/internal/config"
	"ZyndAI-Connect/internal/web3"
)

// SecretKeyEnv 是结算密钥的环境变量回退。
const SecretKeyEnv = "THIRDWEB_SECRET_KEY"

const (
	defaultPath              = "webhook"
	defaultPrice             = "$0.01"
	defaultDescription       = "Access to webhook endpoint"
	defaultMimeType          = "application/json"
	defaultMaxTimeoutSeconds = 300
)

// Options 是触发器节点的参数。
type Options struct {
	HTTPMethod            string
	Path                  string
	SecretKey             string
	ServerWalletAddress   string
	Price                 string
	Network               string
	PublicURL             string
	RequirePayment        bool
	Description           string
	MimeType              string
	MaxTimeoutSeconds     int
	IncludePaymentDetails bool
}

// OptionsFromConfig 将配置文件中的 webhook 段转换为触发器参数。
func OptionsFromConfig(cfg config.WebhookConfig) Options {
	opts := Options{
		HTTPMethod:            cfg.HTTPMethod,
		Path:                  cfg.Path,
		SecretKey:             cfg.SecretKey,
		ServerWalletAddress:   cfg.ServerWalletAddress,
		Price:                 cfg.Price,
		Network:               cfg.Network,
		PublicURL:             cfg.PublicURL,
		RequirePayment:        cfg.Options.RequirePaymentEnabled(),
		Description:           cfg.Options.Description,
		MimeType:              cfg.Options.MimeType,
		MaxTimeoutSeconds:     cfg.Options.MaxTimeoutSeconds,
		IncludePaymentDetails: cfg.Options.IncludePaymentDetailsEnabled(),
	}
	return opts.withDefaults()
}

func (o Options) withDefaults() Options {
	o.HTTPMethod = strings.ToUpper(strings.TrimSpace(o.HTTPMethod))
	if o.HTTPMethod == "" {
		o.HTTPMethod = "POST"
	}
	o.Path = strings.Trim(strings.TrimSpace(o.Path), "/")
	if o.Path == "" {
		o.Path = defaultPath
	}
	if o.Price == "" {
		o.Price = defaultPrice
	}
	if o.Network == "" {
		o.Network = web3.DefaultNetwork
	}
	if o.Description == "" {
		o.Description = defaultDescription
	}
	if o.MimeType == "" {
		o.MimeType = defaultMimeType
	}
	if o.MaxTimeoutSeconds <= 0 {
		o.MaxTimeoutSeconds = defaultMaxTimeoutSeconds
	}
	return o
}

// ResolveSecretKey 返回节点上配置的密钥，为空时读取环境变量。
func (o Options) ResolveSecretKey() string {
	if key := strings.TrimSpace(o.SecretKey); key != "" {
		return key
	}
	return strings.TrimSpace(os.Getenv(SecretKeyEnv))
}

// WebhookURL 返回该触发器对外暴露的地址，作为支付资源标识。
func (o Options) WebhookURL() string {
	base := o.PublicURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + "webhook/" + o.Path
}
