package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"ZyndAI-Connect/pkg/logger"
)

// DefaultPath 是未指定 ZYND_CONFIG 时读取的配置文件。
const DefaultPath = "configs/zynd.json"

// Config 描述了 zyndd 在启动阶段需要加载的全部配置。
type Config struct {
	Server      ServerConfig      `json:"server"`
	Credentials CredentialsConfig `json:"credentials"`
	N8N         N8NConfig         `json:"n8n"`
	Webhook     WebhookConfig     `json:"webhook"`
	Facilitator FacilitatorConfig `json:"facilitator"`
	Web3        Web3Config        `json:"web3"`
	TaskQueue   TaskQueueConfig   `json:"task_queue"`
	Storage     StorageConfig     `json:"storage"`
	Logging     logger.Config     `json:"logging"`
	Dashboard   DashboardConfig   `json:"dashboard"`
	Alerting    AlertingConfig    `json:"alerting"`
	Runtime     RuntimeConfig     `json:"runtime"`
}

// ServerConfig 控制 HTTP 服务的监听地址与管理接口密钥。
type ServerConfig struct {
	Address     string `json:"address"`
	AdminAPIKey string `json:"admin_api_key"`
}

// CredentialsConfig 对应 ZyndAI API 凭证的三个字段。
type CredentialsConfig struct {
	APIURL    string `json:"api_url"`
	APIKey    string `json:"api_key"`
	N8NAPIKey string `json:"n8n_api_key"`
}

// N8NConfig 描述宿主 n8n 实例。
type N8NConfig struct {
	BaseURL    string `json:"base_url"`
	WorkflowID string `json:"workflow_id"`
}

// WebhookConfig 对应 X402 Webhook 节点的参数。
type WebhookConfig struct {
	HTTPMethod          string         `json:"http_method"`
	Path                string         `json:"path"`
	SecretKey           string         `json:"secret_key"`
	ServerWalletAddress string         `json:"server_wallet_address"`
	Price               string         `json:"price"`
	Network             string         `json:"network"`
	PublicURL           string         `json:"public_url"`
	ForwardURL          string         `json:"forward_url"`
	Options             WebhookOptions `json:"options"`
}

// WebhookOptions 对应节点的可选参数集合，未填写的布尔值按默认 true 处理。
type WebhookOptions struct {
	RequirePayment        *bool  `json:"require_payment"`
	Description           string `json:"description"`
	MimeType              string `json:"mime_type"`
	MaxTimeoutSeconds     int    `json:"max_timeout_seconds"`
	IncludePaymentDetails *bool  `json:"include_payment_details"`
}

// FacilitatorConfig 描述 x402 结算服务。
type FacilitatorConfig struct {
	URL            string            `json:"url"`
	ClientID       string            `json:"client_id"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	Idempotency    IdempotencyConfig `json:"idempotency"`
}

// IdempotencyConfig 控制结算结果缓存。
type IdempotencyConfig struct {
	Enabled    bool        `json:"enabled"`
	Driver     string      `json:"driver"`
	TTLSeconds int         `json:"ttl_seconds"`
	Redis      RedisConfig `json:"redis"`
}

// Web3Config 描述网络表覆盖文件与链上确认开关。
type Web3Config struct {
	NetworksFile  string `json:"networks_file"`
	VerifyOnchain bool   `json:"verify_onchain"`
}

// TaskQueueConfig 描述发布任务队列。
type TaskQueueConfig struct {
	Driver              string         `json:"driver"`
	Worker              int            `json:"worker"`
	MaxRetries          int            `json:"max_retries"`
	LeaseTimeoutSeconds int            `json:"lease_timeout_seconds"`
	Redis               RedisConfig    `json:"redis"`
	RabbitMQ            RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 为 Redis 连接参数。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	Prefix    string `json:"prefix"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 为 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// StorageConfig 统一描述任务与发布记录的存储后端。
type StorageConfig struct {
	JobStore     DatabaseConfig `json:"job_store"`
	Publications DatabaseConfig `json:"publications"`
}

// DatabaseConfig 描述一个 memory/mysql 存储。
type DatabaseConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// DashboardConfig 描述聊天客户端连接的仪表盘后端。
type DashboardConfig struct {
	BaseURL                string `json:"base_url"`
	StatusIntervalSeconds  int    `json:"status_interval_seconds"`
	ProfileIntervalSeconds int    `json:"profile_interval_seconds"`
	QueryTimeoutSeconds    int    `json:"query_timeout_seconds"`
}

// AlertingConfig 描述任务告警的投递方式。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件，并叠加环境变量。
// 默认路径的文件不存在时返回默认配置。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == DefaultPath {
			cfg := Default()
			return cfg, nil
		}
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

// Default 返回仅由默认值与环境变量组成的配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults(".")
	return cfg
}

// applyEnv 使用环境变量覆盖敏感字段。
func (c *Config) applyEnv() {
	override := func(target *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*target = v
		}
	}
	override(&c.Credentials.APIURL, "ZYND_API_URL")
	override(&c.Credentials.APIKey, "ZYND_API_KEY")
	override(&c.Credentials.N8NAPIKey, "N8N_API_KEY")
	override(&c.N8N.BaseURL, "N8N_BASE_URL")
	override(&c.Server.AdminAPIKey, "ZYND_ADMIN_API_KEY")
	override(&c.Dashboard.BaseURL, "ZYND_DASHBOARD_URL")
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.N8N.BaseURL == "" {
		c.N8N.BaseURL = "http://localhost:5678/"
	}

	if c.Webhook.HTTPMethod == "" {
		c.Webhook.HTTPMethod = "POST"
	}
	c.Webhook.HTTPMethod = strings.ToUpper(c.Webhook.HTTPMethod)
	if c.Webhook.Path == "" {
		c.Webhook.Path = "webhook"
	}
	if c.Webhook.Price == "" {
		c.Webhook.Price = "$0.01"
	}
	if c.Webhook.Network == "" {
		c.Webhook.Network = "base-sepolia"
	}
	if c.Webhook.PublicURL == "" {
		host := c.Server.Address
		if strings.HasPrefix(host, ":") {
			host = "localhost" + host
		}
		c.Webhook.PublicURL = "http://" + host + "/"
	}

	if c.Facilitator.URL == "" {
		c.Facilitator.URL = "https://api.thirdweb.com/v1/payments/x402"
	}
	if c.Facilitator.TimeoutSeconds <= 0 {
		c.Facilitator.TimeoutSeconds = 30
	}
	if c.Facilitator.Idempotency.Driver == "" {
		c.Facilitator.Idempotency.Driver = "memory"
	}
	if c.Facilitator.Idempotency.TTLSeconds <= 0 {
		c.Facilitator.Idempotency.TTLSeconds = 600
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Worker <= 0 {
		c.TaskQueue.Worker = 2
	}
	if c.TaskQueue.MaxRetries <= 0 {
		c.TaskQueue.MaxRetries = 1
	}
	if c.TaskQueue.LeaseTimeoutSeconds <= 0 {
		c.TaskQueue.LeaseTimeoutSeconds = 1800
	}

	if c.Storage.JobStore.Driver == "" {
		c.Storage.JobStore.Driver = "memory"
	}
	if c.Storage.Publications.Driver == "" {
		c.Storage.Publications.Driver = "memory"
	}

	if c.Dashboard.BaseURL == "" {
		c.Dashboard.BaseURL = "http://localhost:8081"
	}
	if c.Dashboard.StatusIntervalSeconds <= 0 {
		c.Dashboard.StatusIntervalSeconds = 15
	}
	if c.Dashboard.ProfileIntervalSeconds <= 0 {
		c.Dashboard.ProfileIntervalSeconds = 10
	}
	if c.Dashboard.QueryTimeoutSeconds <= 0 {
		c.Dashboard.QueryTimeoutSeconds = 60
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Web3.NetworksFile != "" && !filepath.IsAbs(c.Web3.NetworksFile) {
		c.Web3.NetworksFile = filepath.Join(baseDir, c.Web3.NetworksFile)
	}
}

// RequirePaymentEnabled 返回是否启用付费校验，默认开启。
func (o WebhookOptions) RequirePaymentEnabled() bool {
	return o.RequirePayment == nil || *o.RequirePayment
}

// IncludePaymentDetailsEnabled 返回是否在输出中附带支付信息，默认开启。
func (o WebhookOptions) IncludePaymentDetailsEnabled() bool {
	return o.IncludePaymentDetails == nil || *o.IncludePaymentDetails
}
