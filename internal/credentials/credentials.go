// Package credentials 定义 ZyndAI API 凭证类型及其字段描述。
package credentials

import (
	"strings"

	xerrors "ZyndAI-Connect/internal/errors"
)

const (
	// Name 是凭证类型的内部名称。
	Name = "zyndAiApi"
	// DisplayName 是凭证类型的展示名称。
	DisplayName = "ZyndAI API"
	// DocumentationURL 指向鉴权文档。
	DocumentationURL = "https://docs.zynd.ai/authentication"
	// DefaultAPIURL 是注册中心的默认地址。
	DefaultAPIURL = "https://registry.zynd.ai"
)

// Field 描述凭证中的一个字符串字段。
type Field struct {
	DisplayName string `json:"displayName"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Default     string `json:"default"`
	Required    bool   `json:"required"`
	Placeholder string `json:"placeholder"`
	Description string `json:"description"`
}

var fields = []Field{
	{
		DisplayName: "API URL",
		Name:        "apiUrl",
		Type:        "string",
		Default:     DefaultAPIURL,
		Required:    false,
		Placeholder: DefaultAPIURL,
		Description: "The base URL of the ZyndAI registry API",
	},
	{
		DisplayName: "Zynd API Key",
		Name:        "apiKey",
		Type:        "string",
		Required:    true,
		Placeholder: "zynd_...",
		Description: "Generate API key from https://dashboard.zynd.ai",
	},
	{
		DisplayName: "N8N API Key",
		Name:        "n8nApiKey",
		Type:        "string",
		Required:    true,
		Placeholder: "eyJhbGciOi...",
		Description: "Generate N8N API key from n8n settings",
	},
}

// Descriptor 返回凭证字段列表的副本。
func Descriptor() []Field {
	out := make([]Field, len(fields))
	copy(out, fields)
	return out
}

// ZyndAIAPI 保存一组凭证取值。
type ZyndAIAPI struct {
	APIURL    string `json:"apiUrl"`
	APIKey    string `json:"apiKey"`
	N8NAPIKey string `json:"n8nApiKey"`
}

// Normalize 去除首尾空白，补全默认 API 地址并去掉末尾的斜杠。
func (c ZyndAIAPI) Normalize() ZyndAIAPI {
	c.APIURL = strings.TrimSpace(c.APIURL)
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.N8NAPIKey = strings.TrimSpace(c.N8NAPIKey)
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	return c
}

// Validate 检查所有必填字段。
func (c ZyndAIAPI) Validate() error {
	values := map[string]string{
		"apiUrl":    c.APIURL,
		"apiKey":    c.APIKey,
		"n8nApiKey": c.N8NAPIKey,
	}
	var missing []string
	for _, f := range fields {
		if f.Required && strings.TrimSpace(values[f.Name]) == "" {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "缺少必填凭证字段: "+strings.Join(missing, ", "))
	}
	return nil
}
