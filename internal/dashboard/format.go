package dashboard

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// StrippedPlaceholder 替换消息中过长的 base64 数据。
const StrippedPlaceholder = "[FILE DATA STRIPPED]"

const stripThreshold = 5000

var (
	dataURLPattern = regexp.MustCompile(`data:.*?;base64,[A-Za-z0-9+/=]{100,}`)
	boldPattern    = regexp.MustCompile(`\*\*(.*?)\*\*`)
)

type textPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NormalizeMessage 将任意消息转换为可展示的文本：
// 形如 [{"type":"text",...}] 的 JSON 只保留文本片段，超长消息中的 data URL 被替换。
func NormalizeMessage(message any) string {
	text, ok := message.(string)
	if !ok {
		raw, err := json.Marshal(message)
		if err != nil {
			text = fmt.Sprint(message)
		} else {
			text = string(raw)
		}
	}

	if strings.HasPrefix(strings.TrimSpace(text), "[{") && strings.Contains(text, `"type":"text"`) {
		var parts []textPart
		if err := json.Unmarshal([]byte(text), &parts); err == nil {
			texts := make([]string, 0, len(parts))
			for _, part := range parts {
				if part.Type == "text" {
					texts = append(texts, part.Text)
				}
			}
			text = strings.Join(texts, "\n")
		}
	}

	if len(text) > stripThreshold && strings.Contains(text, ";base64,") {
		text = dataURLPattern.ReplaceAllString(text, StrippedPlaceholder)
	}
	return text
}

// RenderBold 使用 bold 渲染 **加粗** 片段。
func RenderBold(text string, bold func(a ...interface{}) string) string {
	return boldPattern.ReplaceAllStringFunc(text, func(match string) string {
		return bold(match[2 : len(match)-2])
	})
}
