package n8n

import (
	"fmt"

	"github.com/itchyny/gojq"
)

// WebhookNodeType 是 n8n 内置 Webhook 触发节点的类型名。
const WebhookNodeType = "n8n-nodes-base.webhook"

var webhookIDQuery *gojq.Code

func init() {
	query, err := gojq.Parse(`first(.nodes[]? | select(.type == $type)) | .webhookId // empty`)
	if err != nil {
		panic(fmt.Sprintf("parse webhook query: %v", err))
	}
	code, err := gojq.Compile(query, gojq.WithVariables([]string{"$type"}))
	if err != nil {
		panic(fmt.Sprintf("compile webhook query: %v", err))
	}
	webhookIDQuery = code
}

// FindWebhookID 返回第一个 Webhook 节点的 webhookId；没有该节点或未设置时返回空串。
func (w *Workflow) FindWebhookID() (string, error) {
	if w == nil {
		return "", nil
	}
	iter := webhookIDQuery.Run(w.doc, WebhookNodeType)
	for {
		v, ok := iter.Next()
		if !ok {
			return "", nil
		}
		if err, isErr := v.(error); isErr {
			return "", fmt.Errorf("查询 webhook 节点失败: %w", err)
		}
		switch id := v.(type) {
		case string:
			return id, nil
		case nil:
			continue
		default:
			return fmt.Sprint(id), nil
		}
	}
}
