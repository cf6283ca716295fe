package dashboard

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// LoadAttachment 读取本地文件：图片编码为 data URL，其余文件按文本发送。
func LoadAttachment(path string) (*Attachment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取附件失败: %w", err)
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		contentType = http.DetectContentType(raw)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}

	attachment := &Attachment{Name: filepath.Base(path), Type: mediaType}
	if strings.HasPrefix(mediaType, "image/") {
		attachment.Data = "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(raw)
	} else {
		attachment.Data = string(raw)
	}
	return attachment, nil
}
