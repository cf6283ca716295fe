package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
)

// Common errors returned by the authentication subsystem.
var (
	ErrMissingKey = errors.New("missing api key")
	ErrInvalidKey = errors.New("invalid api key")
)

// APIKeyHeader 是管理接口读取密钥的请求头。
const APIKeyHeader = "X-API-Key"

// Subject identifies the caller of an admin request.
type Subject struct {
	Name        string
	Fingerprint string
}

// Service 使用单一管理密钥校验请求。密钥为空时不做校验。
type Service struct {
	key []byte
}

// NewService 创建管理密钥校验服务。
func NewService(apiKey string) *Service {
	return &Service{key: []byte(strings.TrimSpace(apiKey))}
}

// Enabled 判断是否配置了管理密钥。
func (s *Service) Enabled() bool {
	return s != nil && len(s.key) > 0
}

// AuthenticateRequest 从 X-API-Key 或 Bearer 头中读取密钥并比对。
func (s *Service) AuthenticateRequest(r *http.Request) (*Subject, error) {
	presented := strings.TrimSpace(r.Header.Get(APIKeyHeader))
	if presented == "" {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
			presented = strings.TrimSpace(header[7:])
		}
	}
	if presented == "" {
		return nil, ErrMissingKey
	}
	if subtle.ConstantTimeCompare([]byte(presented), s.key) != 1 {
		return nil, ErrInvalidKey
	}
	sum := sha256.Sum256(s.key)
	return &Subject{Name: "admin", Fingerprint: hex.EncodeToString(sum[:4])}, nil
}
