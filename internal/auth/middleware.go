package auth

import (
	"net/http"
	"time"

	loggerpkg "ZyndAI-Connect/pkg/logger"
)

// Middleware 返回一个 HTTP 中间件，校验管理密钥并记录审计日志。
func (s *Service) Middleware(auditEvent string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			logger := loggerpkg.Audit()
			subject, err := s.AuthenticateRequest(r)
			if err != nil {
				status := http.StatusUnauthorized
				if err == ErrInvalidKey {
					status = http.StatusForbidden
				}
				http.Error(w, http.StatusText(status), status)
				logger.Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", status,
					"error", err.Error(),
				)
				return
			}
			// 记录审计日志。
			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithSubject(r.Context(), subject)))
			event := auditEvent
			if event == "" {
				event = r.URL.Path
			}
			logger.Info("api_request",
				"event", event,
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"user", subject.Name,
				"key", subject.Fingerprint,
			)
		})
	}
}

// auditWriter 是一个包装了 http.ResponseWriter 的结构体，用于捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
