package auth

import "context"

// Anonymous 是未启用管理密钥时记录的提交者。
const Anonymous = "anonymous"

type subjectKey struct{}

// WithSubject 记录通过管理密钥校验的调用方。
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	if subject == nil {
		return ctx
	}
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext 返回 Middleware 写入的调用方；未启用管理密钥时为 nil。
func SubjectFromContext(ctx context.Context) *Subject {
	if ctx == nil {
		return nil
	}
	subject, _ := ctx.Value(subjectKey{}).(*Subject)
	return subject
}

// Submitter 返回写入发布任务的提交者标识，格式为 name:fingerprint。
func Submitter(ctx context.Context) string {
	subject := SubjectFromContext(ctx)
	if subject == nil {
		return Anonymous
	}
	if subject.Fingerprint == "" {
		return subject.Name
	}
	return subject.Name + ":" + subject.Fingerprint
}
