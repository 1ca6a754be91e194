package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrCredentialInvalid = errors.New("llm credential invalid")
	ErrQuotaExhausted    = errors.New("llm quota or capacity exhausted")
	ErrEmptyResponse     = errors.New("model returned empty text")
	ErrInvalidParams     = errors.New("invalid report parameters")
	ErrNoDraft           = errors.New("no draft document yet")
)

// 面向用户的提示文案。
const (
	MsgCredentialInvalid = "模型服务的 API 密钥无效，请检查配置后重试。"
	MsgQuotaExhausted    = "模型服务当前繁忙或已达到调用配额，请稍后再试。"
	MsgGenericFailure    = "抱歉，处理您的请求时出现问题，请稍后重试。"
	MsgToolAckFailed     = "报告已按要求更新，但未能获取模型的补充说明。"
	MsgDocumentUpdated   = "报告已更新。"
)

// ErrorKind is the classification driving retry decisions.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindCredential
	KindRetryable
)

func (k ErrorKind) String() string {
	switch k {
	case KindCredential:
		return "credential"
	case KindRetryable:
		return "retryable"
	default:
		return "other"
	}
}

// ProviderError is the normalized shape every adapter converts native SDK
// errors into before they reach Classify.
type ProviderError struct {
	StatusCode  int
	StatusToken string
	Message     string
	Err         error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString("provider error")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " %d", e.StatusCode)
	}
	if e.StatusToken != "" {
		fmt.Fprintf(&b, " %s", e.StatusToken)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

var credentialMarkers = []string{
	"api key not valid",
	"api_key_invalid",
	"invalid api key",
	"incorrect api key",
	"invalid_api_key",
	"unauthenticated",
	"invalid authentication",
}

var retryableTokens = map[string]bool{
	"RESOURCE_EXHAUSTED":  true,
	"UNAVAILABLE":         true,
	"INTERNAL":            true,
	"DEADLINE_EXCEEDED":   true,
	"RATE_LIMIT_EXCEEDED": true,
	"RATE_LIMIT_ERROR":    true,
	"OVERLOADED_ERROR":    true,
	"SERVER_ERROR":        true,
}

var retryableMarkers = []string{
	"rate limit",
	"rate-limit",
	"too many requests",
	"quota",
	"overloaded",
	"resource exhausted",
	"resource_exhausted",
	"temporarily unavailable",
	"service unavailable",
}

// Classify maps a normalized status triple to an ErrorKind. Credential
// failures take precedence over transient ones.
func Classify(statusCode int, statusToken, message string) ErrorKind {
	token := strings.ToUpper(strings.TrimSpace(statusToken))
	msg := strings.ToLower(message)

	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden || token == "UNAUTHENTICATED" {
		return KindCredential
	}
	for _, m := range credentialMarkers {
		if strings.Contains(msg, m) {
			return KindCredential
		}
	}

	if statusCode == http.StatusTooManyRequests || statusCode >= 500 || retryableTokens[token] {
		return KindRetryable
	}
	for _, m := range retryableMarkers {
		if strings.Contains(msg, m) {
			return KindRetryable
		}
	}
	return KindOther
}

// ClassifyError classifies any error. Errors already carrying a sentinel keep
// their class; context cancellation is never retried.
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return KindOther
	case errors.Is(err, ErrCredentialInvalid):
		return KindCredential
	case errors.Is(err, ErrQuotaExhausted):
		return KindRetryable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindOther
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return Classify(pe.StatusCode, pe.StatusToken, pe.Message)
	}
	return Classify(0, "", err.Error())
}

// UserMessage renders the localized text shown in place of a failed result.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrCredentialInvalid):
		return MsgCredentialInvalid
	case errors.Is(err, ErrQuotaExhausted):
		return MsgQuotaExhausted
	default:
		return MsgGenericFailure
	}
}
