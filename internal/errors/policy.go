package errors

import (
	"context"
	"errors"

	"github.com/aihub/kbsync/internal/models"
)

// FailureClass 失败分类
type FailureClass int

const (
	// FailureRetryable 瞬态失败，源状态保持不变，等待下次调度重试
	FailureRetryable FailureClass = iota
	// FailureTerminal 终态失败，源转入error状态并记录面向运营者的消息
	FailureTerminal
)

// DefaultMaxRetries 连续可重试失败升级为终态失败的次数上限
const DefaultMaxRetries = 3

// Outcome 错误策略的裁决结果
type Outcome struct {
	Class FailureClass
	// Status 源记录应转入的状态，空串表示保持当前状态
	Status string
	// OperatorMessage 写入源记录的已脱敏消息，只在终态失败时非空
	OperatorMessage string
}

// IngestionPolicy 摄取错误策略
// 区分可重试与终态失败，避免把网络抖动当作永久性的源问题暴露给租户
type IngestionPolicy struct {
	maxRetries int
}

// NewIngestionPolicy 创建摄取错误策略
func NewIngestionPolicy(maxRetries int) *IngestionPolicy {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &IngestionPolicy{maxRetries: maxRetries}
}

// MaxRetries 返回升级阈值
func (p *IngestionPolicy) MaxRetries() int {
	return p.maxRetries
}

// Classify 判定单次失败的类别
func (p *IngestionPolicy) Classify(err error) FailureClass {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureRetryable
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		return FailureTerminal
	}

	switch appErr.Code {
	case ErrCodeStoreUnavailable, ErrCodeEmbeddingFailed, ErrCodeDatabaseError:
		return FailureRetryable
	default:
		return FailureTerminal
	}
}

// Decide 结合累计重试次数裁决失败结果
// retryCount是本次失败之前已累计的可重试失败次数
func (p *IngestionPolicy) Decide(err error, retryCount int) Outcome {
	class := p.Classify(err)

	if class == FailureRetryable && retryCount+1 < p.maxRetries {
		return Outcome{Class: FailureRetryable}
	}

	return Outcome{
		Class:           FailureTerminal,
		Status:          models.SourceStatusError,
		OperatorMessage: operatorMessage(err, class == FailureRetryable),
	}
}

// operatorMessage 生成面向租户的错误摘要
// 绝不透出存储或爬虫的原始错误文本
func operatorMessage(err error, escalated bool) string {
	if escalated {
		return "Synchronization failed repeatedly and was suspended. Trigger a manual resync to retry."
	}

	var appErr *AppError
	if !errors.As(err, &appErr) {
		return "Synchronization failed due to an internal error."
	}

	switch appErr.Code {
	case ErrCodeCrawlFailed:
		return "The source could not be crawled. Check that the URL is reachable and allowed for crawling."
	case ErrCodeNotFound:
		return "The source is no longer available."
	case ErrCodeInvalidInput, ErrCodeValidationFailed:
		return "The source configuration is invalid."
	default:
		return "Synchronization failed due to an internal error."
	}
}
