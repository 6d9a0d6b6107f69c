package errors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aihub/kbsync/internal/models"
)

func TestClassify(t *testing.T) {
	policy := NewIngestionPolicy(3)

	tests := []struct {
		name     string
		err      error
		expected FailureClass
	}{
		{"store unavailable is retryable", NewStoreUnavailableError("count", nil), FailureRetryable},
		{"embedding failure is retryable", NewEmbeddingFailedError(nil), FailureRetryable},
		{"database error is retryable", NewSystemError(ErrCodeDatabaseError, "db down"), FailureRetryable},
		{"deadline is retryable", context.DeadlineExceeded, FailureRetryable},
		{"cancellation is retryable", context.Canceled, FailureRetryable},
		{"crawl failure is terminal", NewCrawlFailedError("bad url", nil), FailureTerminal},
		{"not found is terminal", NewNotFoundError("source"), FailureTerminal},
		{"plain error is terminal", errors.New("boom"), FailureTerminal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, policy.Classify(tt.err))
		})
	}
}

func TestDecideRetryableBelowThreshold(t *testing.T) {
	policy := NewIngestionPolicy(3)
	outcome := policy.Decide(NewStoreUnavailableError("count", nil), 0)
	assert.Equal(t, FailureRetryable, outcome.Class)
	assert.Empty(t, outcome.Status)
	assert.Empty(t, outcome.OperatorMessage)
}

func TestDecideEscalatesAtThreshold(t *testing.T) {
	policy := NewIngestionPolicy(3)
	// 这次失败是第3次连续可重试失败
	outcome := policy.Decide(NewStoreUnavailableError("count", nil), 2)
	assert.Equal(t, FailureTerminal, outcome.Class)
	assert.Equal(t, models.SourceStatusError, outcome.Status)
	assert.Contains(t, outcome.OperatorMessage, "manual resync")
}

func TestDecideTerminalIgnoresRetryCount(t *testing.T) {
	policy := NewIngestionPolicy(3)
	outcome := policy.Decide(NewCrawlFailedError("dns failure: internal-host.corp", nil), 0)
	assert.Equal(t, FailureTerminal, outcome.Class)
	assert.Equal(t, models.SourceStatusError, outcome.Status)
	// 运营者消息经过脱敏，不包含原始错误细节
	assert.NotContains(t, outcome.OperatorMessage, "internal-host.corp")
	assert.NotEmpty(t, outcome.OperatorMessage)
}

func TestHasCode(t *testing.T) {
	err := NewNotFoundError("source")
	assert.True(t, HasCode(err, ErrCodeNotFound))
	assert.False(t, HasCode(err, ErrCodeCrawlFailed))

	wrapped := NewSystemError(ErrCodeDatabaseError, "query failed").WithCause(errors.New("conn reset"))
	assert.True(t, HasCode(wrapped, ErrCodeDatabaseError))
	assert.False(t, HasCode(errors.New("plain"), ErrCodeDatabaseError))
}
