package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/kbsync/internal/errors"
	"github.com/aihub/kbsync/internal/models"
	"github.com/aihub/kbsync/internal/services"
)

// fakeTrigger 按调用顺序返回预设结果，超出部分沿用最后一个
type fakeTrigger struct {
	calls int
	errs  []error
}

func (f *fakeTrigger) Synchronize(ctx context.Context, scope models.TenantScope, sourceID uint) (*services.SyncResult, error) {
	idx := f.calls
	f.calls++
	if len(f.errs) == 0 {
		return &services.SyncResult{SourceID: sourceID, Scope: scope}, nil
	}
	if idx >= len(f.errs) {
		idx = len(f.errs) - 1
	}
	if f.errs[idx] == nil {
		return &services.SyncResult{SourceID: sourceID, Scope: scope}, nil
	}
	return nil, f.errs[idx]
}

type fakeSession struct {
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32 { return nil }
func (s *fakeSession) MemberID() string           { return "test-member" }
func (s *fakeSession) GenerationID() int32        { return 1 }

func (s *fakeSession) MarkOffset(topic string, partition int32, offset int64, meta string)  {}
func (s *fakeSession) Commit()                                                              {}
func (s *fakeSession) ResetOffset(topic string, partition int32, offset int64, meta string) {}
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, meta string) {
	s.marked = append(s.marked, msg.Offset)
}
func (s *fakeSession) Context() context.Context { return s.ctx }

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "kbsync-requests" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func requestMessage(t *testing.T, offset int64, sourceID uint) *sarama.ConsumerMessage {
	t.Helper()
	value, err := json.Marshal(ResyncRequest{
		OrganizationID:  "org-1",
		ChatbotConfigID: "bot-1",
		SourceID:        sourceID,
	})
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: "kbsync-requests", Offset: offset, Value: value}
}

func newClaimWith(messages ...*sarama.ConsumerMessage) *fakeClaim {
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, len(messages))}
	for _, m := range messages {
		claim.messages <- m
	}
	close(claim.messages)
	return claim
}

func TestConsumeClaimMarksSuccessfulRequest(t *testing.T) {
	handler := &resyncHandler{coordinator: &fakeTrigger{}, retryBackoff: time.Millisecond}
	session := &fakeSession{ctx: context.Background()}

	err := handler.ConsumeClaim(session, newClaimWith(requestMessage(t, 3, 7)))
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, session.marked)
}

func TestConsumeClaimMarksBusinessFailure(t *testing.T) {
	trigger := &fakeTrigger{errs: []error{apperrors.NewNotFoundError("source")}}
	handler := &resyncHandler{coordinator: trigger, retryBackoff: time.Millisecond}
	session := &fakeSession{ctx: context.Background()}

	err := handler.ConsumeClaim(session, newClaimWith(requestMessage(t, 3, 7)))
	require.NoError(t, err)
	// 业务性失败不重试，直接标记丢弃
	assert.Equal(t, 1, trigger.calls)
	assert.Equal(t, []int64{3}, session.marked)
}

func TestConsumeClaimRetriesTransientFailureInPlace(t *testing.T) {
	trigger := &fakeTrigger{errs: []error{apperrors.NewStoreUnavailableError("count", nil), nil}}
	handler := &resyncHandler{coordinator: trigger, retryBackoff: time.Millisecond}
	session := &fakeSession{ctx: context.Background()}

	err := handler.ConsumeClaim(session, newClaimWith(requestMessage(t, 3, 7)))
	require.NoError(t, err)
	assert.Equal(t, 2, trigger.calls)
	assert.Equal(t, []int64{3}, session.marked)
}

func TestConsumeClaimLeavesPersistentTransientFailureUnmarked(t *testing.T) {
	trigger := &fakeTrigger{errs: []error{apperrors.NewStoreUnavailableError("count", nil)}}
	handler := &resyncHandler{coordinator: trigger, retryBackoff: time.Millisecond}
	session := &fakeSession{ctx: context.Background()}

	// 两条消息：第一条持续瞬态失败，第二条根本不应该被消费，
	// 否则它的标记会把偏移量提交过第一条，等于悄悄丢弃
	claim := newClaimWith(requestMessage(t, 3, 7), requestMessage(t, 4, 8))

	err := handler.ConsumeClaim(session, claim)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeStoreUnavailable))
	assert.Equal(t, transientRetryAttempts, trigger.calls)
	assert.Empty(t, session.marked)
}

func TestRetryableRequestClassification(t *testing.T) {
	assert.True(t, retryableRequest(apperrors.NewStoreUnavailableError("count", nil)))
	assert.True(t, retryableRequest(apperrors.NewEmbeddingFailedError(nil)))

	assert.False(t, retryableRequest(apperrors.NewNotFoundError("source")))
	assert.False(t, retryableRequest(apperrors.NewAlreadyInProgressError("org-1/bot-1/7")))
	assert.False(t, retryableRequest(apperrors.NewCrawlFailedError("unreachable", nil)))
	assert.False(t, retryableRequest(assert.AnError))
}
