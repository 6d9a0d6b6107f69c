package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	apperrors "github.com/aihub/kbsync/internal/errors"
	"github.com/aihub/kbsync/internal/logger"
	"github.com/aihub/kbsync/internal/models"
	"github.com/aihub/kbsync/internal/services"
)

// ResyncRequest 重新同步请求消息
type ResyncRequest struct {
	OrganizationID  string `json:"organization_id"`
	ChatbotConfigID string `json:"chatbot_config_id"`
	SourceID        uint   `json:"source_id"`
	Reason          string `json:"reason,omitempty"`
}

// ParseResyncRequest 解析重新同步请求
func ParseResyncRequest(data []byte) (*ResyncRequest, error) {
	var req ResyncRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse resync request: %w", err)
	}
	return &req, nil
}

// SyncTrigger 触发单个源的同步
type SyncTrigger interface {
	Synchronize(ctx context.Context, scope models.TenantScope, sourceID uint) (*services.SyncResult, error)
}

// Consumer 重新同步请求消费者
// 从请求主题读取ResyncRequest并交给同步协调器执行
type Consumer struct {
	group       sarama.ConsumerGroup
	topic       string
	coordinator SyncTrigger
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewConsumer 创建重新同步请求消费者
func NewConsumer(brokers []string, groupID, topic string, coordinator SyncTrigger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true
	config.Version = sarama.V2_6_0_0

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
	}

	logger.Info("kafka consumer initialized",
		zap.Strings("brokers", brokers),
		zap.String("groupID", groupID),
		zap.String("topic", topic))
	return &Consumer{group: group, topic: topic, coordinator: coordinator}, nil
}

// Start 启动消费循环
func (c *Consumer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		handler := &resyncHandler{coordinator: c.coordinator, retryBackoff: transientRetryBackoff}
		for {
			select {
			case <-ctx.Done():
				logger.Info("kafka consumer stopped")
				return
			default:
				if err := c.group.Consume(ctx, []string{c.topic}, handler); err != nil {
					logger.Error("kafka consume failed", zap.Error(err))
					time.Sleep(5 * time.Second)
				}
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			logger.Error("kafka consumer error", zap.Error(err))
		}
	}()
}

// Close 关闭消费者
func (c *Consumer) Close() error {
	if c == nil {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if c.group != nil {
		return c.group.Close()
	}
	return nil
}

// 瞬态失败的就地重试参数
const (
	transientRetryAttempts = 3
	transientRetryBackoff  = 5 * time.Second
)

// resyncHandler 消费者组处理器
type resyncHandler struct {
	coordinator  SyncTrigger
	retryBackoff time.Duration
}

func (h *resyncHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *resyncHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim 逐条处理重新同步请求
// 业务性失败标记消费；瞬态失败就地重试，重试耗尽后不标记直接结束claim，
// 偏移量停在这条消息上，重新加入消费者组后从它开始重新投递。
// 跳过后继续消费会让后续消息的标记把偏移量提交过这条消息，等于悄悄丢弃。
func (h *resyncHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			if err := h.handleWithRetry(session.Context(), message); err != nil {
				if retryableRequest(err) {
					logger.Error("resync request still failing, leaving claim for redelivery",
						zap.Int32("partition", message.Partition),
						zap.Int64("offset", message.Offset),
						zap.Error(err))
					return err
				}
				logger.Error("resync request dropped",
					zap.Int32("partition", message.Partition),
					zap.Int64("offset", message.Offset),
					zap.Error(err))
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleWithRetry 对瞬态失败就地重试，业务性失败立刻返回
func (h *resyncHandler) handleWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	var err error
	for attempt := 0; attempt < transientRetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return err
			case <-time.After(h.retryBackoff):
			}
		}

		err = h.handle(ctx, message)
		if err == nil || !retryableRequest(err) {
			return err
		}
		logger.Warn("resync request failed, retrying",
			zap.Int32("partition", message.Partition),
			zap.Int64("offset", message.Offset),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return err
}

func (h *resyncHandler) handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	req, err := ParseResyncRequest(message.Value)
	if err != nil {
		return err
	}

	scope, err := models.NewTenantScope(req.OrganizationID, req.ChatbotConfigID)
	if err != nil {
		return err
	}

	_, err = h.coordinator.Synchronize(ctx, scope, req.SourceID)
	return err
}

// retryableRequest 判断请求是否值得重新投递
// 畸形消息、不存在的源和已在执行的同步都不应该重试
func retryableRequest(err error) bool {
	switch {
	case apperrors.HasCode(err, apperrors.ErrCodeNotFound),
		apperrors.HasCode(err, apperrors.ErrCodeAlreadyInProgress),
		apperrors.HasCode(err, apperrors.ErrCodeInvalidInput),
		apperrors.HasCode(err, apperrors.ErrCodeValidationFailed),
		apperrors.HasCode(err, apperrors.ErrCodeCrawlFailed):
		return false
	}
	return apperrors.IsAppError(err)
}
