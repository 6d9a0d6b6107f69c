package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/aihub/kbsync/internal/logger"
	"github.com/aihub/kbsync/internal/services"
)

// Producer 同步事件生产者
// 实现services.SyncEventPublisher，把生命周期事件发往事件主题
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

// NewProducer 创建同步事件生产者
func NewProducer(brokers []string, topic string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	logger.Info("kafka producer initialized",
		zap.Strings("brokers", brokers), zap.String("topic", topic))
	return &Producer{producer: producer, topic: topic}, nil
}

// PublishSyncEvent 发布同步生命周期事件
// 消息键是租户范围加源ID，同一个源的事件保持分区内有序
func (p *Producer) PublishSyncEvent(ctx context.Context, event services.SyncEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal sync event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(fmt.Sprintf("%s/%d", event.Scope.Key(), event.SourceID)),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.EventType)},
			{Key: []byte("organization_id"), Value: []byte(event.Scope.OrganizationID)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send sync event: %w", err)
	}

	logger.Debug("sync event published",
		zap.String("eventType", event.EventType),
		zap.Uint("sourceID", event.SourceID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
