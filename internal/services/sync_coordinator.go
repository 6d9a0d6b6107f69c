package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/aihub/kbsync/internal/errors"
	"github.com/aihub/kbsync/internal/knowledge"
	"github.com/aihub/kbsync/internal/logger"
	"github.com/aihub/kbsync/internal/models"
	"github.com/aihub/kbsync/internal/repository"
	"github.com/aihub/kbsync/internal/synclock"
)

// SyncEvent 同步生命周期事件，发布到消息总线供下游消费
type SyncEvent struct {
	EventType       string             `json:"event_type"`
	Scope           models.TenantScope `json:"scope"`
	SourceID        uint               `json:"source_id"`
	SourceURL       string             `json:"source_url"`
	Status          string             `json:"status"`
	PagesCrawled    int                `json:"pages_crawled,omitempty"`
	ChunksUpserted  int                `json:"chunks_upserted,omitempty"`
	VectorsDeleted  int64              `json:"vectors_deleted,omitempty"`
	OperatorMessage string             `json:"operator_message,omitempty"`
	Timestamp       time.Time          `json:"timestamp"`
}

// 事件类型
const (
	EventSyncStarted   = "sync.started"
	EventSyncCompleted = "sync.completed"
	EventSyncFailed    = "sync.failed"
)

// SyncEventPublisher 同步事件发布接口
type SyncEventPublisher interface {
	PublishSyncEvent(ctx context.Context, event SyncEvent) error
}

// SyncResult 单次同步的结果
type SyncResult struct {
	SourceID        uint
	Scope           models.TenantScope
	PagesCrawled    int
	ExistingVectors int64
	VectorsDeleted  int64
	ChunksUpserted  int
	Duration        time.Duration
}

// SyncCoordinator 同步协调器
// 对单个源执行幂等的重新同步：统计、清理、重嵌入、覆盖写入
// 向量库不支持事务，协议顺序保证失败后重跑能收敛到一致状态
type SyncCoordinator struct {
	repo      repository.SourceRepository
	stateMach *SourceStateMachine
	store     knowledge.VectorStore
	crawler   knowledge.Crawler
	embedder  knowledge.Embedder
	locker    *synclock.Locker
	policy    *apperrors.IngestionPolicy
	tracker   *apperrors.Tracker
	publisher SyncEventPublisher
}

// NewSyncCoordinator 创建同步协调器
// publisher可以为nil，此时不发布生命周期事件
func NewSyncCoordinator(
	repo repository.SourceRepository,
	stateMach *SourceStateMachine,
	store knowledge.VectorStore,
	crawler knowledge.Crawler,
	embedder knowledge.Embedder,
	locker *synclock.Locker,
	policy *apperrors.IngestionPolicy,
	tracker *apperrors.Tracker,
	publisher SyncEventPublisher,
) *SyncCoordinator {
	return &SyncCoordinator{
		repo:      repo,
		stateMach: stateMach,
		store:     store,
		crawler:   crawler,
		embedder:  embedder,
		locker:    locker,
		policy:    policy,
		tracker:   tracker,
		publisher: publisher,
	}
}

// lockKey 同一源在同一租户范围内同时只允许一次同步
func lockKey(scope models.TenantScope, sourceID uint) string {
	return fmt.Sprintf("%s/%d", scope.Key(), sourceID)
}

// Synchronize 对单个源执行一次完整的重新同步
// 并发调用同一(scope, source)时，后到者收到ALREADY_IN_PROGRESS
func (c *SyncCoordinator) Synchronize(ctx context.Context, scope models.TenantScope, sourceID uint) (*SyncResult, error) {
	if scope.IsZero() {
		return nil, apperrors.NewInvalidInputError("Tenant scope is required")
	}

	release, err := c.locker.Acquire(ctx, lockKey(scope, sourceID))
	if err != nil {
		return nil, err
	}
	defer release()

	source, err := c.repo.GetByID(ctx, scope, sourceID)
	if err != nil {
		return nil, err
	}
	if !source.IsActive {
		// 停用的源对同步不可见
		return nil, apperrors.NewNotFoundError("source")
	}

	started := time.Now()
	c.publish(ctx, SyncEvent{
		EventType: EventSyncStarted,
		Scope:     scope,
		SourceID:  sourceID,
		SourceURL: source.URL,
		Status:    models.SourceStatusCrawling,
		Timestamp: started,
	})

	result, err := c.runProtocol(ctx, source)
	if err != nil {
		c.handleFailure(ctx, source, err)
		syncCyclesTotal.WithLabelValues(resultLabel(err)).Inc()
		return nil, err
	}

	result.Duration = time.Since(started)
	syncCyclesTotal.WithLabelValues("success").Inc()
	syncDurationSeconds.Observe(result.Duration.Seconds())
	vectorsDeletedTotal.Add(float64(result.VectorsDeleted))
	chunksUpsertedTotal.Add(float64(result.ChunksUpserted))

	c.publish(ctx, SyncEvent{
		EventType:      EventSyncCompleted,
		Scope:          scope,
		SourceID:       sourceID,
		SourceURL:      source.URL,
		Status:         models.SourceStatusCompleted,
		PagesCrawled:   result.PagesCrawled,
		ChunksUpserted: result.ChunksUpserted,
		VectorsDeleted: result.VectorsDeleted,
		Timestamp:      time.Now(),
	})

	logger.Info("source synchronized",
		zap.Uint("sourceID", sourceID),
		zap.String("organizationID", scope.OrganizationID),
		zap.Int("pages", result.PagesCrawled),
		zap.Int64("deleted", result.VectorsDeleted),
		zap.Int("upserted", result.ChunksUpserted),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// runProtocol 执行同步协议本体
// 顺序不可调换：先统计再清理，清理完才写入新向量
func (c *SyncCoordinator) runProtocol(ctx context.Context, source *models.WebsiteSource) (*SyncResult, error) {
	scope := source.Scope()
	result := &SyncResult{SourceID: source.SourceID, Scope: scope}

	if err := c.stateMach.Transition(ctx, source, models.SourceStatusCrawling, map[string]interface{}{
		"error_message": "",
	}); err != nil {
		return nil, c.stageErr(ctx, source, apperrors.StagePersist, err)
	}

	settings := source.Settings()
	items, err := c.crawler.Crawl(ctx, source.URL, settings)
	if err != nil {
		return nil, c.stageErr(ctx, source, apperrors.StageCrawl, err)
	}
	result.PagesCrawled = len(items)

	if err := c.stateMach.Transition(ctx, source, models.SourceStatusVectorizing, nil); err != nil {
		return nil, c.stageErr(ctx, source, apperrors.StagePersist, err)
	}

	filter, err := knowledge.NewVectorFilter(scope, source.SourceType)
	if err != nil {
		return nil, err
	}
	filter = filter.WithURLPrefix(source.URL)

	existing, err := c.store.Count(ctx, filter)
	if err != nil {
		return nil, c.stageErr(ctx, source, apperrors.StageCount, err)
	}
	result.ExistingVectors = existing

	// 零计数直接跳过删除，空目标上的删除没有意义也可能超时
	if existing > 0 {
		deleted, err := c.store.DeleteByFilter(ctx, filter)
		if err != nil {
			return nil, c.stageErr(ctx, source, apperrors.StageDelete, err)
		}
		result.VectorsDeleted = deleted
	}

	chunks, err := c.embedder.EmbedItems(ctx, scope, source.SourceType, items)
	if err != nil {
		return nil, c.stageErr(ctx, source, apperrors.StageEmbed, err)
	}

	if len(chunks) > 0 {
		if err := c.store.Upsert(ctx, scope, chunks); err != nil {
			return nil, c.stageErr(ctx, source, apperrors.StageUpsert, err)
		}
	}
	result.ChunksUpserted = len(chunks)

	now := time.Now()
	if err := c.stateMach.Transition(ctx, source, models.SourceStatusCompleted, map[string]interface{}{
		"page_count":     result.PagesCrawled,
		"last_synced_at": now,
		"error_message":  "",
		"retry_count":    0,
	}); err != nil {
		return nil, c.stageErr(ctx, source, apperrors.StagePersist, err)
	}
	source.PageCount = result.PagesCrawled
	source.LastSyncedAt = &now
	source.RetryCount = 0

	return result, nil
}

// stageErr 记录失败所处的阶段，供错误追踪与指标使用
func (c *SyncCoordinator) stageErr(ctx context.Context, source *models.WebsiteSource, stage string, err error) error {
	if c.tracker != nil {
		c.tracker.Record(ctx, source.Scope(), source.SourceID, stage, c.policy.Classify(err), err)
	}
	return err
}

// handleFailure 按错误策略裁决失败结果并更新源记录
// 记录失败结果本身失败时只记日志，错误处理不级联
func (c *SyncCoordinator) handleFailure(ctx context.Context, source *models.WebsiteSource, cause error) {
	outcome := c.policy.Decide(cause, source.RetryCount)
	scope := source.Scope()

	// 持久化用独立上下文，原上下文可能已被取消
	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if outcome.Class == apperrors.FailureRetryable {
		err := c.repo.Updates(persistCtx, scope, source.SourceID, map[string]interface{}{
			"retry_count": source.RetryCount + 1,
		})
		if err != nil {
			logger.Error("failed to persist retry count",
				zap.Uint("sourceID", source.SourceID), zap.Error(err))
		}
		logger.Warn("sync failed, will retry on next cycle",
			zap.Uint("sourceID", source.SourceID),
			zap.String("organizationID", scope.OrganizationID),
			zap.Int("retryCount", source.RetryCount+1),
			zap.Error(cause))
		return
	}

	err := c.stateMach.Transition(persistCtx, source, models.SourceStatusError, map[string]interface{}{
		"error_message": outcome.OperatorMessage,
		"retry_count":   0,
	})
	if err != nil {
		logger.Error("failed to persist error status",
			zap.Uint("sourceID", source.SourceID), zap.Error(err))
	}

	c.publish(persistCtx, SyncEvent{
		EventType:       EventSyncFailed,
		Scope:           scope,
		SourceID:        source.SourceID,
		SourceURL:       source.URL,
		Status:          models.SourceStatusError,
		OperatorMessage: outcome.OperatorMessage,
		Timestamp:       time.Now(),
	})

	logger.Error("sync failed permanently",
		zap.Uint("sourceID", source.SourceID),
		zap.String("organizationID", scope.OrganizationID),
		zap.Error(cause))
}

// publish 发布事件，发布失败不影响同步结果
func (c *SyncCoordinator) publish(ctx context.Context, event SyncEvent) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishSyncEvent(ctx, event); err != nil {
		logger.Warn("failed to publish sync event",
			zap.String("eventType", event.EventType),
			zap.Uint("sourceID", event.SourceID),
			zap.Error(err))
	}
}

// resultLabel 失败指标按错误码归类
func resultLabel(err error) string {
	return string(apperrors.GetAppError(err).Code)
}
