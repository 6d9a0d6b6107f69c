package errors

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aihub/kbsync/internal/models"
)

// 同步周期阶段，用于错误归因
const (
	StageCrawl   = "crawl"
	StageCount   = "count"
	StageDelete  = "delete"
	StageEmbed   = "embed"
	StageUpsert  = "upsert"
	StagePersist = "persist"
)

// Prometheus指标
var (
	ingestionErrorTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbsync_ingestion_errors_total",
			Help: "Total number of ingestion errors by stage and code",
		},
		[]string{"stage", "code", "retryable"},
	)
)

// Tracker 摄取错误追踪器
// 记录失败本身绝不能让同步周期崩溃：所有内部错误被吞掉并降级为warn日志
type Tracker struct {
	db *gorm.DB
}

// NewTracker 创建错误追踪器，db可以为nil（只上报指标）
func NewTracker(db *gorm.DB) *Tracker {
	return &Tracker{db: db}
}

// Record 记录一次摄取失败
func (t *Tracker) Record(ctx context.Context, scope models.TenantScope, sourceID uint, stage string, class FailureClass, err error) {
	if err == nil {
		return
	}

	appErr := GetAppError(err)
	retryable := "false"
	if class == FailureRetryable {
		retryable = "true"
	}

	ingestionErrorTotal.WithLabelValues(stage, string(appErr.Code), retryable).Inc()

	if t.db == nil {
		return
	}

	record := &models.IngestionError{
		OrganizationID:  scope.OrganizationID,
		ChatbotConfigID: scope.ChatbotConfigID,
		SourceID:        sourceID,
		Stage:           stage,
		Code:            string(appErr.Code),
		Message:         appErr.Error(),
		Retryable:       class == FailureRetryable,
		CreateTime:      time.Now(),
	}

	// 监控写入失败不能级联成摄取失败
	if dbErr := t.db.WithContext(ctx).Create(record).Error; dbErr != nil {
		zap.L().Warn("failed to persist ingestion error",
			zap.Uint("source_id", sourceID),
			zap.String("stage", stage),
			zap.Error(dbErr))
	}
}

// RecentErrors 查询某个源最近的错误记录，用于诊断接口
func (t *Tracker) RecentErrors(ctx context.Context, scope models.TenantScope, sourceID uint, limit int) ([]models.IngestionError, error) {
	if t.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	var records []models.IngestionError
	err := t.db.WithContext(ctx).
		Where("organization_id = ? AND chatbot_config_id = ? AND source_id = ?",
			scope.OrganizationID, scope.ChatbotConfigID, sourceID).
		Order("create_time DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, NewSystemError(ErrCodeDatabaseError, "Failed to query ingestion errors").WithCause(err)
	}
	return records, nil
}
