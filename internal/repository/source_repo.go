package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/aihub/kbsync/internal/errors"
	"github.com/aihub/kbsync/internal/models"
)

// SourceRepository 源记录仓库
// 状态字段的写入要求立刻对后续读取可见，所以这里不做任何缓存
type SourceRepository interface {
	Create(ctx context.Context, source *models.WebsiteSource) error
	GetByID(ctx context.Context, scope models.TenantScope, sourceID uint) (*models.WebsiteSource, error)
	ListByScope(ctx context.Context, scope models.TenantScope, activeOnly bool) ([]models.WebsiteSource, error)
	ListSyncCandidates(ctx context.Context) ([]models.WebsiteSource, error)
	Updates(ctx context.Context, scope models.TenantScope, sourceID uint, updates map[string]interface{}) error
	SetActive(ctx context.Context, scope models.TenantScope, sourceID uint, active bool) error
}

// sourceRepository 基于GORM的实现
type sourceRepository struct {
	db *gorm.DB
}

// NewSourceRepository 创建源记录仓库
func NewSourceRepository(db *gorm.DB) SourceRepository {
	return &sourceRepository{db: db}
}

// Create 创建源记录，新记录总是pending状态
func (r *sourceRepository) Create(ctx context.Context, source *models.WebsiteSource) error {
	now := time.Now()
	source.Status = models.SourceStatusPending
	source.CreateTime = now
	source.UpdateTime = now
	if err := r.db.WithContext(ctx).Create(source).Error; err != nil {
		return apperrors.NewSystemError(apperrors.ErrCodeDatabaseError, "Failed to create source").WithCause(err)
	}
	return nil
}

// GetByID 按租户范围加载源记录
// 记录不存在与数据库故障用不同错误码区分；加载时归一化未知状态值
func (r *sourceRepository) GetByID(ctx context.Context, scope models.TenantScope, sourceID uint) (*models.WebsiteSource, error) {
	var source models.WebsiteSource
	err := r.db.WithContext(ctx).
		Where("source_id = ? AND organization_id = ? AND chatbot_config_id = ?",
			sourceID, scope.OrganizationID, scope.ChatbotConfigID).
		First(&source).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("source")
		}
		return nil, apperrors.NewSystemError(apperrors.ErrCodeDatabaseError, "Failed to load source").WithCause(err)
	}

	source.Status = models.NormalizeSourceStatus(source.Status)
	return &source, nil
}

// ListByScope 列出某个租户范围的源记录
func (r *sourceRepository) ListByScope(ctx context.Context, scope models.TenantScope, activeOnly bool) ([]models.WebsiteSource, error) {
	query := r.db.WithContext(ctx).
		Where("organization_id = ? AND chatbot_config_id = ?",
			scope.OrganizationID, scope.ChatbotConfigID)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}

	var sources []models.WebsiteSource
	if err := query.Order("source_id ASC").Find(&sources).Error; err != nil {
		return nil, apperrors.NewSystemError(apperrors.ErrCodeDatabaseError, "Failed to list sources").WithCause(err)
	}

	for i := range sources {
		sources[i].Status = models.NormalizeSourceStatus(sources[i].Status)
	}
	return sources, nil
}

// 进行中状态滞留超过这个时长的源重新参与调度
// 可重试失败会把源留在crawling/vectorizing状态，必须能被后续扫描捡回
const inFlightStaleAfter = 10 * time.Minute

// ListSyncCandidates 列出可能需要定时重新同步的源
// 频率是否到期由调用方按爬取配置判断，这里只做粗筛
func (r *sourceRepository) ListSyncCandidates(ctx context.Context) ([]models.WebsiteSource, error) {
	var sources []models.WebsiteSource
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND (status IN ? OR (status IN ? AND update_time < ?))", true,
			[]string{models.SourceStatusPending, models.SourceStatusCompleted},
			[]string{models.SourceStatusCrawling, models.SourceStatusVectorizing},
			time.Now().Add(-inFlightStaleAfter)).
		Find(&sources).Error
	if err != nil {
		return nil, apperrors.NewSystemError(apperrors.ErrCodeDatabaseError, "Failed to list sync candidates").WithCause(err)
	}

	for i := range sources {
		sources[i].Status = models.NormalizeSourceStatus(sources[i].Status)
	}
	return sources, nil
}

// Updates 按租户范围部分更新源记录
func (r *sourceRepository) Updates(ctx context.Context, scope models.TenantScope, sourceID uint, updates map[string]interface{}) error {
	updates["update_time"] = time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.WebsiteSource{}).
		Where("source_id = ? AND organization_id = ? AND chatbot_config_id = ?",
			sourceID, scope.OrganizationID, scope.ChatbotConfigID).
		Updates(updates)
	if result.Error != nil {
		return apperrors.NewSystemError(apperrors.ErrCodeDatabaseError, "Failed to update source").WithCause(result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NewNotFoundError("source")
	}
	return nil
}

// SetActive 停用/启用是标志位翻转，绝不硬删除
func (r *sourceRepository) SetActive(ctx context.Context, scope models.TenantScope, sourceID uint, active bool) error {
	return r.Updates(ctx, scope, sourceID, map[string]interface{}{
		"is_active": active,
	})
}
