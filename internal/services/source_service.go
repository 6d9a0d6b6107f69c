package services

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	apperrors "github.com/aihub/kbsync/internal/errors"
	"github.com/aihub/kbsync/internal/knowledge"
	"github.com/aihub/kbsync/internal/logger"
	"github.com/aihub/kbsync/internal/models"
	"github.com/aihub/kbsync/internal/repository"
)

// RegisterSourceRequest 注册源的请求
type RegisterSourceRequest struct {
	URL           string                 `json:"url" validate:"required,url"`
	Name          string                 `json:"name" validate:"max=255"`
	SourceType    string                 `json:"source_type" validate:"omitempty,oneof=website document"`
	CrawlSettings map[string]interface{} `json:"crawl_settings"`
}

// SourceService 源记录管理服务
type SourceService struct {
	repo        repository.SourceRepository
	store       knowledge.VectorStore
	coordinator *SyncCoordinator
	tracker     *apperrors.Tracker
	validate    *validator.Validate
}

// NewSourceService 创建源记录管理服务
func NewSourceService(repo repository.SourceRepository, store knowledge.VectorStore, coordinator *SyncCoordinator, tracker *apperrors.Tracker) *SourceService {
	return &SourceService{
		repo:        repo,
		store:       store,
		coordinator: coordinator,
		tracker:     tracker,
		validate:    validator.New(),
	}
}

// Register 注册新源，初始状态为pending
// 爬取配置在这里完成静默默认值修正，入库的永远是规范化后的配置
func (s *SourceService) Register(ctx context.Context, scope models.TenantScope, req *RegisterSourceRequest) (*models.WebsiteSource, error) {
	if scope.IsZero() {
		return nil, apperrors.NewInvalidInputError("Tenant scope is required")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.NewValidationError("Invalid source registration").WithCause(err)
	}

	sourceType := req.SourceType
	if sourceType == "" {
		sourceType = models.SourceTypeWebsite
	}

	rawSettings := ""
	if req.CrawlSettings != nil {
		buf, err := json.Marshal(req.CrawlSettings)
		if err != nil {
			return nil, apperrors.NewInvalidInputError("Invalid crawl settings").WithCause(err)
		}
		rawSettings = string(buf)
	}
	settings := models.ParseCrawlSettings(rawSettings)

	source := &models.WebsiteSource{
		OrganizationID:  scope.OrganizationID,
		ChatbotConfigID: scope.ChatbotConfigID,
		URL:             req.URL,
		Name:            req.Name,
		SourceType:      sourceType,
		IsActive:        true,
		CrawlSettings:   settings.ToJSON(),
	}
	if err := s.repo.Create(ctx, source); err != nil {
		return nil, err
	}

	logger.Info("source registered",
		zap.Uint("sourceID", source.SourceID),
		zap.String("organizationID", scope.OrganizationID),
		zap.String("url", source.URL))
	return source, nil
}

// Get 按租户范围获取单个源
func (s *SourceService) Get(ctx context.Context, scope models.TenantScope, sourceID uint) (*models.WebsiteSource, error) {
	if scope.IsZero() {
		return nil, apperrors.NewInvalidInputError("Tenant scope is required")
	}
	return s.repo.GetByID(ctx, scope, sourceID)
}

// List 列出租户范围内的源
func (s *SourceService) List(ctx context.Context, scope models.TenantScope, activeOnly bool) ([]models.WebsiteSource, error) {
	if scope.IsZero() {
		return nil, apperrors.NewInvalidInputError("Tenant scope is required")
	}
	return s.repo.ListByScope(ctx, scope, activeOnly)
}

// Resync 触发一次手动重新同步
func (s *SourceService) Resync(ctx context.Context, scope models.TenantScope, sourceID uint) (*SyncResult, error) {
	return s.coordinator.Synchronize(ctx, scope, sourceID)
}

// RecentErrors 返回某个源最近的摄取错误记录
// 源不存在或不属于该租户时返回NotFound，与Get行为一致
func (s *SourceService) RecentErrors(ctx context.Context, scope models.TenantScope, sourceID uint, limit int) ([]models.IngestionError, error) {
	if _, err := s.Get(ctx, scope, sourceID); err != nil {
		return nil, err
	}
	return s.tracker.RecentErrors(ctx, scope, sourceID, limit)
}

// UpdateCrawlSettings 替换源的爬取配置
// 未知字段和非法值按静默默认值处理，永远不会因为配置内容报错
func (s *SourceService) UpdateCrawlSettings(ctx context.Context, scope models.TenantScope, sourceID uint, raw map[string]interface{}) (*models.WebsiteSource, error) {
	source, err := s.Get(ctx, scope, sourceID)
	if err != nil {
		return nil, err
	}

	rawSettings := ""
	if raw != nil {
		buf, err := json.Marshal(raw)
		if err != nil {
			return nil, apperrors.NewInvalidInputError("Invalid crawl settings").WithCause(err)
		}
		rawSettings = string(buf)
	}
	settings := models.ParseCrawlSettings(rawSettings)

	encoded := settings.ToJSON()
	if err := s.repo.Updates(ctx, scope, sourceID, map[string]interface{}{
		"crawl_settings": encoded,
	}); err != nil {
		return nil, err
	}
	source.CrawlSettings = encoded
	return source, nil
}

// Deactivate 停用源，向量保留，源对同步和检索不可见
func (s *SourceService) Deactivate(ctx context.Context, scope models.TenantScope, sourceID uint) error {
	if scope.IsZero() {
		return apperrors.NewInvalidInputError("Tenant scope is required")
	}
	if err := s.repo.SetActive(ctx, scope, sourceID, false); err != nil {
		return err
	}
	logger.Info("source deactivated",
		zap.Uint("sourceID", sourceID),
		zap.String("organizationID", scope.OrganizationID))
	return nil
}

// Activate 重新启用源
func (s *SourceService) Activate(ctx context.Context, scope models.TenantScope, sourceID uint) error {
	if scope.IsZero() {
		return apperrors.NewInvalidInputError("Tenant scope is required")
	}
	return s.repo.SetActive(ctx, scope, sourceID, true)
}

// Purge 清除已停用源遗留的向量
// 只允许对停用的源执行，活跃源的向量由同步协议管理
func (s *SourceService) Purge(ctx context.Context, scope models.TenantScope, sourceID uint) (int64, error) {
	source, err := s.Get(ctx, scope, sourceID)
	if err != nil {
		return 0, err
	}
	if source.IsActive {
		return 0, apperrors.NewInvalidInputError("Cannot purge vectors of an active source")
	}

	filter, err := knowledge.NewVectorFilter(scope, source.SourceType)
	if err != nil {
		return 0, err
	}
	filter = filter.WithURLPrefix(source.URL)

	deleted, err := s.store.DeleteByFilter(ctx, filter)
	if err != nil {
		return 0, err
	}
	logger.Info("source vectors purged",
		zap.Uint("sourceID", sourceID),
		zap.String("organizationID", scope.OrganizationID),
		zap.Int64("deleted", deleted))
	return deleted, nil
}
