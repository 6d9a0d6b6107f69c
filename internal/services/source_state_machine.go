package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/aihub/kbsync/internal/errors"
	"github.com/aihub/kbsync/internal/logger"
	"github.com/aihub/kbsync/internal/models"
	"github.com/aihub/kbsync/internal/repository"
)

// SourceStateMachine 源记录生命周期状态机
// 所有状态写入都经过这里，保证转换合法并持久化
type SourceStateMachine struct {
	repo repository.SourceRepository
}

// NewSourceStateMachine 创建源状态机实例
func NewSourceStateMachine(repo repository.SourceRepository) *SourceStateMachine {
	return &SourceStateMachine{repo: repo}
}

// 状态转换规则
// 任何状态都允许进入crawling：重新同步是合法入口，
// 被打断的周期会把crawling或vectorizing留在库里，下次同步要能重入
var sourceTransitions = map[string][]string{
	models.SourceStatusPending: {
		models.SourceStatusCrawling,
		models.SourceStatusError,
	},
	models.SourceStatusCrawling: {
		models.SourceStatusCrawling,
		models.SourceStatusVectorizing,
		models.SourceStatusError,
	},
	models.SourceStatusVectorizing: {
		models.SourceStatusCrawling,
		models.SourceStatusCompleted,
		models.SourceStatusError,
	},
	models.SourceStatusCompleted: {
		models.SourceStatusCrawling,
	},
	models.SourceStatusError: {
		models.SourceStatusCrawling,
	},
}

// CanTransition 检查是否允许从from转换到to
func (sm *SourceStateMachine) CanTransition(from, to string) bool {
	from = models.NormalizeSourceStatus(from)
	for _, allowed := range sourceTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition 执行状态转换并持久化
// extra里的字段与状态一起写入，用于附带pageCount、错误信息等
func (sm *SourceStateMachine) Transition(ctx context.Context, source *models.WebsiteSource, toStatus string, extra map[string]interface{}) error {
	fromStatus := models.NormalizeSourceStatus(source.Status)
	if !sm.CanTransition(fromStatus, toStatus) {
		return apperrors.NewInvalidInputError("Invalid source status transition").
			WithDetails(map[string]interface{}{"from": fromStatus, "to": toStatus})
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	for k, v := range extra {
		updates[k] = v
	}

	if err := sm.repo.Updates(ctx, source.Scope(), source.SourceID, updates); err != nil {
		return err
	}

	source.Status = toStatus
	source.UpdateTime = time.Now()
	logger.Info("source status transitioned",
		zap.Uint("sourceID", source.SourceID),
		zap.String("organizationID", source.OrganizationID),
		zap.String("from", fromStatus),
		zap.String("to", toStatus))
	return nil
}
