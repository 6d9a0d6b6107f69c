package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	apperrors "github.com/aihub/kbsync/internal/errors"
	"github.com/aihub/kbsync/internal/logger"
	"github.com/aihub/kbsync/internal/models"
	"github.com/aihub/kbsync/internal/repository"
	"github.com/aihub/kbsync/internal/services"
)

var scheduledSyncsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "kbsync_scheduled_syncs_total",
		Help: "Syncs triggered by the frequency scheduler",
	},
	[]string{"result"},
)

// SyncTrigger 触发单个源的同步
type SyncTrigger interface {
	Synchronize(ctx context.Context, scope models.TenantScope, sourceID uint) (*services.SyncResult, error)
}

// Scheduler 按爬取频率触发重新同步的调度器
// 粗筛由仓库完成，到期判断基于每个源自己的爬取配置
type Scheduler struct {
	repo     repository.SourceRepository
	trigger  SyncTrigger
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewScheduler 创建调度器
func NewScheduler(repo repository.SourceRepository, trigger SyncTrigger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{repo: repo, trigger: trigger, interval: interval}
}

// Start 启动调度循环
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		logger.Info("sync scheduler started", zap.Duration("interval", s.interval))
		for {
			select {
			case <-ctx.Done():
				logger.Info("sync scheduler stopped")
				return
			case <-ticker.C:
				s.runCycle(ctx)
			}
		}
	}()
}

// Stop 停止调度器
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// runCycle 扫描一轮到期的源并逐个同步
// 单个源的失败由错误策略处理，不会中断本轮扫描
func (s *Scheduler) runCycle(ctx context.Context) {
	sources, err := s.repo.ListSyncCandidates(ctx)
	if err != nil {
		logger.Error("failed to list sync candidates", zap.Error(err))
		return
	}

	now := time.Now()
	for i := range sources {
		source := &sources[i]
		if !source.Settings().SyncDue(source.LastSyncedAt, now) {
			continue
		}

		_, err := s.trigger.Synchronize(ctx, source.Scope(), source.SourceID)
		switch {
		case err == nil:
			scheduledSyncsTotal.WithLabelValues("success").Inc()
		case apperrors.HasCode(err, apperrors.ErrCodeAlreadyInProgress):
			// 手动触发的同步正在执行，下一轮再看
			scheduledSyncsTotal.WithLabelValues("skipped").Inc()
		default:
			scheduledSyncsTotal.WithLabelValues("failed").Inc()
			logger.Warn("scheduled sync failed",
				zap.Uint("sourceID", source.SourceID),
				zap.String("organizationID", source.OrganizationID),
				zap.Error(err))
		}

		if ctx.Err() != nil {
			return
		}
	}
}
