package bootstrap

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aihub/kbsync/internal/config"
	"github.com/aihub/kbsync/internal/database"
	"github.com/aihub/kbsync/internal/di"
	"github.com/aihub/kbsync/internal/kafka"
	"github.com/aihub/kbsync/internal/logger"
	"github.com/aihub/kbsync/internal/scheduler"
)

// App encapsulates lifecycle resources that need to be cleaned up on shutdown.
type App struct {
	Container *dig.Container
	cleanup   []func() error
}

// Init bootstraps configuration, logger, database and the dependency
// container required by the synchronization service.
func Init() (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	if err := config.LoadConfig(); err != nil {
		return nil, err
	}
	cfg := config.AppConfig

	if err := logger.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		return nil, err
	}

	container, err := di.BuildContainer(cfg)
	if err != nil {
		return nil, err
	}
	app := &App{Container: container}

	// 数据库连接与schema迁移
	err = container.Invoke(func(db *gorm.DB) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		app.addCleanup(sqlDB.Close)

		manager, err := database.NewMigrationManager(sqlDB, cfg.Database.MigrationsPath, database.MigrationLogger())
		if err != nil {
			// 迁移管理器不可用时继续启动，表结构由自动迁移兜底
			logger.Warn("migration manager unavailable", zap.Error(err))
			return nil
		}
		return manager.Up()
	})
	if err != nil {
		return nil, err
	}

	err = container.Invoke(func(rdb *redis.Client) {
		if rdb != nil {
			app.addCleanup(rdb.Close)
		}
	})
	if err != nil {
		return nil, err
	}

	// 重新同步请求消费者
	err = container.Invoke(func(consumer *kafka.Consumer) {
		if consumer != nil {
			consumer.Start()
			app.addCleanup(consumer.Close)
		}
	})
	if err != nil {
		return nil, err
	}

	// 频率调度器
	if cfg.Sync.SchedulerEnabled {
		err = container.Invoke(func(sched *scheduler.Scheduler) {
			sched.Start()
			app.addCleanup(func() error {
				sched.Stop()
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
	}

	logger.Info("bootstrap complete", zap.String("env", cfg.Server.Env))
	return app, nil
}

func (a *App) addCleanup(fn func() error) {
	a.cleanup = append(a.cleanup, fn)
}

// Shutdown releases resources in reverse initialization order.
func (a *App) Shutdown() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		if err := a.cleanup[i](); err != nil {
			logger.Warn("cleanup failed", zap.Error(err))
		}
	}
	logger.Sync()
}
