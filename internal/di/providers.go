package di

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aihub/kbsync/internal/config"
	"github.com/aihub/kbsync/internal/database"
	apperrors "github.com/aihub/kbsync/internal/errors"
	"github.com/aihub/kbsync/internal/kafka"
	"github.com/aihub/kbsync/internal/knowledge"
	"github.com/aihub/kbsync/internal/repository"
	"github.com/aihub/kbsync/internal/scheduler"
	"github.com/aihub/kbsync/internal/services"
	"github.com/aihub/kbsync/internal/storage"
	"github.com/aihub/kbsync/internal/synclock"
)

// registerProviders 注册全部依赖提供者
func registerProviders(container *dig.Container) error {
	providers := []interface{}{
		database.NewDB,
		database.NewRedisClient,

		func(cfg *config.Config, rdb *redis.Client) *synclock.Locker {
			return synclock.NewLocker(rdb, cfg.Sync.LockTTL)
		},

		func(cfg *config.Config, embedder knowledge.Embedder) (knowledge.VectorStore, error) {
			// 集合维度必须跟嵌入模型一致，配置值只在模型维度未知时兜底
			vectorSize := cfg.Milvus.VectorSize
			if dims := embedder.Dimensions(); dims > 0 {
				vectorSize = dims
			}
			return knowledge.NewMilvusVectorStore(knowledge.MilvusOptions{
				Address:    cfg.Milvus.Address,
				Username:   cfg.Milvus.Username,
				Password:   cfg.Milvus.Password,
				Collection: cfg.Milvus.Collection,
				Database:   cfg.Milvus.Database,
				VectorSize: vectorSize,
				Distance:   cfg.Milvus.Distance,
				UseTLS:     cfg.Milvus.TLS,
			}, zap.L())
		},

		func(cfg *config.Config) *knowledge.Chunker {
			return knowledge.NewChunker(cfg.Sync.ChunkSize, cfg.Sync.ChunkOverlap)
		},

		func(cfg *config.Config, chunker *knowledge.Chunker) knowledge.Embedder {
			return knowledge.NewOpenAIEmbedder(cfg.Embedding.OpenAIAPIKey, cfg.Embedding.Model, chunker)
		},

		func(cfg *config.Config) (*storage.ObjectStore, error) {
			return storage.NewObjectStore(cfg.Storage)
		},

		func(store *storage.ObjectStore) knowledge.Crawler {
			website := knowledge.NewWebsiteCrawler(zap.L())
			if store == nil {
				return knowledge.NewRouterCrawler(website, knowledge.NewDocumentCrawler(nil))
			}
			return knowledge.NewRouterCrawler(website, knowledge.NewDocumentCrawler(store))
		},

		func(cfg *config.Config) (services.SyncEventPublisher, error) {
			if !cfg.Kafka.Enabled {
				return nil, nil
			}
			return kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventTopic)
		},

		repository.NewSourceRepository,
		services.NewSourceStateMachine,

		func(cfg *config.Config) *apperrors.IngestionPolicy {
			return apperrors.NewIngestionPolicy(cfg.Sync.MaxRetries)
		},
		func(db *gorm.DB) *apperrors.Tracker {
			return apperrors.NewTracker(db)
		},

		services.NewSyncCoordinator,
		services.NewSourceService,

		func(cfg *config.Config, coordinator *services.SyncCoordinator) (*kafka.Consumer, error) {
			if !cfg.Kafka.Enabled {
				return nil, nil
			}
			return kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.RequestTopic, coordinator)
		},
		func(cfg *config.Config, repo repository.SourceRepository, coordinator *services.SyncCoordinator) *scheduler.Scheduler {
			return scheduler.NewScheduler(repo, coordinator, cfg.Sync.SchedulerInterval)
		},
	}

	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return err
		}
	}
	return nil
}
