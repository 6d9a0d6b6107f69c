package knowledge

import (
	"context"

	apperrors "github.com/aihub/kbsync/internal/errors"
	"github.com/aihub/kbsync/internal/models"
)

// Crawler 爬取协作方边界
// HTML解析、robots.txt处理等细节由外部实现承担，
// 引擎只要求实现遵守CrawlSettings里的页数/深度/模式限制
type Crawler interface {
	Crawl(ctx context.Context, url string, settings models.CrawlSettings) ([]KnowledgeItem, error)
}

// NoopCrawler 默认占位实现
type NoopCrawler struct{}

func (n *NoopCrawler) Crawl(ctx context.Context, url string, settings models.CrawlSettings) ([]KnowledgeItem, error) {
	return nil, apperrors.NewCrawlFailedError("crawler not configured", nil)
}
