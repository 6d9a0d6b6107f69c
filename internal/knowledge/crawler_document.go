package knowledge

import (
	"context"
	"path"
	"strings"

	apperrors "github.com/aihub/kbsync/internal/errors"
	"github.com/aihub/kbsync/internal/models"
)

// documentScheme 文档类源URL的协议前缀，其余部分是对象路径
const documentScheme = "doc://"

// ObjectFetcher 按路径取回已上传文档的内容
type ObjectFetcher interface {
	Get(ctx context.Context, objectPath string) ([]byte, error)
}

// DocumentCrawler 文档类源的抓取器
// 内容来自对象存储而不是网络，一个文档产出一个知识条目
type DocumentCrawler struct {
	fetcher ObjectFetcher
}

// NewDocumentCrawler 创建文档抓取器
func NewDocumentCrawler(fetcher ObjectFetcher) *DocumentCrawler {
	return &DocumentCrawler{fetcher: fetcher}
}

// Crawl 从对象存储取回文档内容
func (c *DocumentCrawler) Crawl(ctx context.Context, rawURL string, settings models.CrawlSettings) ([]KnowledgeItem, error) {
	if c.fetcher == nil {
		return nil, apperrors.NewCrawlFailedError("document storage not configured", nil)
	}
	if !strings.HasPrefix(rawURL, documentScheme) {
		return nil, apperrors.NewCrawlFailedError("not a document url", nil)
	}

	objectPath := strings.TrimPrefix(rawURL, documentScheme)
	data, err := c.fetcher.Get(ctx, objectPath)
	if err != nil {
		return nil, apperrors.NewCrawlFailedError("document unreadable", err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, apperrors.NewCrawlFailedError("document is empty", nil)
	}

	return []KnowledgeItem{{
		URL:   rawURL,
		Title: path.Base(objectPath),
		Text:  text,
	}}, nil
}

// RouterCrawler 按URL协议分派到站点或文档抓取器
type RouterCrawler struct {
	website  Crawler
	document Crawler
}

// NewRouterCrawler 创建分派抓取器
func NewRouterCrawler(website, document Crawler) *RouterCrawler {
	return &RouterCrawler{website: website, document: document}
}

// Crawl 分派抓取请求
func (c *RouterCrawler) Crawl(ctx context.Context, rawURL string, settings models.CrawlSettings) ([]KnowledgeItem, error) {
	if strings.HasPrefix(rawURL, documentScheme) {
		return c.document.Crawl(ctx, rawURL, settings)
	}
	return c.website.Crawl(ctx, rawURL, settings)
}
