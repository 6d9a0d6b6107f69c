package knowledge

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/kbsync/internal/errors"
	"github.com/aihub/kbsync/internal/models"
)

type mapFetcher map[string][]byte

func (m mapFetcher) Get(ctx context.Context, objectPath string) ([]byte, error) {
	data, ok := m[objectPath]
	if !ok {
		return nil, fmt.Errorf("object %s not found", objectPath)
	}
	return data, nil
}

func TestDocumentCrawl(t *testing.T) {
	fetcher := mapFetcher{"org-1/manual.txt": []byte("installation guide contents")}
	crawler := NewDocumentCrawler(fetcher)

	items, err := crawler.Crawl(context.Background(), "doc://org-1/manual.txt", models.DefaultCrawlSettings())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "manual.txt", items[0].Title)
	assert.Equal(t, "installation guide contents", items[0].Text)
}

func TestDocumentCrawlFailures(t *testing.T) {
	fetcher := mapFetcher{"org-1/empty.txt": []byte("   ")}
	crawler := NewDocumentCrawler(fetcher)

	tests := []struct {
		name string
		url  string
	}{
		{"missing object", "doc://org-1/gone.txt"},
		{"empty object", "doc://org-1/empty.txt"},
		{"wrong scheme", "https://example.com/manual.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := crawler.Crawl(context.Background(), tt.url, models.DefaultCrawlSettings())
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCrawlFailed))
		})
	}

	_, err := NewDocumentCrawler(nil).Crawl(context.Background(), "doc://x", models.DefaultCrawlSettings())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCrawlFailed))
}

func TestRouterCrawlerDispatch(t *testing.T) {
	fetcher := mapFetcher{"f.txt": []byte("doc body")}
	router := NewRouterCrawler(&NoopCrawler{}, NewDocumentCrawler(fetcher))

	items, err := router.Crawl(context.Background(), "doc://f.txt", models.DefaultCrawlSettings())
	require.NoError(t, err)
	assert.Len(t, items, 1)

	// 网站URL走站点爬虫（这里是未配置的Noop）
	_, err = router.Crawl(context.Background(), "https://example.com", models.DefaultCrawlSettings())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCrawlFailed))
}
