package knowledge

import (
	"context"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	apperrors "github.com/aihub/kbsync/internal/errors"
	"github.com/aihub/kbsync/internal/models"
)

// 单次OpenAI请求里最多携带的文本数
const embedBatchSize = 100

// Embedder 向量化协作方：把知识条目变成可写入存储的向量块
type Embedder interface {
	EmbedItems(ctx context.Context, scope models.TenantScope, sourceType string, items []KnowledgeItem) ([]VectorChunk, error)
	Dimensions() int
	Ready() bool
}

// NoopEmbedder 默认占位实现
type NoopEmbedder struct{}

func (n *NoopEmbedder) EmbedItems(ctx context.Context, scope models.TenantScope, sourceType string, items []KnowledgeItem) ([]VectorChunk, error) {
	return nil, apperrors.NewEmbeddingFailedError(nil)
}

func (n *NoopEmbedder) Dimensions() int {
	return 0
}

func (n *NoopEmbedder) Ready() bool {
	return false
}

var embeddingDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
}

// OpenAIEmbedder 使用OpenAI Embedding API
// 先用分块器切分每个条目，再批量请求向量
type OpenAIEmbedder struct {
	client     *openai.Client
	chunker    *Chunker
	model      string
	dimensions int
	limiter    sync.Mutex
}

// NewOpenAIEmbedder 创建OpenAI向量化器，apiKey为空时退化为Noop实现
func NewOpenAIEmbedder(apiKey, model string, chunker *Chunker) Embedder {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return &NoopEmbedder{}
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if chunker == nil {
		chunker = NewChunker(0, 0)
	}

	dims, ok := embeddingDimensions[model]
	if !ok {
		dims = 1536
	}

	return &OpenAIEmbedder{
		client:     openai.NewClient(apiKey),
		chunker:    chunker,
		model:      model,
		dimensions: dims,
	}
}

func (e *OpenAIEmbedder) EmbedItems(ctx context.Context, scope models.TenantScope, sourceType string, items []KnowledgeItem) ([]VectorChunk, error) {
	if scope.IsZero() {
		return nil, apperrors.NewValidationError("embedding requires a complete tenant scope")
	}

	// 先切分全部条目，保持chunk与其来源条目的对应关系
	var chunks []VectorChunk
	for _, item := range items {
		text := item.Text
		if item.Title != "" {
			text = item.Title + "\n" + text
		}
		for _, piece := range e.chunker.Split(text) {
			chunks = append(chunks, VectorChunk{
				KnowledgeItemID: KnowledgeItemID(scope, sourceType, item.URL, piece.Index),
				SourceURL:       item.URL,
				SourceType:      sourceType,
				Text:            piece.Text,
				Scope:           scope,
			})
		}
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := e.embedBatch(ctx, chunks[start:end]); err != nil {
			return nil, err
		}
	}

	return chunks, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, batch []VectorChunk) error {
	texts := make([]string, len(batch))
	for i, chunk := range batch {
		texts[i] = chunk.Text
	}

	e.limiter.Lock()
	defer e.limiter.Unlock()

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		return apperrors.NewEmbeddingFailedError(err)
	}
	if len(resp.Data) != len(batch) {
		return apperrors.NewEmbeddingFailedError(nil).WithDetails(map[string]int{
			"requested": len(batch),
			"returned":  len(resp.Data),
		})
	}

	for i := range batch {
		embedding := make([]float32, len(resp.Data[i].Embedding))
		copy(embedding, resp.Data[i].Embedding)
		batch[i].Embedding = embedding
	}
	return nil
}

func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *OpenAIEmbedder) Ready() bool {
	return e.client != nil
}
