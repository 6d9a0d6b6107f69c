package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/aihub/kbsync/internal/models"
)

// KnowledgeItem 爬取协作方产出的一条候选知识条目
type KnowledgeItem struct {
	URL   string
	Title string
	Text  string
}

// VectorChunk 向量存储中的一条可检索记录
type VectorChunk struct {
	KnowledgeItemID string
	SourceURL       string
	SourceType      string
	Text            string
	Embedding       []float32
	Scope           models.TenantScope
}

// VectorFilter 带租户范围的向量过滤条件
// 只能通过NewVectorFilter构造，保证每个查询都携带完整的租户范围
type VectorFilter struct {
	scope      models.TenantScope
	sourceType string
	urlPrefix  string
}

// NewVectorFilter 构造过滤条件，scope不完整时返回错误
func NewVectorFilter(scope models.TenantScope, sourceType string) (VectorFilter, error) {
	if scope.IsZero() {
		return VectorFilter{}, fmt.Errorf("vector filter requires a complete tenant scope")
	}
	if sourceType == "" {
		return VectorFilter{}, fmt.Errorf("vector filter requires a source type")
	}
	return VectorFilter{scope: scope, sourceType: sourceType}, nil
}

// WithURLPrefix 附加source_url前缀匹配条件
// 前缀匹配覆盖域名根以下任意深度发现的页面
func (f VectorFilter) WithURLPrefix(prefix string) VectorFilter {
	f.urlPrefix = prefix
	return f
}

// Scope 返回过滤条件的租户范围
func (f VectorFilter) Scope() models.TenantScope {
	return f.scope
}

// SourceType 返回源类型条件
func (f VectorFilter) SourceType() string {
	return f.sourceType
}

// URLPrefix 返回URL前缀条件，空串表示不过滤URL
func (f VectorFilter) URLPrefix() string {
	return f.urlPrefix
}

// VectorStore 向量存储网关
// 各方法在单次调用层面原子，跨调用协议由同步协调器负责
type VectorStore interface {
	// Count 按过滤条件统计向量数
	Count(ctx context.Context, filter VectorFilter) (int64, error)
	// DeleteByFilter 按过滤条件删除，零命中返回0而不是错误
	DeleteByFilter(ctx context.Context, filter VectorFilter) (int64, error)
	// DeleteByIDs 按精确ID删除，用于批量重插前的定向清理
	DeleteByIDs(ctx context.Context, scope models.TenantScope, ids []string) error
	// Upsert 以knowledge_item_id为键覆盖写入，重复ID替换而不是重复
	Upsert(ctx context.Context, scope models.TenantScope, chunks []VectorChunk) error
	Ready() bool
}

// KnowledgeItemID 生成范围内稳定的记录主键
// 同一(租户, 源类型, URL, 分块序号)在多次重新同步间产生相同的ID，
// 这是覆盖写入幂等性的前提
func KnowledgeItemID(scope models.TenantScope, sourceType, url string, chunkIndex int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%d",
		scope.OrganizationID, scope.ChatbotConfigID, sourceType, url, chunkIndex)))
	return hex.EncodeToString(h[:16])
}
