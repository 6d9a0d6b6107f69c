package knowledge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	apperrors "github.com/aihub/kbsync/internal/errors"
	"github.com/aihub/kbsync/internal/models"
)

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address    string
	Username   string
	Password   string
	Collection string
	Database   string
	VectorSize int
	Distance   string
	UseTLS     bool
	Timeout    time.Duration
}

type milvusVectorStore struct {
	milvusClient client.Client
	collection   string
	vectorSize   int
	distance     string
	logger       *zap.Logger
}

// NewMilvusVectorStore 创建Milvus向量存储
// 所有租户共用一个集合，租户隔离靠过滤表达式上的范围字段保证
func NewMilvusVectorStore(opts MilvusOptions, logger *zap.Logger) (VectorStore, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.Collection == "" {
		opts.Collection = "kb_vectors"
	}
	if opts.VectorSize == 0 {
		opts.VectorSize = 1536
	}
	if opts.Database == "" {
		opts.Database = "default"
	}
	if logger == nil {
		logger = zap.L()
	}

	milvusClient, err := client.NewClient(
		context.Background(),
		client.Config{
			Address:       opts.Address,
			DBName:        opts.Database,
			Username:      opts.Username,
			Password:      opts.Password,
			EnableTLSAuth: opts.UseTLS,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	return &milvusVectorStore{
		milvusClient: milvusClient,
		collection:   opts.Collection,
		vectorSize:   opts.VectorSize,
		distance:     formatMilvusDistance(opts.Distance),
		logger:       logger,
	}, nil
}

func formatMilvusDistance(value string) string {
	switch strings.ToUpper(value) {
	case "DOT", "IP", "INNER_PRODUCT":
		return "IP"
	case "L2", "EUCLIDEAN":
		return "L2"
	default:
		return "COSINE"
	}
}

func (s *milvusVectorStore) ensureCollection(ctx context.Context) error {
	hasCollection, err := s.milvusClient.HasCollection(ctx, s.collection)
	if err != nil {
		return apperrors.NewStoreUnavailableError("schema check", err)
	}
	if hasCollection {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: s.collection,
		Description:    "Knowledge base vectors, scoped per organization and chatbot config",
		Fields: []*entity.Field{
			{
				Name:       "knowledge_item_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "organization_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "chatbot_config_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "source_type",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "20"},
			},
			{
				Name:       "source_url",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "500"},
			},
			{
				Name:       "content",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "65535"},
			},
			{
				Name:       "vector",
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": fmt.Sprintf("%d", s.vectorSize)},
			},
		},
	}

	if err := s.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return apperrors.NewStoreUnavailableError("collection create", err)
	}

	var index entity.Index
	var indexErr error
	switch s.distance {
	case "IP":
		index, indexErr = entity.NewIndexHNSW(entity.IP, 8, 64)
	case "L2":
		index, indexErr = entity.NewIndexHNSW(entity.L2, 8, 64)
	default:
		index, indexErr = entity.NewIndexHNSW(entity.COSINE, 8, 64)
	}
	if indexErr != nil {
		index, indexErr = entity.NewIndexIvfFlat(entity.COSINE, 128)
		if indexErr != nil {
			return apperrors.NewStoreUnavailableError("index create", indexErr)
		}
	}

	if err := s.milvusClient.CreateIndex(ctx, s.collection, "vector", index, false); err != nil {
		s.logger.Warn("failed to create vector index", zap.String("collection", s.collection), zap.Error(err))
	}

	if err := s.milvusClient.LoadCollection(ctx, s.collection, false); err != nil {
		s.logger.Warn("failed to load collection", zap.String("collection", s.collection), zap.Error(err))
	}

	return nil
}

// buildFilterExpr 把过滤条件编译为Milvus布尔表达式
// 两个租户范围字段永远在表达式里，这是跨租户隔离的最后一道防线
func buildFilterExpr(filter VectorFilter) string {
	scope := filter.Scope()
	expr := fmt.Sprintf(`organization_id == "%s" && chatbot_config_id == "%s" && source_type == "%s"`,
		escapeExprValue(scope.OrganizationID),
		escapeExprValue(scope.ChatbotConfigID),
		escapeExprValue(filter.SourceType()))
	if prefix := filter.URLPrefix(); prefix != "" {
		expr += fmt.Sprintf(` && source_url like "%s%%"`, escapeLikeValue(prefix))
	}
	return expr
}

func escapeExprValue(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, `"`, `\"`)
	return value
}

// escapeLikeValue 额外转义通配符，只用于like操作数
// 等值比较的操作数里%是普通字符，转义反而会改变比较值
func escapeLikeValue(value string) string {
	return strings.ReplaceAll(escapeExprValue(value), `%`, `\%`)
}

func (s *milvusVectorStore) Count(ctx context.Context, filter VectorFilter) (int64, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return 0, err
	}

	expr := buildFilterExpr(filter)
	rs, err := s.milvusClient.Query(ctx, s.collection, nil, expr, []string{"count(*)"})
	if err != nil {
		return 0, apperrors.NewStoreUnavailableError("count", err)
	}

	for _, column := range rs {
		if col, ok := column.(*entity.ColumnInt64); ok && len(col.Data()) > 0 {
			return col.Data()[0], nil
		}
	}
	return 0, nil
}

func (s *milvusVectorStore) DeleteByFilter(ctx context.Context, filter VectorFilter) (int64, error) {
	matched, err := s.Count(ctx, filter)
	if err != nil {
		return 0, err
	}
	if matched == 0 {
		return 0, nil
	}

	expr := buildFilterExpr(filter)
	if err := s.milvusClient.Delete(ctx, s.collection, "", expr); err != nil {
		return 0, apperrors.NewStoreUnavailableError("delete", err)
	}

	if err := s.milvusClient.Flush(ctx, s.collection, false); err != nil {
		s.logger.Warn("failed to flush after delete", zap.Error(err))
	}

	return matched, nil
}

func (s *milvusVectorStore) DeleteByIDs(ctx context.Context, scope models.TenantScope, ids []string) error {
	if scope.IsZero() {
		return apperrors.NewValidationError("delete by ids requires a complete tenant scope")
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	// ID是范围内派生的哈希，但删除表达式仍然带上范围字段
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = fmt.Sprintf(`"%s"`, escapeExprValue(id))
	}
	expr := fmt.Sprintf(`organization_id == "%s" && chatbot_config_id == "%s" && knowledge_item_id in [%s]`,
		escapeExprValue(scope.OrganizationID),
		escapeExprValue(scope.ChatbotConfigID),
		strings.Join(quoted, ", "))

	if err := s.milvusClient.Delete(ctx, s.collection, "", expr); err != nil {
		return apperrors.NewStoreUnavailableError("delete by ids", err)
	}
	return nil
}

func (s *milvusVectorStore) Upsert(ctx context.Context, scope models.TenantScope, chunks []VectorChunk) error {
	if scope.IsZero() {
		return apperrors.NewValidationError("upsert requires a complete tenant scope")
	}
	if len(chunks) == 0 {
		return nil
	}

	// 维度不符说明嵌入模型与集合schema不匹配，静默补齐会写入损坏的向量
	for i := range chunks {
		if len(chunks[i].Embedding) != s.vectorSize {
			return apperrors.NewValidationError(fmt.Sprintf(
				"embedding dimension %d does not match collection dimension %d",
				len(chunks[i].Embedding), s.vectorSize))
		}
	}

	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	ids := make([]string, len(chunks))
	orgIDs := make([]string, len(chunks))
	configIDs := make([]string, len(chunks))
	sourceTypes := make([]string, len(chunks))
	sourceURLs := make([]string, len(chunks))
	contents := make([]string, len(chunks))
	vectors := make([][]float32, len(chunks))

	for i, chunk := range chunks {
		ids[i] = chunk.KnowledgeItemID
		orgIDs[i] = scope.OrganizationID
		configIDs[i] = scope.ChatbotConfigID
		sourceTypes[i] = chunk.SourceType
		sourceURLs[i] = chunk.SourceURL
		contents[i] = chunk.Text
		vectors[i] = chunk.Embedding
	}

	columns := []entity.Column{
		entity.NewColumnVarChar("knowledge_item_id", ids),
		entity.NewColumnVarChar("organization_id", orgIDs),
		entity.NewColumnVarChar("chatbot_config_id", configIDs),
		entity.NewColumnVarChar("source_type", sourceTypes),
		entity.NewColumnVarChar("source_url", sourceURLs),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnFloatVector("vector", s.vectorSize, vectors),
	}

	if _, err := s.milvusClient.Upsert(ctx, s.collection, "", columns...); err != nil {
		return apperrors.NewStoreUnavailableError("upsert", err)
	}

	if err := s.milvusClient.Flush(ctx, s.collection, false); err != nil {
		s.logger.Warn("failed to flush after upsert", zap.Error(err))
	}

	return nil
}

func (s *milvusVectorStore) Ready() bool {
	if s.milvusClient == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.milvusClient.ListCollections(ctx)
	return err == nil
}
