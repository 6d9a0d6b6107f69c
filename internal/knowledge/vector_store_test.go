package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/kbsync/internal/errors"
	"github.com/aihub/kbsync/internal/models"
)

func mustScope(t *testing.T, org, bot string) models.TenantScope {
	t.Helper()
	scope, err := models.NewTenantScope(org, bot)
	require.NoError(t, err)
	return scope
}

func TestNewVectorFilterRequiresScope(t *testing.T) {
	_, err := NewVectorFilter(models.TenantScope{}, models.SourceTypeWebsite)
	assert.Error(t, err)

	_, err = NewVectorFilter(models.TenantScope{OrganizationID: "org-1"}, models.SourceTypeWebsite)
	assert.Error(t, err)

	_, err = NewVectorFilter(mustScope(t, "org-1", "bot-1"), "")
	assert.Error(t, err)

	filter, err := NewVectorFilter(mustScope(t, "org-1", "bot-1"), models.SourceTypeWebsite)
	require.NoError(t, err)
	assert.Equal(t, "org-1", filter.Scope().OrganizationID)
}

func TestBuildFilterExprAlwaysCarriesScope(t *testing.T) {
	filter, err := NewVectorFilter(mustScope(t, "org-1", "bot-1"), models.SourceTypeWebsite)
	require.NoError(t, err)

	expr := buildFilterExpr(filter)
	assert.Contains(t, expr, `organization_id == "org-1"`)
	assert.Contains(t, expr, `chatbot_config_id == "bot-1"`)
	assert.Contains(t, expr, `source_type == "website"`)
	assert.NotContains(t, expr, "like")

	withPrefix := buildFilterExpr(filter.WithURLPrefix("https://docs.example.com"))
	assert.Contains(t, withPrefix, `organization_id == "org-1"`)
	assert.Contains(t, withPrefix, `source_url like "https://docs.example.com%"`)
}

func TestBuildFilterExprEscapesValues(t *testing.T) {
	filter, err := NewVectorFilter(mustScope(t, `org"1`, "bot-1"), models.SourceTypeWebsite)
	require.NoError(t, err)

	expr := buildFilterExpr(filter.WithURLPrefix(`https://e.com/100%`))
	assert.Contains(t, expr, `organization_id == "org\"1"`)
	assert.Contains(t, expr, `source_url like "https://e.com/100\%%"`)
}

func TestEscapeExprValueKeepsPercentInEqualityOperands(t *testing.T) {
	// %只在like操作数里是通配符，等值比较转义会改变被比较的值
	assert.Equal(t, `org-100%`, escapeExprValue(`org-100%`))
	assert.Equal(t, `a\\b\"c`, escapeExprValue(`a\b"c`))

	assert.Equal(t, `org-100\%`, escapeLikeValue(`org-100%`))

	filter, err := NewVectorFilter(mustScope(t, `org-100%`, "bot-1"), models.SourceTypeWebsite)
	require.NoError(t, err)
	assert.Contains(t, buildFilterExpr(filter), `organization_id == "org-100%"`)
}

func TestUpsertRejectsDimensionMismatch(t *testing.T) {
	store := &milvusVectorStore{collection: "kb_vectors", vectorSize: 4}
	scope := mustScope(t, "org-1", "bot-1")

	err := store.Upsert(context.Background(), scope, []VectorChunk{{
		KnowledgeItemID: KnowledgeItemID(scope, models.SourceTypeWebsite, "https://e.com/a", 0),
		SourceURL:       "https://e.com/a",
		SourceType:      models.SourceTypeWebsite,
		Text:            "alpha",
		Embedding:       []float32{0.1, 0.2, 0.3},
		Scope:           scope,
	}})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
}

func TestKnowledgeItemIDDeterministic(t *testing.T) {
	scope := mustScope(t, "org-1", "bot-1")

	first := KnowledgeItemID(scope, models.SourceTypeWebsite, "https://e.com/a", 0)
	second := KnowledgeItemID(scope, models.SourceTypeWebsite, "https://e.com/a", 0)
	assert.Equal(t, first, second, "same inputs must map to the same id across resyncs")
	assert.Len(t, first, 32)

	// 任一维度变化都要产生不同的ID
	assert.NotEqual(t, first, KnowledgeItemID(scope, models.SourceTypeWebsite, "https://e.com/a", 1))
	assert.NotEqual(t, first, KnowledgeItemID(scope, models.SourceTypeWebsite, "https://e.com/b", 0))
	assert.NotEqual(t, first, KnowledgeItemID(scope, models.SourceTypeDocument, "https://e.com/a", 0))
	assert.NotEqual(t, first, KnowledgeItemID(mustScope(t, "org-2", "bot-1"), models.SourceTypeWebsite, "https://e.com/a", 0))
	assert.NotEqual(t, first, KnowledgeItemID(mustScope(t, "org-1", "bot-2"), models.SourceTypeWebsite, "https://e.com/a", 0))
}
