package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/beego/beego/v2/server/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/kbsync/internal/errors"
	"github.com/aihub/kbsync/internal/knowledge"
	"github.com/aihub/kbsync/internal/models"
	"github.com/aihub/kbsync/internal/services"
	"github.com/aihub/kbsync/internal/synclock"
)

// stubSourceRepo 控制器测试用的内存仓库
type stubSourceRepo struct {
	mu      sync.Mutex
	nextID  uint
	sources map[uint]*models.WebsiteSource
}

func newStubSourceRepo() *stubSourceRepo {
	return &stubSourceRepo{sources: map[uint]*models.WebsiteSource{}}
}

func (r *stubSourceRepo) Create(ctx context.Context, source *models.WebsiteSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	source.SourceID = r.nextID
	copied := *source
	r.sources[source.SourceID] = &copied
	return nil
}

func (r *stubSourceRepo) GetByID(ctx context.Context, scope models.TenantScope, sourceID uint) (*models.WebsiteSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	source, ok := r.sources[sourceID]
	if !ok || source.OrganizationID != scope.OrganizationID || source.ChatbotConfigID != scope.ChatbotConfigID {
		return nil, apperrors.NewNotFoundError("source")
	}
	copied := *source
	return &copied, nil
}

func (r *stubSourceRepo) ListByScope(ctx context.Context, scope models.TenantScope, activeOnly bool) ([]models.WebsiteSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []models.WebsiteSource
	for _, source := range r.sources {
		if source.OrganizationID != scope.OrganizationID || source.ChatbotConfigID != scope.ChatbotConfigID {
			continue
		}
		if activeOnly && !source.IsActive {
			continue
		}
		result = append(result, *source)
	}
	return result, nil
}

func (r *stubSourceRepo) ListSyncCandidates(ctx context.Context) ([]models.WebsiteSource, error) {
	return nil, nil
}

func (r *stubSourceRepo) Updates(ctx context.Context, scope models.TenantScope, sourceID uint, updates map[string]interface{}) error {
	if _, err := r.GetByID(ctx, scope, sourceID); err != nil {
		return err
	}
	return nil
}

func (r *stubSourceRepo) SetActive(ctx context.Context, scope models.TenantScope, sourceID uint, active bool) error {
	source, err := r.GetByID(ctx, scope, sourceID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	source.IsActive = active
	r.sources[sourceID] = source
	return nil
}

type stubVectorStore struct{}

func (s *stubVectorStore) Count(ctx context.Context, filter knowledge.VectorFilter) (int64, error) {
	return 0, nil
}

func (s *stubVectorStore) DeleteByFilter(ctx context.Context, filter knowledge.VectorFilter) (int64, error) {
	return 0, nil
}

func (s *stubVectorStore) DeleteByIDs(ctx context.Context, scope models.TenantScope, ids []string) error {
	return nil
}

func (s *stubVectorStore) Upsert(ctx context.Context, scope models.TenantScope, chunks []knowledge.VectorChunk) error {
	return nil
}

func (s *stubVectorStore) Ready() bool { return true }

var registerRoutes sync.Once

// newTestApp 注册一次路由并返回测试仓库
// 控制器实例经由beego按请求复制，这里走完整的HTTP栈以覆盖字段注入
func newTestApp(t *testing.T) *stubSourceRepo {
	t.Helper()
	repo := newStubSourceRepo()

	repoHolder.Lock()
	currentRepo = repo
	repoHolder.Unlock()

	registerRoutes.Do(func() {
		service := services.NewSourceService(
			&routedRepo{},
			&stubVectorStore{},
			services.NewSyncCoordinator(
				&routedRepo{},
				services.NewSourceStateMachine(&routedRepo{}),
				&stubVectorStore{},
				&knowledge.NoopCrawler{},
				&knowledge.NoopEmbedder{},
				synclock.NewLocker(nil, time.Minute),
				apperrors.NewIngestionPolicy(3),
				apperrors.NewTracker(nil),
				nil,
			),
			apperrors.NewTracker(nil),
		)

		controller := NewSourceController(service)
		web.Router("/api/sources", controller, "get:List;post:Create")
		web.Router("/api/sources/:id", controller, "get:Get")
		web.Router("/health", NewHealthController(nil, &stubVectorStore{}), "get:Health")
	})
	return repo
}

// routedRepo 把调用转发给当前测试的仓库，路由只能注册一次
type routedRepo struct{}

var (
	repoHolder  sync.Mutex
	currentRepo *stubSourceRepo
)

func activeRepo() *stubSourceRepo {
	repoHolder.Lock()
	defer repoHolder.Unlock()
	return currentRepo
}

func (r *routedRepo) Create(ctx context.Context, source *models.WebsiteSource) error {
	return activeRepo().Create(ctx, source)
}

func (r *routedRepo) GetByID(ctx context.Context, scope models.TenantScope, sourceID uint) (*models.WebsiteSource, error) {
	return activeRepo().GetByID(ctx, scope, sourceID)
}

func (r *routedRepo) ListByScope(ctx context.Context, scope models.TenantScope, activeOnly bool) ([]models.WebsiteSource, error) {
	return activeRepo().ListByScope(ctx, scope, activeOnly)
}

func (r *routedRepo) ListSyncCandidates(ctx context.Context) ([]models.WebsiteSource, error) {
	return activeRepo().ListSyncCandidates(ctx)
}

func (r *routedRepo) Updates(ctx context.Context, scope models.TenantScope, sourceID uint, updates map[string]interface{}) error {
	return activeRepo().Updates(ctx, scope, sourceID, updates)
}

func (r *routedRepo) SetActive(ctx context.Context, scope models.TenantScope, sourceID uint, active bool) error {
	return activeRepo().SetActive(ctx, scope, sourceID, active)
}

func serve(t *testing.T, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	web.BeeApp.Handlers.ServeHTTP(recorder, req)
	return recorder
}

func scopeHeaders() map[string]string {
	return map[string]string{
		"X-Organization-Id":   "org-1",
		"X-Chatbot-Config-Id": "bot-1",
	}
}

func TestListSourcesOverHTTP(t *testing.T) {
	repo := newTestApp(t)
	require.NoError(t, repo.Create(context.Background(), &models.WebsiteSource{
		OrganizationID:  "org-1",
		ChatbotConfigID: "bot-1",
		URL:             "https://docs.example.com",
		SourceType:      models.SourceTypeWebsite,
		IsActive:        true,
		Status:          models.SourceStatusCompleted,
	}))

	recorder := serve(t, http.MethodGet, "/api/sources", scopeHeaders())
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Total int `json:"total"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, 1, body.Data.Total)
}

func TestMissingScopeIsRejectedOverHTTP(t *testing.T) {
	newTestApp(t)

	recorder := serve(t, http.MethodGet, "/api/sources", nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code, recorder.Body.String())

	var body struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, string(apperrors.ErrCodeInvalidInput), body.Code)
}

func TestGetMissingSourceOverHTTP(t *testing.T) {
	newTestApp(t)

	recorder := serve(t, http.MethodGet, "/api/sources/99", scopeHeaders())
	assert.Equal(t, http.StatusNotFound, recorder.Code, recorder.Body.String())
}

func TestHealthOverHTTP(t *testing.T) {
	newTestApp(t)

	recorder := serve(t, http.MethodGet, "/health", scopeHeaders())
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	var body struct {
		Success bool              `json:"success"`
		Checks  map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "ok", body.Checks["vector_store"])
}
