package controllers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/aihub/kbsync/internal/errors"
	"github.com/aihub/kbsync/internal/services"
)

// SourceController 源记录管理接口
// Service必须导出，beego按请求复制注册实例时只拷贝导出字段
type SourceController struct {
	BaseController
	Service *services.SourceService
}

// NewSourceController 创建源记录控制器
func NewSourceController(service *services.SourceService) *SourceController {
	return &SourceController{Service: service}
}

// List 列出租户范围内的源
func (c *SourceController) List() {
	scope, ok := c.tenantScope()
	if !ok {
		return
	}

	activeOnly, _ := c.GetBool("active_only", false)
	sources, err := c.Service.List(c.Ctx.Request.Context(), scope, activeOnly)
	if err != nil {
		c.HandleError(err)
		return
	}
	c.JSONSuccess(map[string]interface{}{
		"sources": sources,
		"total":   len(sources),
	})
}

// Create 注册新源
func (c *SourceController) Create() {
	scope, ok := c.tenantScope()
	if !ok {
		return
	}

	var req services.RegisterSourceRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.HandleError(apperrors.NewInvalidInputError("Invalid request body").WithCause(err))
		return
	}

	source, err := c.Service.Register(c.Ctx.Request.Context(), scope, &req)
	if err != nil {
		c.HandleError(err)
		return
	}
	c.JSON(http.StatusCreated, map[string]interface{}{
		"success": true,
		"data":    source,
	})
}

// Get 获取单个源
func (c *SourceController) Get() {
	scope, ok := c.tenantScope()
	if !ok {
		return
	}
	sourceID, ok := c.pathSourceID()
	if !ok {
		return
	}

	source, err := c.Service.Get(c.Ctx.Request.Context(), scope, sourceID)
	if err != nil {
		c.HandleError(err)
		return
	}
	c.JSONSuccess(source)
}

// Resync 触发一次重新同步
func (c *SourceController) Resync() {
	scope, ok := c.tenantScope()
	if !ok {
		return
	}
	sourceID, ok := c.pathSourceID()
	if !ok {
		return
	}

	result, err := c.Service.Resync(c.Ctx.Request.Context(), scope, sourceID)
	if err != nil {
		c.HandleError(err)
		return
	}
	c.JSONSuccess(map[string]interface{}{
		"source_id":       result.SourceID,
		"pages_crawled":   result.PagesCrawled,
		"vectors_deleted": result.VectorsDeleted,
		"chunks_upserted": result.ChunksUpserted,
		"duration_ms":     result.Duration.Milliseconds(),
	})
}

// Errors 返回某个源最近的摄取错误，用于排查同步失败
func (c *SourceController) Errors() {
	scope, ok := c.tenantScope()
	if !ok {
		return
	}
	sourceID, ok := c.pathSourceID()
	if !ok {
		return
	}

	limit, _ := c.GetInt("limit", 20)
	records, err := c.Service.RecentErrors(c.Ctx.Request.Context(), scope, sourceID, limit)
	if err != nil {
		c.HandleError(err)
		return
	}
	c.JSONSuccess(map[string]interface{}{
		"errors": records,
		"total":  len(records),
	})
}

// UpdateSettings 替换源的爬取配置
func (c *SourceController) UpdateSettings() {
	scope, ok := c.tenantScope()
	if !ok {
		return
	}
	sourceID, ok := c.pathSourceID()
	if !ok {
		return
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &raw); err != nil {
		c.HandleError(apperrors.NewInvalidInputError("Invalid request body").WithCause(err))
		return
	}

	source, err := c.Service.UpdateCrawlSettings(c.Ctx.Request.Context(), scope, sourceID, raw)
	if err != nil {
		c.HandleError(err)
		return
	}
	c.JSONSuccess(source)
}

// Deactivate 停用源
func (c *SourceController) Deactivate() {
	scope, ok := c.tenantScope()
	if !ok {
		return
	}
	sourceID, ok := c.pathSourceID()
	if !ok {
		return
	}

	if err := c.Service.Deactivate(c.Ctx.Request.Context(), scope, sourceID); err != nil {
		c.HandleError(err)
		return
	}
	c.JSONSuccess(map[string]interface{}{"deactivated": true})
}

// Activate 重新启用源
func (c *SourceController) Activate() {
	scope, ok := c.tenantScope()
	if !ok {
		return
	}
	sourceID, ok := c.pathSourceID()
	if !ok {
		return
	}

	if err := c.Service.Activate(c.Ctx.Request.Context(), scope, sourceID); err != nil {
		c.HandleError(err)
		return
	}
	c.JSONSuccess(map[string]interface{}{"activated": true})
}

// Purge 清除停用源遗留的向量
func (c *SourceController) Purge() {
	scope, ok := c.tenantScope()
	if !ok {
		return
	}
	sourceID, ok := c.pathSourceID()
	if !ok {
		return
	}

	deleted, err := c.Service.Purge(c.Ctx.Request.Context(), scope, sourceID)
	if err != nil {
		c.HandleError(err)
		return
	}
	c.JSONSuccess(map[string]interface{}{"vectors_deleted": deleted})
}
