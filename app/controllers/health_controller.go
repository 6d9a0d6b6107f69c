package controllers

import (
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/aihub/kbsync/internal/knowledge"
)

// RootController 根路径
type RootController struct {
	BaseController
}

// Index 服务标识
func (c *RootController) Index() {
	c.JSONSuccess(map[string]interface{}{
		"service": "kbsync",
		"time":    time.Now().UTC(),
	})
}

// HealthController 健康检查
// 依赖字段必须导出：beego每个请求都会复制注册实例的导出字段到新实例，
// 非导出字段在请求处理时是零值
type HealthController struct {
	BaseController
	DB    *gorm.DB
	Store knowledge.VectorStore
}

// NewHealthController 创建健康检查控制器
func NewHealthController(db *gorm.DB, store knowledge.VectorStore) *HealthController {
	return &HealthController{DB: db, Store: store}
}

// Health 数据库和向量库的可用性
func (c *HealthController) Health() {
	checks := map[string]string{
		"database":     "ok",
		"vector_store": "ok",
	}
	healthy := true

	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err != nil || sqlDB.Ping() != nil {
			checks["database"] = "unavailable"
			healthy = false
		}
	}
	if c.Store == nil || !c.Store.Ready() {
		checks["vector_store"] = "unavailable"
		healthy = false
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, map[string]interface{}{
		"success": healthy,
		"checks":  checks,
	})
}
