package controllers

import (
	"net/http"
	"strconv"

	"github.com/beego/beego/v2/server/web"

	apperrors "github.com/aihub/kbsync/internal/errors"
	"github.com/aihub/kbsync/internal/models"
)

// BaseController provides helpers for consistent JSON responses.
type BaseController struct {
	web.Controller
}

// JSON writes a JSON response with the supplied HTTP status code.
func (c *BaseController) JSON(status int, payload interface{}) {
	c.Ctx.Output.SetStatus(status)
	c.Data["json"] = payload
	c.ServeJSON()
}

// JSONSuccess writes a standard success envelope.
func (c *BaseController) JSONSuccess(data interface{}) {
	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// JSONError writes an error envelope with message.
func (c *BaseController) JSONError(status int, code, message string) {
	c.JSON(status, map[string]interface{}{
		"success": false,
		"code":    code,
		"error":   message,
	})
}

// HandleError 把应用错误映射为HTTP响应
// 非应用错误一律按内部错误处理，不透出原始错误文本
func (c *BaseController) HandleError(err error) {
	appErr := apperrors.GetAppError(err)
	c.JSONError(appErr.HTTPCode, string(appErr.Code), appErr.Message)
}

// tenantScope 从请求头解析租户范围
// 两个标识都缺一不可，缺失直接拒绝请求
func (c *BaseController) tenantScope() (models.TenantScope, bool) {
	orgID := c.Ctx.Input.Header("X-Organization-Id")
	chatbotID := c.Ctx.Input.Header("X-Chatbot-Config-Id")
	if orgID == "" {
		orgID = c.GetString("organization_id")
	}
	if chatbotID == "" {
		chatbotID = c.GetString("chatbot_config_id")
	}

	scope, err := models.NewTenantScope(orgID, chatbotID)
	if err != nil {
		c.HandleError(apperrors.NewInvalidInputError(err.Error()))
		return models.TenantScope{}, false
	}
	return scope, true
}

// pathSourceID 解析路径里的源ID
func (c *BaseController) pathSourceID() (uint, bool) {
	raw := c.Ctx.Input.Param(":id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		c.HandleError(apperrors.NewInvalidInputError("Invalid source id"))
		return 0, false
	}
	return uint(id), true
}
