package models

import (
	"fmt"
	"strings"
)

// TenantScope 租户范围，由组织ID和机器人配置ID组成
// 所有向量存储操作都必须携带完整的TenantScope，缺少任一字段属于编程错误
type TenantScope struct {
	OrganizationID  string `json:"organization_id"`
	ChatbotConfigID string `json:"chatbot_config_id"`
}

// NewTenantScope 创建租户范围，两个字段都不能为空
func NewTenantScope(organizationID, chatbotConfigID string) (TenantScope, error) {
	organizationID = strings.TrimSpace(organizationID)
	chatbotConfigID = strings.TrimSpace(chatbotConfigID)
	if organizationID == "" {
		return TenantScope{}, fmt.Errorf("tenant scope requires organization id")
	}
	if chatbotConfigID == "" {
		return TenantScope{}, fmt.Errorf("tenant scope requires chatbot config id")
	}
	return TenantScope{
		OrganizationID:  organizationID,
		ChatbotConfigID: chatbotConfigID,
	}, nil
}

// IsZero 检查租户范围是否为空值
func (s TenantScope) IsZero() bool {
	return s.OrganizationID == "" || s.ChatbotConfigID == ""
}

// Key 返回用于锁和日志的稳定标识
func (s TenantScope) Key() string {
	return s.OrganizationID + "/" + s.ChatbotConfigID
}
