package models

import (
	"time"
)

// 源记录状态集合（封闭集，加载时遇到未知值归一化为pending）
const (
	SourceStatusPending     = "pending"
	SourceStatusCrawling    = "crawling"
	SourceStatusVectorizing = "vectorizing"
	SourceStatusCompleted   = "completed"
	SourceStatusError       = "error"
)

// 源类型
const (
	SourceTypeWebsite  = "website"
	SourceTypeDocument = "document"
)

// WebsiteSource 知识库内容源记录
// 状态字段只由同步协调器在同步周期内修改
type WebsiteSource struct {
	SourceID        uint       `gorm:"primaryKey;column:source_id" json:"source_id"`
	OrganizationID  string     `gorm:"column:organization_id;size:64;not null;index:idx_sources_tenant" json:"organization_id"`
	ChatbotConfigID string     `gorm:"column:chatbot_config_id;size:64;not null;index:idx_sources_tenant" json:"chatbot_config_id"`
	URL             string     `gorm:"size:500;not null" json:"url"`
	Name            string     `gorm:"size:200" json:"name"`
	SourceType      string     `gorm:"column:source_type;size:20;default:website" json:"source_type"`
	IsActive        bool       `gorm:"column:is_active;default:true" json:"is_active"`
	Status          string     `gorm:"size:20;default:pending" json:"status"`
	CrawlSettings   string     `gorm:"column:crawl_settings;type:json" json:"crawl_settings"`
	LastSyncedAt    *time.Time `gorm:"column:last_synced_at" json:"last_synced_at,omitempty"`
	PageCount       int        `gorm:"column:page_count;default:0" json:"page_count"`
	ErrorMessage    string     `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	RetryCount      int        `gorm:"column:retry_count;default:0" json:"retry_count"`
	CreateTime      time.Time  `gorm:"column:create_time" json:"create_time"`
	UpdateTime      time.Time  `gorm:"column:update_time" json:"update_time"`
}

func (WebsiteSource) TableName() string {
	return "website_sources"
}

// Scope 返回该源所属的租户范围
func (s *WebsiteSource) Scope() TenantScope {
	return TenantScope{
		OrganizationID:  s.OrganizationID,
		ChatbotConfigID: s.ChatbotConfigID,
	}
}

// Settings 解析该源的爬取配置，非法字段按默认值处理
func (s *WebsiteSource) Settings() CrawlSettings {
	return ParseCrawlSettings(s.CrawlSettings)
}

// NormalizeSourceStatus 将未知状态值归一化为pending
func NormalizeSourceStatus(status string) string {
	switch status {
	case SourceStatusPending, SourceStatusCrawling, SourceStatusVectorizing,
		SourceStatusCompleted, SourceStatusError:
		return status
	default:
		return SourceStatusPending
	}
}

// IngestionError 摄取过程中记录的运行错误
type IngestionError struct {
	ErrorID         uint      `gorm:"primaryKey;column:error_id" json:"error_id"`
	OrganizationID  string    `gorm:"column:organization_id;size:64;not null;index" json:"organization_id"`
	ChatbotConfigID string    `gorm:"column:chatbot_config_id;size:64;not null" json:"chatbot_config_id"`
	SourceID        uint      `gorm:"column:source_id;not null;index" json:"source_id"`
	Stage           string    `gorm:"size:20;not null" json:"stage"`
	Code            string    `gorm:"size:50;not null" json:"code"`
	Message         string    `gorm:"type:text" json:"message"`
	Retryable       bool      `gorm:"default:false" json:"retryable"`
	CreateTime      time.Time `gorm:"column:create_time" json:"create_time"`
}

func (IngestionError) TableName() string {
	return "ingestion_errors"
}
