package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// 爬取频率取值
const (
	CrawlFrequencyManual  = "manual"
	CrawlFrequencyDaily   = "daily"
	CrawlFrequencyWeekly  = "weekly"
	CrawlFrequencyMonthly = "monthly"
)

// 爬取配置默认值
const (
	DefaultMaxPages = 50
	DefaultMaxDepth = 3
)

// CrawlSettings 爬取配置策略
// 从存储的JSON解析而来，非法或缺失的字段一律回退到默认值，
// 配置问题绝不阻塞摄取流程
type CrawlSettings struct {
	MaxPages         int      `json:"max_pages"`
	MaxDepth         int      `json:"max_depth"`
	IncludePatterns  []string `json:"include_patterns"`
	ExcludePatterns  []string `json:"exclude_patterns"`
	RespectRobotsTxt bool     `json:"respect_robots_txt"`
	CrawlFrequency   string   `json:"crawl_frequency"`
	IncludeImages    bool     `json:"include_images"`
	IncludePDFs      bool     `json:"include_pdfs"`
}

// DefaultCrawlSettings 返回默认爬取配置
func DefaultCrawlSettings() CrawlSettings {
	return CrawlSettings{
		MaxPages:         DefaultMaxPages,
		MaxDepth:         DefaultMaxDepth,
		RespectRobotsTxt: true,
		CrawlFrequency:   CrawlFrequencyManual,
	}
}

// crawlSettingCoercers 逐字段的类型矫正表
// 每个函数只在成功解析出合法值时覆盖默认值
var crawlSettingCoercers = map[string]func(*CrawlSettings, interface{}){
	"max_pages": func(s *CrawlSettings, v interface{}) {
		if n, ok := coerceInt(v); ok && n >= 1 {
			s.MaxPages = n
		}
	},
	"max_depth": func(s *CrawlSettings, v interface{}) {
		if n, ok := coerceInt(v); ok && n >= 0 {
			s.MaxDepth = n
		}
	},
	"include_patterns": func(s *CrawlSettings, v interface{}) {
		if ps, ok := coerceStringSlice(v); ok {
			s.IncludePatterns = ps
		}
	},
	"exclude_patterns": func(s *CrawlSettings, v interface{}) {
		if ps, ok := coerceStringSlice(v); ok {
			s.ExcludePatterns = ps
		}
	},
	"respect_robots_txt": func(s *CrawlSettings, v interface{}) {
		if b, ok := coerceBool(v); ok {
			s.RespectRobotsTxt = b
		}
	},
	"crawl_frequency": func(s *CrawlSettings, v interface{}) {
		if f, ok := coerceString(v); ok {
			switch strings.ToLower(strings.TrimSpace(f)) {
			case CrawlFrequencyManual:
				s.CrawlFrequency = CrawlFrequencyManual
			case CrawlFrequencyDaily:
				s.CrawlFrequency = CrawlFrequencyDaily
			case CrawlFrequencyWeekly:
				s.CrawlFrequency = CrawlFrequencyWeekly
			case CrawlFrequencyMonthly:
				s.CrawlFrequency = CrawlFrequencyMonthly
			}
		}
	},
	"include_images": func(s *CrawlSettings, v interface{}) {
		if b, ok := coerceBool(v); ok {
			s.IncludeImages = b
		}
	},
	"include_pdfs": func(s *CrawlSettings, v interface{}) {
		if b, ok := coerceBool(v); ok {
			s.IncludePDFs = b
		}
	},
}

// ParseCrawlSettings 解析存储的爬取配置JSON
// 永不返回错误：空串、坏JSON、类型错误的字段都回退到默认值
func ParseCrawlSettings(raw string) CrawlSettings {
	settings := DefaultCrawlSettings()
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return settings
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return settings
	}

	for key, coerce := range crawlSettingCoercers {
		if value, ok := fields[key]; ok && value != nil {
			coerce(&settings, value)
		}
	}

	return settings
}

// ToJSON 序列化为存储格式
func (s CrawlSettings) ToJSON() string {
	data, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Interval 返回该频率对应的重新同步间隔，manual返回0
func (s CrawlSettings) Interval() time.Duration {
	switch s.CrawlFrequency {
	case CrawlFrequencyDaily:
		return 24 * time.Hour
	case CrawlFrequencyWeekly:
		return 7 * 24 * time.Hour
	case CrawlFrequencyMonthly:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// SyncDue 判断按频率计算是否到期需要重新同步
func (s CrawlSettings) SyncDue(lastSyncedAt *time.Time, now time.Time) bool {
	interval := s.Interval()
	if interval == 0 {
		return false
	}
	if lastSyncedAt == nil {
		return true
	}
	return now.Sub(*lastSyncedAt) >= interval
}

func coerceInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func coerceBool(v interface{}) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		if parsed, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
			return parsed, true
		}
	}
	return false, false
}

func coerceString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func coerceStringSlice(v interface{}) ([]string, bool) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	result := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			result = append(result, strings.TrimSpace(s))
		}
	}
	return result, true
}
