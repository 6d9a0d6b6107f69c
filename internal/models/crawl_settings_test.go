package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseCrawlSettingsDefaults(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty string", ""},
		{"whitespace", "   "},
		{"broken json", `{"max_pages": 10`},
		{"not an object", `[1,2,3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := ParseCrawlSettings(tt.raw)
			assert.Equal(t, DefaultCrawlSettings(), settings)
		})
	}
}

func TestParseCrawlSettingsCoercion(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected func(s CrawlSettings) bool
	}{
		{
			"valid values pass through",
			`{"max_pages": 120, "max_depth": 5, "crawl_frequency": "weekly"}`,
			func(s CrawlSettings) bool {
				return s.MaxPages == 120 && s.MaxDepth == 5 && s.CrawlFrequency == CrawlFrequencyWeekly
			},
		},
		{
			"non-numeric max_pages falls back silently",
			`{"max_pages": "fifty"}`,
			func(s CrawlSettings) bool { return s.MaxPages == DefaultMaxPages },
		},
		{
			"numeric string is accepted",
			`{"max_pages": "25"}`,
			func(s CrawlSettings) bool { return s.MaxPages == 25 },
		},
		{
			"zero and negative max_pages fall back",
			`{"max_pages": 0, "max_depth": -2}`,
			func(s CrawlSettings) bool { return s.MaxPages == DefaultMaxPages && s.MaxDepth == DefaultMaxDepth },
		},
		{
			"unknown frequency keeps manual",
			`{"crawl_frequency": "hourly"}`,
			func(s CrawlSettings) bool { return s.CrawlFrequency == CrawlFrequencyManual },
		},
		{
			"frequency is case insensitive",
			`{"crawl_frequency": " Daily "}`,
			func(s CrawlSettings) bool { return s.CrawlFrequency == CrawlFrequencyDaily },
		},
		{
			"boolean string coerces",
			`{"respect_robots_txt": "false", "include_pdfs": true}`,
			func(s CrawlSettings) bool { return !s.RespectRobotsTxt && s.IncludePDFs },
		},
		{
			"patterns drop non-strings and blanks",
			`{"exclude_patterns": ["/admin", "", 42, " /tmp "]}`,
			func(s CrawlSettings) bool {
				return len(s.ExcludePatterns) == 2 && s.ExcludePatterns[0] == "/admin" && s.ExcludePatterns[1] == "/tmp"
			},
		},
		{
			"unknown fields are ignored",
			`{"max_pages": 10, "shiny_new_option": true}`,
			func(s CrawlSettings) bool { return s.MaxPages == 10 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := ParseCrawlSettings(tt.raw)
			assert.True(t, tt.expected(settings), "settings: %+v", settings)
		})
	}
}

func TestCrawlSettingsRoundTrip(t *testing.T) {
	original := ParseCrawlSettings(`{"max_pages": 30, "crawl_frequency": "daily", "exclude_patterns": ["/private"]}`)
	restored := ParseCrawlSettings(original.ToJSON())
	assert.Equal(t, original, restored)
}

func TestCrawlSettingsSyncDue(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	yesterday := now.Add(-25 * time.Hour)
	recently := now.Add(-time.Hour)

	manual := DefaultCrawlSettings()
	assert.False(t, manual.SyncDue(nil, now), "manual sources never auto-sync")

	daily := ParseCrawlSettings(`{"crawl_frequency": "daily"}`)
	assert.True(t, daily.SyncDue(nil, now), "never-synced sources are due")
	assert.True(t, daily.SyncDue(&yesterday, now))
	assert.False(t, daily.SyncDue(&recently, now))
}

func TestNormalizeSourceStatus(t *testing.T) {
	assert.Equal(t, SourceStatusCompleted, NormalizeSourceStatus("completed"))
	assert.Equal(t, SourceStatusPending, NormalizeSourceStatus("archived"))
	assert.Equal(t, SourceStatusPending, NormalizeSourceStatus(""))
}
