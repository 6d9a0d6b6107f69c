package knowledge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"go.uber.org/zap"

	apperrors "github.com/aihub/kbsync/internal/errors"
	"github.com/aihub/kbsync/internal/models"
)

const crawlerUserAgent = "kbsync-crawler/1.0"

// WebsiteCrawler 站内广度优先爬虫
// 只跟随同主机链接，页数和深度受爬取配置约束
type WebsiteCrawler struct {
	client *http.Client
	logger *zap.Logger
}

// NewWebsiteCrawler 创建站点爬虫
func NewWebsiteCrawler(logger *zap.Logger) *WebsiteCrawler {
	if logger == nil {
		logger = zap.L()
	}
	return &WebsiteCrawler{
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

type crawlTarget struct {
	url   string
	depth int
}

// Crawl 从起始URL开始抓取站内页面
// 起始页抓取失败是终态错误，后续单页失败只记录并跳过
func (c *WebsiteCrawler) Crawl(ctx context.Context, rawURL string, settings models.CrawlSettings) ([]KnowledgeItem, error) {
	root, err := url.Parse(rawURL)
	if err != nil || root.Host == "" {
		return nil, apperrors.NewCrawlFailedError("invalid start url", err)
	}

	var disallowed []string
	if settings.RespectRobotsTxt {
		disallowed = c.fetchRobotsDisallow(ctx, root)
	}

	visited := map[string]bool{rawURL: true}
	queue := []crawlTarget{{url: rawURL, depth: 0}}
	var items []KnowledgeItem

	for len(queue) > 0 && len(items) < settings.MaxPages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		target := queue[0]
		queue = queue[1:]

		page, links, err := c.fetchPage(ctx, target.url)
		if err != nil {
			if len(items) == 0 && target.depth == 0 {
				return nil, apperrors.NewCrawlFailedError("start page unreachable", err)
			}
			c.logger.Warn("page fetch failed, skipping",
				zap.String("url", target.url), zap.Error(err))
			continue
		}
		if page != nil {
			items = append(items, *page)
		}

		if target.depth >= settings.MaxDepth {
			continue
		}
		for _, link := range links {
			next := resolveLink(root, link)
			if next == "" || visited[next] {
				continue
			}
			if !allowedPath(next, root, settings, disallowed) {
				continue
			}
			visited[next] = true
			queue = append(queue, crawlTarget{url: next, depth: target.depth + 1})
		}
	}

	if len(items) == 0 {
		return nil, apperrors.NewCrawlFailedError("no crawlable pages found", nil)
	}
	return items, nil
}

// fetchPage 抓取单页，返回提取的内容和页面内链接
// 非HTML响应返回nil页面
func (c *WebsiteCrawler) fetchPage(ctx context.Context, pageURL string) (*KnowledgeItem, []string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", crawlerUserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "text/html") {
		return nil, nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, nil, err
	}

	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, nil, err
	}

	title := findTitle(doc)
	text := collectText(doc)
	links := collectLinks(doc)

	if strings.TrimSpace(text) == "" {
		return nil, links, nil
	}
	return &KnowledgeItem{URL: pageURL, Title: title, Text: text}, links, nil
}

// fetchRobotsDisallow 抓取robots.txt的Disallow前缀
// 取不到就视为全部允许
func (c *WebsiteCrawler) fetchRobotsDisallow(ctx context.Context, root *url.URL) []string {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", root.Scheme, root.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", crawlerUserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil
	}
	return parseRobotsDisallow(string(body))
}

// parseRobotsDisallow 解析User-agent:*段的Disallow规则
func parseRobotsDisallow(body string) []string {
	var rules []string
	applies := false
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "user-agent:"):
			agent := strings.TrimSpace(line[len("user-agent:"):])
			applies = agent == "*"
		case applies && strings.HasPrefix(lower, "disallow:"):
			path := strings.TrimSpace(line[len("disallow:"):])
			if path != "" {
				rules = append(rules, path)
			}
		}
	}
	return rules
}

// resolveLink 把页面链接解析为同主机的绝对URL，否则返回空串
func resolveLink(root *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := root.ResolveReference(ref)
	if resolved.Host != root.Host {
		return ""
	}
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}

// allowedPath 按robots规则和包含/排除模式过滤链接
func allowedPath(link string, root *url.URL, settings models.CrawlSettings, disallowed []string) bool {
	parsed, err := url.Parse(link)
	if err != nil {
		return false
	}
	for _, rule := range disallowed {
		if strings.HasPrefix(parsed.Path, rule) {
			return false
		}
	}
	for _, pattern := range settings.ExcludePatterns {
		if pattern != "" && strings.Contains(link, pattern) {
			return false
		}
	}
	if len(settings.IncludePatterns) > 0 {
		for _, pattern := range settings.IncludePatterns {
			if pattern != "" && strings.Contains(link, pattern) {
				return true
			}
		}
		return false
	}
	return true
}

// findTitle 提取<title>文本
func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		if n.FirstChild != nil {
			return strings.TrimSpace(n.FirstChild.Data)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

// collectText 收集可见文本，跳过脚本和样式
func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode {
			switch node.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Head:
				return
			}
		}
		if node.Type == html.TextNode {
			text := strings.TrimSpace(node.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteString("\n")
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

// collectLinks 收集所有<a href>
func collectLinks(n *html.Node) []string {
	var links []string
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.DataAtom == atom.A {
			for _, attr := range node.Attr {
				if attr.Key == "href" && attr.Val != "" {
					links = append(links, attr.Val)
				}
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return links
}
