package wftool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

const (
	webSearchEndpoint   = "https://lite.duckduckgo.com/lite/"
	webSearchMaxResults = 10
	webSearchMinResults = 1
	webSearchDefault    = 5
	webSearchMaxQuery   = 500
	webSearchMinTimeout = 250 * time.Millisecond
	webSearchMaxTimeout = 30 * time.Second
)

// SearchResult is one deduplicated hit returned by WebSearchTool.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Snippet     string `json:"snippet,omitempty"`
	DisplayURL  string `json:"display_url,omitempty"`
}

// WebSearchTool fetches a DuckDuckGo-lite results page, parses anchor and
// snippet blocks out of the returned HTML, decodes the provider's redirect
// URLs, and returns deduplicated results. It is rate-limited so a node's
// repeated searches cannot hammer the upstream page.
//
// Grounded in the original implementation's `_search_duckduckgo_lite`.
type WebSearchTool struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewWebSearchTool builds a WebSearchTool capped to ratePerSecond requests a
// second (burst 1). A ratePerSecond <= 0 disables limiting.
func NewWebSearchTool(ratePerSecond float64) *WebSearchTool {
	var limiter *rate.Limiter
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), 1)
	}
	return &WebSearchTool{
		httpClient: &http.Client{},
		limiter:    limiter,
	}
}

func (w *WebSearchTool) Name() string { return "web_search" }

func (w *WebSearchTool) Spec() Spec {
	return Spec{
		Name:         "web_search",
		Description:  "Search the public web via a lite search engine and return titles, URLs, and snippets.",
		RequiredArgs: []string{"query"},
		Args: map[string]ArgSpec{
			"query":           {Type: "string", Description: "Search query, up to 500 characters."},
			"max_results":     {Type: "number", Description: "Number of results to return (1-10, default 5)."},
			"site":            {Type: "string", Description: "Optional site: filter appended to the query."},
			"timeout_seconds": {Type: "number", Description: "Request timeout in seconds (0.25-30, default 10)."},
		},
		Limitations: []string{
			"Results come from a single lite search provider and may omit relevant pages.",
			"JavaScript-rendered content is not visible to this tool.",
			"Rate limited; bursts of searches may be delayed or rejected.",
		},
	}
}

func (w *WebSearchTool) Call(ctx context.Context, _ Context, args map[string]any) (map[string]any, error) {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("web_search: query is required")
	}
	if len(query) > webSearchMaxQuery {
		query = query[:webSearchMaxQuery]
	}

	if site, ok := args["site"].(string); ok && strings.TrimSpace(site) != "" {
		query = fmt.Sprintf("%s site:%s", query, strings.TrimSpace(site))
	}

	maxResults := clampInt(numArg(args["max_results"], webSearchDefault), webSearchMinResults, webSearchMaxResults)
	timeout := clampDuration(durationArg(args["timeout_seconds"], 10*time.Second), webSearchMinTimeout, webSearchMaxTimeout)

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("web_search: rate limit wait: %w", err)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, warnings, err := w.fetchAndParse(reqCtx, query, maxResults)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"provider":      "duckduckgo_lite",
		"query":         query,
		"applied_query": query,
		"results":       results,
		"result_count":  len(results),
		"warnings":      warnings,
	}, nil
}

func (w *WebSearchTool) fetchAndParse(ctx context.Context, query string, maxResults int) ([]SearchResult, []string, error) {
	endpoint := webSearchEndpoint + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("web_search: build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; workflow-run-engine/1.0)")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("web_search: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("web_search: upstream returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("web_search: read body: %w", err)
	}

	results, warnings := parseDuckDuckGoLite(string(body), maxResults)
	return results, warnings, nil
}

// parseDuckDuckGoLite walks the lite results page's HTML and extracts
// result-link anchors, result-snippet cells, and link-text spans in
// document order, zipping them positionally, deduplicating by resolved URL.
func parseDuckDuckGoLite(body string, maxResults int) ([]SearchResult, []string) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, []string{"failed to parse results page"}
	}

	var titles, hrefs, snippets, displays []string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "a":
				if hasClassContaining(n, "result-link") {
					titles = append(titles, textContent(n))
					hrefs = append(hrefs, attr(n, "href"))
				}
			case "td":
				if hasClassContaining(n, "result-snippet") {
					snippets = append(snippets, textContent(n))
				}
			case "span":
				if hasClassContaining(n, "link-text") {
					displays = append(displays, textContent(n))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	seen := make(map[string]bool, len(hrefs))
	var warnings []string
	out := make([]SearchResult, 0, maxResults)
	for i, href := range hrefs {
		if len(out) >= maxResults {
			break
		}
		resolved := decodeDuckDuckGoURL(href)
		if resolved == "" || seen[resolved] {
			continue
		}
		seen[resolved] = true

		r := SearchResult{URL: resolved}
		if i < len(titles) {
			r.Title = strings.TrimSpace(titles[i])
		}
		if i < len(snippets) {
			r.Snippet = strings.TrimSpace(snippets[i])
		}
		if i < len(displays) {
			r.DisplayURL = strings.TrimSpace(displays[i])
		}
		out = append(out, r)
	}

	if len(out) == 0 {
		warnings = append(warnings, "no results parsed from provider response")
	}
	return out, warnings
}

// decodeDuckDuckGoURL extracts and URL-decodes the "uddg" redirect target
// from a lite.duckduckgo.com result link. Non-redirect links pass through
// unchanged.
func decodeDuckDuckGoURL(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		if decoded, err := url.QueryUnescape(target); err == nil {
			return decoded
		}
		return target
	}
	if parsed.Scheme == "" {
		return ""
	}
	return href
}

func hasClassContaining(n *html.Node, needle string) bool {
	class := attr(n, "class")
	for _, c := range strings.Fields(class) {
		if c == needle || strings.Contains(c, needle) {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func numArg(v any, def float64) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return def
	}
}

func durationArg(v any, def time.Duration) time.Duration {
	switch t := v.(type) {
	case float64:
		return time.Duration(t * float64(time.Second))
	case int:
		return time.Duration(t) * time.Second
	default:
		return def
	}
}

func clampInt(v float64, min, max int) int {
	n := int(v)
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func clampDuration(v, min, max time.Duration) time.Duration {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
