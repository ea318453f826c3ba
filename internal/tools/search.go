package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/sagelab/researchd/internal/metrics"
	"github.com/sagelab/researchd/internal/research"
)

const (
	tavilyEndpoint = "https://api.tavily.com/search"
	arxivEndpoint  = "http://export.arxiv.org/api/query"
	githubEndpoint = "https://api.github.com/search/repositories"
	ddgEndpoint    = "https://html.duckduckgo.com/html/"

	searchUserAgent = "Mozilla/5.0 (compatible; researchd/1.0)"
)

// Search queries external indexes for records relevant to a query.
type Search interface {
	SearchWeb(ctx context.Context, query string) SearchOutcome
	SearchArxiv(ctx context.Context, query string, max int) SearchOutcome
	SearchRepos(ctx context.Context, query string) SearchOutcome
}

// WebSearcher implements Search over a keyed primary provider with an
// unauthenticated scrape fallback. An empty API key silently routes every
// web query to the fallback provider.
type WebSearcher struct {
	apiKey string
	client *http.Client
	logger *zap.Logger
}

// NewWebSearcher builds a searcher; apiKey may be empty.
func NewWebSearcher(apiKey string, timeout time.Duration, logger *zap.Logger) *WebSearcher {
	return &WebSearcher{
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// SearchWeb queries the primary provider when a credential is present,
// falling back to the scrape provider on absence or failure. Both failing
// yields a degraded empty outcome, never an error.
func (s *WebSearcher) SearchWeb(ctx context.Context, query string) SearchOutcome {
	if s.apiKey != "" {
		records, err := s.searchTavily(ctx, query)
		if err == nil && len(records) > 0 {
			metrics.ToolCalls.WithLabelValues("search", "ok").Inc()
			return SearchOutcome{Records: records}
		}
		if err != nil {
			s.logger.Debug("Primary search failed, trying fallback", zap.Error(err))
		}
	}
	records, err := s.searchDuckDuckGo(ctx, query)
	if err != nil {
		metrics.ToolCalls.WithLabelValues("search", "degraded").Inc()
		metrics.DegradedResults.WithLabelValues("search").Inc()
		return SearchOutcome{Degraded: true, Reason: fmt.Sprintf("all search providers failed: %v", err)}
	}
	metrics.ToolCalls.WithLabelValues("search", "ok").Inc()
	return SearchOutcome{Records: records}
}

func (s *WebSearcher) searchTavily(ctx context.Context, query string) ([]research.Record, error) {
	payload := map[string]any{
		"api_key":      s.apiKey,
		"query":        query,
		"search_depth": "basic",
		"max_results":  5,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tavilyEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily status %d", resp.StatusCode)
	}

	var out struct {
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	records := make([]research.Record, 0, len(out.Results))
	for _, r := range out.Results {
		records = append(records, research.Record{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: truncate(r.Content, 500),
			Source:  "tavily",
			Score:   r.Score,
		})
	}
	return records, nil
}

func (s *WebSearcher) searchDuckDuckGo(ctx context.Context, query string) ([]research.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ddgEndpoint+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", searchUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, err
	}
	records := parseDDGResults(doc)
	if len(records) == 0 {
		return nil, fmt.Errorf("no results parsed")
	}
	return records, nil
}

// parseDDGResults walks the result page extracting anchors with the
// result__a class and their snippets.
func parseDDGResults(doc *html.Node) []research.Record {
	var records []research.Record
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" && hasClass(n, "result__a") {
			rec := research.Record{
				Title:  nodeText(n),
				URL:    attr(n, "href"),
				Source: "duckduckgo",
				Score:  0.5,
			}
			if rec.Title != "" && len(records) < 5 {
				records = append(records, rec)
			}
		}
		if n.Type == html.ElementNode && hasClass(n, "result__snippet") && len(records) > 0 {
			last := &records[len(records)-1]
			if last.Snippet == "" {
				last.Snippet = truncate(nodeText(n), 300)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return records
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" {
			for _, c := range strings.Fields(a.Val) {
				if c == class {
					return true
				}
			}
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

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

type arxivFeed struct {
	Entries []struct {
		Title     string `xml:"title"`
		Summary   string `xml:"summary"`
		ID        string `xml:"id"`
		Published string `xml:"published"`
	} `xml:"entry"`
}

// SearchArxiv queries the arXiv Atom API sorted by submission date.
func (s *WebSearcher) SearchArxiv(ctx context.Context, query string, max int) SearchOutcome {
	if max <= 0 {
		max = 5
	}
	q := url.Values{}
	q.Set("search_query", "all:"+query)
	q.Set("start", "0")
	q.Set("max_results", fmt.Sprintf("%d", max))
	q.Set("sortBy", "submittedDate")
	q.Set("sortOrder", "descending")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, arxivEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return s.degradedSearch("arxiv", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return s.degradedSearch("arxiv", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return s.degradedSearch("arxiv", fmt.Errorf("status %d", resp.StatusCode))
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return s.degradedSearch("arxiv", err)
	}
	records := make([]research.Record, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		records = append(records, research.Record{
			Title:   "ArXiv: " + truncate(strings.TrimSpace(e.Title), 100),
			URL:     strings.TrimSpace(e.ID),
			Snippet: truncate(strings.TrimSpace(e.Summary), 500),
			Source:  "arxiv",
			Score:   0.8,
		})
	}
	metrics.ToolCalls.WithLabelValues("arxiv", "ok").Inc()
	return SearchOutcome{Records: records}
}

// SearchRepos queries the GitHub repository search API, newest-first by
// stars, no credential required.
func (s *WebSearcher) SearchRepos(ctx context.Context, query string) SearchOutcome {
	q := url.Values{}
	q.Set("q", query)
	q.Set("sort", "stars")
	q.Set("order", "desc")
	q.Set("per_page", "5")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, githubEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return s.degradedSearch("github", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", searchUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return s.degradedSearch("github", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return s.degradedSearch("github", fmt.Errorf("status %d", resp.StatusCode))
	}

	var out struct {
		Items []struct {
			FullName    string `json:"full_name"`
			HTMLURL     string `json:"html_url"`
			Description string `json:"description"`
			Stars       int    `json:"stargazers_count"`
			Language    string `json:"language"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return s.degradedSearch("github", err)
	}
	records := make([]research.Record, 0, len(out.Items))
	for _, item := range out.Items {
		records = append(records, research.Record{
			Title:   "GitHub: " + item.FullName,
			URL:     item.HTMLURL,
			Snippet: fmt.Sprintf("%s | stars: %d | language: %s", item.Description, item.Stars, item.Language),
			Source:  "github",
			Score:   0.85,
		})
	}
	metrics.ToolCalls.WithLabelValues("github", "ok").Inc()
	return SearchOutcome{Records: records}
}

func (s *WebSearcher) degradedSearch(provider string, err error) SearchOutcome {
	metrics.ToolCalls.WithLabelValues(provider, "degraded").Inc()
	metrics.DegradedResults.WithLabelValues(provider).Inc()
	s.logger.Debug("Search provider degraded", zap.String("provider", provider), zap.Error(err))
	return SearchOutcome{Degraded: true, Reason: fmt.Sprintf("%s: %v", provider, err)}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
