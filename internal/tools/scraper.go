package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/sagelab/researchd/internal/metrics"
)

// Scraper fetches a page and extracts text and numeric series from it.
type Scraper interface {
	FetchText(ctx context.Context, pageURL string) Result
	ExtractNumbers(text string, max int) []float64
}

// PageScraper pulls visible text out of HTML pages for downstream
// numeric extraction.
type PageScraper struct {
	client *http.Client
	logger *zap.Logger
}

func NewPageScraper(timeout time.Duration, logger *zap.Logger) *PageScraper {
	return &PageScraper{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// FetchText retrieves the page and strips it to visible text, capped at
// 10000 characters. Failures degrade with the reason rather than erroring.
func (p *PageScraper) FetchText(ctx context.Context, pageURL string) Result {
	start := time.Now()
	defer func() {
		metrics.ToolCallDuration.WithLabelValues("scraper").Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return p.degraded(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("User-Agent", searchUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return p.degraded(fmt.Sprintf("fetch %s: %v", pageURL, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return p.degraded(fmt.Sprintf("fetch %s: status %d", pageURL, resp.StatusCode))
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return p.degraded(fmt.Sprintf("parse %s: %v", pageURL, err))
	}
	text := visibleText(doc)
	if text == "" {
		return p.degraded(fmt.Sprintf("no text content at %s", pageURL))
	}
	metrics.ToolCalls.WithLabelValues("scraper", "ok").Inc()
	return Ok(truncate(text, 10000))
}

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// ExtractNumbers pulls up to max parseable numbers from text, skipping
// implausible magnitudes that are usually years or identifiers mashed
// together.
func (p *PageScraper) ExtractNumbers(text string, max int) []float64 {
	if max <= 0 {
		max = 50
	}
	matches := numberPattern.FindAllString(text, -1)
	out := make([]float64, 0, max)
	for _, m := range matches {
		v, err := strconv.ParseFloat(m, 64)
		if err != nil {
			continue
		}
		if v > 1e9 || v < -1e9 {
			continue
		}
		out = append(out, v)
		if len(out) >= max {
			break
		}
	}
	return out
}

func (p *PageScraper) degraded(reason string) Result {
	metrics.ToolCalls.WithLabelValues("scraper", "degraded").Inc()
	metrics.DegradedResults.WithLabelValues("scraper").Inc()
	p.logger.Debug("Scrape degraded", zap.String("reason", reason))
	return Fallback("", reason)
}

// visibleText walks the DOM collecting text nodes, skipping script and
// style subtrees.
func visibleText(doc *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "head":
				return
			}
		}
		if n.Type == html.TextNode {
			t := strings.TrimSpace(n.Data)
			if t != "" {
				sb.WriteString(t)
				sb.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(sb.String())
}
