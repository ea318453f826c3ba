package tools

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Toolset is the single surface agents call through. Every method is a
// bounded operation: it applies the gateway timeout, records metrics, and
// reports provider failure through the degraded outcome rather than an
// error.
type Toolset interface {
	Complete(ctx context.Context, prompt string, temperature float64) Result
	CompleteJSON(ctx context.Context, prompt string, temperature float64, out any) Result
	SearchWeb(ctx context.Context, query string) SearchOutcome
	SearchArxiv(ctx context.Context, query string, max int) SearchOutcome
	SearchRepos(ctx context.Context, query string) SearchOutcome
	FetchPage(ctx context.Context, pageURL string) Result
	ExtractNumbers(text string, max int) []float64
}

// Gateway bundles the concrete providers behind Toolset with a shared
// per-call timeout.
type Gateway struct {
	llm     LLM
	search  Search
	scraper Scraper
	timeout time.Duration
	logger  *zap.Logger
}

func NewGateway(llm LLM, search Search, scraper Scraper, timeout time.Duration, logger *zap.Logger) *Gateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		llm:     llm,
		search:  search,
		scraper: scraper,
		timeout: timeout,
		logger:  logger,
	}
}

func (g *Gateway) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.timeout)
}

func (g *Gateway) Complete(ctx context.Context, prompt string, temperature float64) Result {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	return g.llm.Complete(ctx, prompt, temperature)
}

func (g *Gateway) CompleteJSON(ctx context.Context, prompt string, temperature float64, out any) Result {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	return g.llm.CompleteJSON(ctx, prompt, temperature, out)
}

func (g *Gateway) SearchWeb(ctx context.Context, query string) SearchOutcome {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	return g.search.SearchWeb(ctx, query)
}

func (g *Gateway) SearchArxiv(ctx context.Context, query string, max int) SearchOutcome {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	return g.search.SearchArxiv(ctx, query, max)
}

func (g *Gateway) SearchRepos(ctx context.Context, query string) SearchOutcome {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	return g.search.SearchRepos(ctx, query)
}

func (g *Gateway) FetchPage(ctx context.Context, pageURL string) Result {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	return g.scraper.FetchText(ctx, pageURL)
}

func (g *Gateway) ExtractNumbers(text string, max int) []float64 {
	return g.scraper.ExtractNumbers(text, max)
}
