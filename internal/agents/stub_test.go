package agents

import (
	"context"
	"encoding/json"

	"github.com/sagelab/researchd/internal/tools"
)

// stubToolset drives agents in tests. Unset hooks degrade, which
// exercises every deterministic fallback path.
type stubToolset struct {
	completeFn func(prompt string) tools.Result
	jsonFn     func(prompt string) (string, bool)
	webFn      func(query string) tools.SearchOutcome
	arxivFn    func(query string) tools.SearchOutcome
	reposFn    func(query string) tools.SearchOutcome
	pageFn     func(url string) tools.Result
	numbersFn  func(text string) []float64
}

func (s *stubToolset) Complete(_ context.Context, prompt string, _ float64) tools.Result {
	if s.completeFn == nil {
		return tools.Fallback("", "stub: no completion")
	}
	return s.completeFn(prompt)
}

func (s *stubToolset) CompleteJSON(_ context.Context, prompt string, _ float64, out any) tools.Result {
	if s.jsonFn == nil {
		return tools.Fallback("", "stub: no completion")
	}
	raw, ok := s.jsonFn(prompt)
	if !ok {
		return tools.Fallback("", "stub: refused")
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return tools.Fallback("", "stub: bad json")
	}
	return tools.Ok(raw)
}

func (s *stubToolset) SearchWeb(_ context.Context, query string) tools.SearchOutcome {
	if s.webFn == nil {
		return tools.SearchOutcome{Degraded: true, Reason: "stub: offline"}
	}
	return s.webFn(query)
}

func (s *stubToolset) SearchArxiv(_ context.Context, query string, _ int) tools.SearchOutcome {
	if s.arxivFn == nil {
		return tools.SearchOutcome{Degraded: true, Reason: "stub: offline"}
	}
	return s.arxivFn(query)
}

func (s *stubToolset) SearchRepos(_ context.Context, query string) tools.SearchOutcome {
	if s.reposFn == nil {
		return tools.SearchOutcome{Degraded: true, Reason: "stub: offline"}
	}
	return s.reposFn(query)
}

func (s *stubToolset) FetchPage(_ context.Context, url string) tools.Result {
	if s.pageFn == nil {
		return tools.Fallback("", "stub: offline")
	}
	return s.pageFn(url)
}

func (s *stubToolset) ExtractNumbers(text string, _ int) []float64 {
	if s.numbersFn == nil {
		return nil
	}
	return s.numbersFn(text)
}

// recorder captures emitted progress lines.
type recorder struct {
	agents   []string
	contents []string
	degraded []bool
}

func (r *recorder) emit(agent, content string, degraded bool) {
	r.agents = append(r.agents, agent)
	r.contents = append(r.contents, content)
	r.degraded = append(r.degraded, degraded)
}
