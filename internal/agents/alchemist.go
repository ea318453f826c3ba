package agents

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sagelab/researchd/internal/research"
	"github.com/sagelab/researchd/internal/tools"
)

// DataAlchemist gathers raw records for the selected question and
// distills them into numeric series for analysis. When real collection
// yields too little, it substitutes a seeded synthetic dataset so the
// experiment stage always has something to test.
type DataAlchemist struct {
	toolset tools.Toolset
	logger  *zap.Logger
}

func NewDataAlchemist(toolset tools.Toolset, logger *zap.Logger) *DataAlchemist {
	return &DataAlchemist{toolset: toolset, logger: logger}
}

func (a *DataAlchemist) Name() string { return AgentDataAlchemist }

// dataSource is one planned retrieval, either model-proposed or from the
// fallback plan.
type dataSource struct {
	Type         string `json:"type"`
	SearchQuery  string `json:"search_query"`
	ExpectedData string `json:"expected_data"`
}

func (a *DataAlchemist) Run(ctx context.Context, st *research.State, emit Emitter, feedback string) error {
	question := st.SelectedQuestion
	if question == nil {
		emit(AgentDataAlchemist, "No question selected, using a general placeholder question", true)
		question = &research.Question{
			Text:      "How can emerging technologies be applied to solve current limitations?",
			Rationale: "General research question",
		}
		st.SelectedQuestion = question
	}

	emit(AgentDataAlchemist, "Initiating data collection protocol...", false)

	sources, planDegraded := a.planSources(ctx, st, feedback)
	if planDegraded {
		emit(AgentDataAlchemist, "Source planning degraded, using the default source plan", true)
	}
	emit(AgentDataAlchemist, fmt.Sprintf("Identified %d data sources", len(sources)), false)

	data := &research.CollectedData{
		Sources: map[string][]research.Record{},
		Series:  map[string][]float64{},
	}
	if len(sources) > 3 {
		sources = sources[:3]
	}
	emit(AgentDataAlchemist, fmt.Sprintf("Collecting data from %d sources...", len(sources)), false)

	// Sources collect concurrently; results fold into the state in
	// source order so series keys stay stable.
	type collected struct {
		out   tools.SearchOutcome
		notes []string
	}
	results := make([]collected, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			switch src.Type {
			case "arxiv":
				results[i].out = a.toolset.SearchArxiv(gctx, src.SearchQuery, 3)
			case "github":
				results[i].out = a.toolset.SearchRepos(gctx, src.SearchQuery)
			default:
				results[i].out = a.toolset.SearchWeb(gctx, src.SearchQuery)
				if !results[i].out.Degraded {
					results[i].out.Records, results[i].notes = a.scrapeTop(gctx, results[i].out.Records)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, src := range sources {
		out := results[i].out
		if out.Degraded {
			data.Partial = true
			emit(AgentDataAlchemist, fmt.Sprintf("Source %d unavailable: %s", i+1, out.Reason), true)
			continue
		}
		for _, note := range results[i].notes {
			emit(AgentDataAlchemist, note, true)
		}
		key := fmt.Sprintf("%s_source_%d", src.Type, i+1)
		data.Sources[key] = out.Records
		for _, r := range out.Records {
			if len(r.Numbers) >= 2 {
				data.Series[key+"_numbers"] = r.Numbers
			}
		}
	}

	emit(AgentDataAlchemist, "Processing and cleaning collected data...", false)

	if len(data.Series) < 2 {
		emit(AgentDataAlchemist, "Insufficient numeric data collected, generating synthetic dataset", true)
		synthesize(data, st.SessionID)
	}
	cleanSeries(data)

	confidence := 0.75
	if data.Synthetic {
		confidence = 0.50
	}
	st.Data = data
	st.SetConfidence("data_collection", confidence*100)

	emit(AgentDataAlchemist, fmt.Sprintf("Data collection complete, %d datasets ready", len(data.Series)), data.Synthetic)
	a.logger.Info("Data collected",
		zap.String("session_id", st.SessionID),
		zap.Int("sources", len(data.Sources)),
		zap.Int("series", len(data.Series)),
		zap.Bool("synthetic", data.Synthetic),
		zap.Bool("partial", data.Partial),
	)
	return nil
}

func (a *DataAlchemist) planSources(ctx context.Context, st *research.State, feedback string) ([]dataSource, bool) {
	prompt := fmt.Sprintf(`Given this research question, identify 3-5 diverse data sources that could provide relevant information.

Question: %s
Domain: %s

Consider academic papers (ArXiv), public datasets, GitHub repositories, technical blogs, and research reports.
%s
Return ONLY JSON:
{
  "data_sources": [
    {
      "type": "arxiv|github|dataset|web",
      "search_query": "specific search terms",
      "expected_data": "what data we expect to find"
    }
  ]
}`, st.QuestionText(), st.DomainName(), revisionNote(feedback))

	var plan struct {
		DataSources []dataSource `json:"data_sources"`
	}
	res := a.toolset.CompleteJSON(ctx, prompt, 0.7, &plan)
	if res.Degraded || len(plan.DataSources) == 0 {
		return fallbackSources(st.QuestionText()), true
	}
	return plan.DataSources, false
}

// scrapeTop fetches the first two result pages and attaches any numeric
// series found in their text. Failures come back as notes for the
// caller to emit in order.
func (a *DataAlchemist) scrapeTop(ctx context.Context, records []research.Record) ([]research.Record, []string) {
	var notes []string
	limit := len(records)
	if limit > 2 {
		limit = 2
	}
	for i := 0; i < limit; i++ {
		if records[i].URL == "" {
			continue
		}
		page := a.toolset.FetchPage(ctx, records[i].URL)
		if page.Degraded {
			notes = append(notes, fmt.Sprintf("Failed to scrape %s: %s", records[i].URL, page.Reason))
			continue
		}
		if nums := a.toolset.ExtractNumbers(page.Text, 50); len(nums) >= 2 {
			records[i].Numbers = nums
		}
	}
	return records, notes
}

// synthesize fills in normal-distributed series seeded by session ID so
// repeated runs of the same session analyze identical data.
func synthesize(data *research.CollectedData, sessionID string) {
	h := fnv.New64a()
	h.Write([]byte(sessionID))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	gen := func(mean, sd float64, n int) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = rng.NormFloat64()*sd + mean
		}
		return out
	}
	data.Series["baseline_metrics"] = gen(100, 15, 50)
	data.Series["experimental_metrics"] = gen(110, 18, 50)
	data.Series["control_group"] = gen(95, 12, 50)
	data.Synthetic = true
}

// cleanSeries drops series too short to analyze and non-finite values.
func cleanSeries(data *research.CollectedData) {
	for key, series := range data.Series {
		cleaned := series[:0]
		for _, v := range series {
			if v == v && v < 1e308 && v > -1e308 { // finite, not NaN
				cleaned = append(cleaned, v)
			}
		}
		if len(cleaned) < 2 {
			delete(data.Series, key)
			continue
		}
		data.Series[key] = cleaned
	}
}

func fallbackSources(question string) []dataSource {
	q := question
	if len(q) > 100 {
		q = q[:100]
	}
	return []dataSource{
		{Type: "arxiv", SearchQuery: q, ExpectedData: "Academic papers and research findings"},
		{Type: "web", SearchQuery: question + " research data", ExpectedData: "Research reports and datasets"},
		{Type: "github", SearchQuery: question + " implementation", ExpectedData: "Code repositories and documentation"},
	}
}
