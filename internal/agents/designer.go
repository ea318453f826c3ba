package agents

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sagelab/researchd/internal/research"
	"github.com/sagelab/researchd/internal/tools"
)

// ExperimentDesigner formulates a testable hypothesis for the collected
// data and executes the statistical analysis.
type ExperimentDesigner struct {
	toolset tools.Toolset
	logger  *zap.Logger
}

func NewExperimentDesigner(toolset tools.Toolset, logger *zap.Logger) *ExperimentDesigner {
	return &ExperimentDesigner{toolset: toolset, logger: logger}
}

func (d *ExperimentDesigner) Name() string { return AgentExperimentDesigner }

type hypothesisPlan struct {
	Hypothesis        string  `json:"hypothesis"`
	NullHypothesis    string  `json:"null_hypothesis"`
	TestType          string  `json:"test_type"`
	ExpectedOutcome   string  `json:"expected_outcome"`
	SignificanceLevel float64 `json:"significance_level"`
}

func (d *ExperimentDesigner) Run(ctx context.Context, st *research.State, emit Emitter, _ string) error {
	if st.Data == nil || len(st.Data.Series) == 0 {
		return fmt.Errorf("experiment design requires collected data")
	}
	emit(AgentExperimentDesigner, "Analyzing data structure and formulating hypothesis...", false)

	keys := make([]string, 0, len(st.Data.Series))
	for k := range st.Data.Series {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	plan, planDegraded := d.formulateHypothesis(ctx, st, keys)
	if planDegraded {
		emit(AgentExperimentDesigner, "Hypothesis formulation degraded, using default hypothesis", true)
	}
	emit(AgentExperimentDesigner, "Hypothesis: "+plan.Hypothesis, false)
	emit(AgentExperimentDesigner, "Executing statistical analysis...", false)

	results, detail, err := analyze(st.Data.Series, keys)
	if err != nil {
		return fmt.Errorf("statistical analysis: %w", err)
	}
	emit(AgentExperimentDesigner, "Analysis complete: "+detail, false)

	sampleSize := 0
	for _, k := range keys {
		sampleSize += len(st.Data.Series[k])
	}

	interpretation, interpDegraded := d.interpret(ctx, plan.Hypothesis, results)
	confidence := confidenceFor(results)

	st.Experiment = &research.Experiment{
		Hypothesis:     plan.Hypothesis,
		NullHypothesis: plan.NullHypothesis,
		TestType:       plan.TestType,
		SampleSize:     sampleSize,
		Results:        results,
		Interpretation: interpretation,
		Confidence:     confidence,
	}
	st.SetConfidence("experiment", confidence*100)

	emit(AgentExperimentDesigner, fmt.Sprintf("Experiment complete (confidence %.0f%%)", confidence*100), interpDegraded)
	d.logger.Info("Experiment executed",
		zap.String("session_id", st.SessionID),
		zap.String("test_type", plan.TestType),
		zap.Float64("p_value", results.PValue),
		zap.Float64("effect_size", results.EffectSize),
		zap.Bool("significant", results.Significant),
	)
	return nil
}

func (d *ExperimentDesigner) formulateHypothesis(ctx context.Context, st *research.State, keys []string) (hypothesisPlan, bool) {
	prompt := fmt.Sprintf(`Based on this research question and available data, formulate a testable hypothesis.

Question: %s
Available Data: %s

Return ONLY JSON:
{
  "hypothesis": "clear, testable hypothesis statement",
  "null_hypothesis": "corresponding null hypothesis",
  "test_type": "t-test|correlation|regression",
  "expected_outcome": "what we expect to find",
  "significance_level": 0.05
}`, st.QuestionText(), strings.Join(keys, ", "))

	var plan hypothesisPlan
	res := d.toolset.CompleteJSON(ctx, prompt, 0.7, &plan)
	if res.Degraded || plan.Hypothesis == "" {
		return hypothesisPlan{
			Hypothesis:        fmt.Sprintf("There is a significant relationship between the variables relevant to: %s", st.QuestionText()),
			NullHypothesis:    "There is no significant relationship between the variables",
			TestType:          "t-test",
			ExpectedOutcome:   "Statistical significance at p < 0.05",
			SignificanceLevel: 0.05,
		}, true
	}
	if plan.TestType == "" {
		plan.TestType = "t-test"
	}
	if plan.SignificanceLevel <= 0 {
		plan.SignificanceLevel = 0.05
	}
	return plan, false
}

// analyze runs a t-test on the first two series, with regression as a
// secondary signal. The t-test p-value wins when both succeed.
func analyze(series map[string][]float64, keys []string) (research.StatResults, string, error) {
	if len(keys) < 2 {
		k := keys[0]
		s := tools.Describe(series[k])
		return research.StatResults{PValue: 1, EffectSize: 0},
			fmt.Sprintf("single series %s: mean=%.2f sd=%.2f n=%d", k, s.Mean, s.StdDev, s.N), nil
	}

	a, b := series[keys[0]], series[keys[1]]
	if len(a) > 200 {
		a = a[:200]
	}
	if len(b) > 200 {
		b = b[:200]
	}

	var (
		results research.StatResults
		parts   []string
	)
	tt, ttErr := tools.WelchTTest(a, b)
	if ttErr == nil {
		results.PValue = tt.PValue
		results.EffectSize = tt.EffectSize
		parts = append(parts, fmt.Sprintf("t-test p=%.4f effect=%.3f", tt.PValue, tt.EffectSize))
	}

	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	lr, lrErr := tools.LinearRegression(a[:n], b[:n])
	if lrErr == nil {
		results.RSquared = lr.RSquared
		parts = append(parts, fmt.Sprintf("regression r2=%.3f p=%.4g", lr.RSquared, lr.PValue))
		if ttErr != nil {
			results.PValue = lr.PValue
			results.EffectSize = lr.RSquared
		}
	}
	if ttErr != nil && lrErr != nil {
		return research.StatResults{}, "", fmt.Errorf("t-test: %v; regression: %v", ttErr, lrErr)
	}
	results.Significant = results.PValue < 0.05
	return results, strings.Join(parts, ", "), nil
}

func (d *ExperimentDesigner) interpret(ctx context.Context, hypothesis string, results research.StatResults) (string, bool) {
	prompt := fmt.Sprintf(`Interpret these experimental results in the context of the hypothesis.

Hypothesis: %s
P-value: %.4f
Effect Size: %.3f
Significant: %t

Provide a clear, scientific interpretation (2-3 sentences).`,
		hypothesis, results.PValue, results.EffectSize, results.Significant)

	res := d.toolset.Complete(ctx, prompt, 0.7)
	if !res.Degraded && res.Text != "" {
		return res.Text, false
	}
	if results.Significant {
		return fmt.Sprintf("The results show statistical significance (p=%.4f), suggesting support for the hypothesis. The effect size of %.3f indicates a meaningful practical impact.",
			results.PValue, results.EffectSize), true
	}
	return fmt.Sprintf("The results do not show statistical significance (p=%.4f). The hypothesis cannot be supported with the current data and methodology.",
		results.PValue), true
}

// confidenceFor maps the statistical outcome onto a fixed ladder.
func confidenceFor(r research.StatResults) float64 {
	effect := math.Abs(r.EffectSize)
	switch {
	case r.PValue < 0.01 && effect > 0.5:
		return 0.90
	case r.PValue < 0.05 && effect > 0.3:
		return 0.75
	case r.PValue < 0.10:
		return 0.60
	default:
		return 0.45
	}
}
