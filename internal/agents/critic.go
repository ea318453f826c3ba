package agents

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/sagelab/researchd/internal/research"
	"github.com/sagelab/researchd/internal/tools"
)

// Critic scores the research quality and decides whether a revision
// pass is warranted. Its verdict drives the loop-back transition; the
// engine owns the iteration budget.
type Critic struct {
	toolset          tools.Toolset
	acceptConfidence float64
	logger           *zap.Logger
}

func NewCritic(toolset tools.Toolset, acceptConfidence float64, logger *zap.Logger) *Critic {
	return &Critic{toolset: toolset, acceptConfidence: acceptConfidence, logger: logger}
}

func (c *Critic) Name() string { return AgentCritic }

type critiqueAssessment struct {
	Strengths        []string `json:"strengths"`
	Weaknesses       []string `json:"weaknesses"`
	Issues           []string `json:"issues"`
	MethodologyScore float64  `json:"methodology_score"`
	ResultsScore     float64  `json:"results_score"`
	ReviseTarget     string   `json:"revise_target"`
}

func (c *Critic) Run(ctx context.Context, st *research.State, emit Emitter, _ string) error {
	if st.Experiment == nil {
		return fmt.Errorf("critique requires an executed experiment")
	}
	emit(AgentCritic, "Initiating critical analysis...", false)

	assessment, degraded := c.assess(ctx, st)
	if degraded {
		emit(AgentCritic, "Critical review degraded, scoring from statistical outcomes", true)
	}

	confidence := c.score(assessment, st.Experiment)
	emit(AgentCritic, fmt.Sprintf("Analysis complete, quality score %.0f/100", confidence), false)

	critique := &research.Critique{
		Confidence: confidence,
		Feedback:   feedbackText(assessment),
	}
	if confidence >= c.acceptConfidence {
		critique.Verdict = research.VerdictAccept
		emit(AgentCritic, "Research meets the quality threshold", false)
	} else {
		critique.Verdict = research.VerdictRevise
		critique.TargetStage = c.reviseTarget(assessment, st)
		emit(AgentCritic, fmt.Sprintf("Recommending revision via %s", critique.TargetStage), false)
	}

	st.Critique = critique
	st.SetConfidence("critique", confidence)

	c.logger.Info("Critique issued",
		zap.String("session_id", st.SessionID),
		zap.Float64("confidence", confidence),
		zap.String("verdict", string(critique.Verdict)),
		zap.String("target", string(critique.TargetStage)),
		zap.Int("iteration", st.Iteration),
	)
	return nil
}

func (c *Critic) assess(ctx context.Context, st *research.State) (critiqueAssessment, bool) {
	exp := st.Experiment
	prompt := fmt.Sprintf(`Critically evaluate this research.

Question: %s
Hypothesis: %s
Test: %s on %d data points
P-value: %.4f
Effect Size: %.3f
Significant: %t
Synthetic data: %t
Interpretation: %s

Identify strengths, weaknesses, and issues, score the methodology and
the results each 0-10, and if a revision were needed say which stage
should redo its work: "QUESTION_GENERATION" if the question itself is
the problem, "DATA_COLLECTION" if the data is.

Return ONLY JSON:
{
  "strengths": ["strength1", "strength2"],
  "weaknesses": ["weakness1", "weakness2"],
  "issues": ["issue1", "issue2"],
  "methodology_score": 6.5,
  "results_score": 7.0,
  "revise_target": "QUESTION_GENERATION|DATA_COLLECTION"
}`,
		st.QuestionText(), exp.Hypothesis, exp.TestType, exp.SampleSize,
		exp.Results.PValue, exp.Results.EffectSize, exp.Results.Significant,
		st.Data != nil && st.Data.Synthetic, exp.Interpretation)

	var a critiqueAssessment
	res := c.toolset.CompleteJSON(ctx, prompt, 0.6, &a)
	if res.Degraded || (a.MethodologyScore == 0 && a.ResultsScore == 0) {
		return c.fallbackAssessment(st), true
	}
	a.MethodologyScore = clampScore(a.MethodologyScore)
	a.ResultsScore = clampScore(a.ResultsScore)
	return a, false
}

// fallbackAssessment derives scores from the statistical outcome alone.
func (c *Critic) fallbackAssessment(st *research.State) critiqueAssessment {
	r := st.Experiment.Results
	a := critiqueAssessment{
		Strengths:        []string{"Clear hypothesis formulation", "Appropriate statistical test selected"},
		Weaknesses:       []string{"Limited sample size", "Potential confounding variables not addressed"},
		MethodologyScore: 6.5,
		ResultsScore:     5.0,
	}
	if r.PValue < 0.05 {
		a.ResultsScore = 7.0
	}
	if r.PValue > 0.05 {
		a.Issues = append(a.Issues, "Results do not reach conventional statistical significance")
	}
	if math.Abs(r.EffectSize) < 0.3 {
		a.Issues = append(a.Issues, "Small effect size limits practical implications")
	}
	if st.Data != nil && st.Data.Synthetic {
		a.Weaknesses = append(a.Weaknesses, "Synthetic data components reduce real-world applicability")
	}
	return a
}

// score averages the two sub-scores plus a confidence bonus from the
// experiment, on a 0-100 scale.
func (c *Critic) score(a critiqueAssessment, exp *research.Experiment) float64 {
	overall := (a.MethodologyScore+a.ResultsScore)/2 + exp.Confidence*2
	if overall > 10 {
		overall = 10
	}
	if overall < 0 {
		overall = 0
	}
	return math.Round(overall*10*10) / 10
}

// reviseTarget picks where the loop-back should land: data problems send
// the run back to collection, question problems back to generation.
func (c *Critic) reviseTarget(a critiqueAssessment, st *research.State) research.Status {
	switch a.ReviseTarget {
	case string(research.StatusQuestionGeneration):
		return research.StatusQuestionGeneration
	case string(research.StatusDataCollection):
		return research.StatusDataCollection
	}
	if st.Data != nil && (st.Data.Synthetic || st.Data.Partial) {
		return research.StatusDataCollection
	}
	if st.Experiment.Results.PValue > 0.10 {
		return research.StatusDataCollection
	}
	return research.StatusQuestionGeneration
}

func feedbackText(a critiqueAssessment) string {
	var parts []string
	if len(a.Weaknesses) > 0 {
		parts = append(parts, "Weaknesses: "+strings.Join(a.Weaknesses, "; "))
	}
	if len(a.Issues) > 0 {
		parts = append(parts, "Issues: "+strings.Join(a.Issues, "; "))
	}
	if len(parts) == 0 {
		return "No substantive concerns identified"
	}
	return strings.Join(parts, ". ")
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}
