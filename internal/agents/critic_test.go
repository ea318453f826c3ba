package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sagelab/researchd/internal/research"
)

func stateWithExperiment(sessionID string, results research.StatResults, confidence float64) *research.State {
	st := stateWithData(sessionID)
	st.Experiment = &research.Experiment{
		Hypothesis: "Experimental runs outperform baseline",
		TestType:   "t-test",
		SampleSize: 20,
		Results:    results,
		Confidence: confidence,
	}
	return st
}

func TestCriticAcceptsStrongResults(t *testing.T) {
	critic := NewCritic(&stubToolset{}, 70, zap.NewNop())
	st := stateWithExperiment("c1", research.StatResults{PValue: 0.004, EffectSize: 1.2, Significant: true}, 0.90)

	require.NoError(t, critic.Run(context.Background(), st, (&recorder{}).emit, ""))

	c := st.Critique
	require.NotNil(t, c)
	assert.Equal(t, research.VerdictAccept, c.Verdict)
	// Fallback scoring: (6.5+7.0)/2 + 0.90*2 = 8.55 -> 85.5.
	assert.InDelta(t, 85.5, c.Confidence, 0.01)
	assert.Empty(t, c.TargetStage)
	assert.Equal(t, c.Confidence, st.ConfidenceScores["critique"])
	require.NoError(t, st.Validate())
}

func TestCriticRevisesWeakResults(t *testing.T) {
	critic := NewCritic(&stubToolset{}, 70, zap.NewNop())
	st := stateWithExperiment("c2", research.StatResults{PValue: 0.4, EffectSize: 0.1}, 0.45)

	require.NoError(t, critic.Run(context.Background(), st, (&recorder{}).emit, ""))

	c := st.Critique
	require.NotNil(t, c)
	assert.Equal(t, research.VerdictRevise, c.Verdict)
	// Fallback scoring: (6.5+5.0)/2 + 0.45*2 = 6.65 -> 66.5.
	assert.InDelta(t, 66.5, c.Confidence, 0.01)
	// High p-value sends the loop back to data collection.
	assert.Equal(t, research.StatusDataCollection, c.TargetStage)
	assert.NotEmpty(t, c.Feedback)
	require.NoError(t, st.Validate())
}

func TestCriticTargetsQuestionWhenDataIsSound(t *testing.T) {
	critic := NewCritic(&stubToolset{}, 95, zap.NewNop())
	// Good data, significant stats, but a sky-high acceptance bar.
	st := stateWithExperiment("c3", research.StatResults{PValue: 0.03, EffectSize: 0.4, Significant: true}, 0.75)

	require.NoError(t, critic.Run(context.Background(), st, (&recorder{}).emit, ""))
	assert.Equal(t, research.VerdictRevise, st.Critique.Verdict)
	assert.Equal(t, research.StatusQuestionGeneration, st.Critique.TargetStage)
}

func TestCriticPrefersSyntheticDataTarget(t *testing.T) {
	critic := NewCritic(&stubToolset{}, 95, zap.NewNop())
	st := stateWithExperiment("c4", research.StatResults{PValue: 0.03, EffectSize: 0.4, Significant: true}, 0.75)
	st.Data.Synthetic = true

	require.NoError(t, critic.Run(context.Background(), st, (&recorder{}).emit, ""))
	assert.Equal(t, research.StatusDataCollection, st.Critique.TargetStage)
}

func TestCriticUsesModelAssessment(t *testing.T) {
	ts := &stubToolset{
		jsonFn: func(string) (string, bool) {
			return `{
				"strengths": ["solid design"],
				"weaknesses": ["small n"],
				"issues": ["possible confounder"],
				"methodology_score": 9,
				"results_score": 8,
				"revise_target": "QUESTION_GENERATION"
			}`, true
		},
	}
	critic := NewCritic(ts, 70, zap.NewNop())
	st := stateWithExperiment("c5", research.StatResults{PValue: 0.01, EffectSize: 0.6, Significant: true}, 0.90)

	require.NoError(t, critic.Run(context.Background(), st, (&recorder{}).emit, ""))
	// (9+8)/2 + 1.8 = 10.3 clamps to 10 -> 100.
	assert.Equal(t, 100.0, st.Critique.Confidence)
	assert.Equal(t, research.VerdictAccept, st.Critique.Verdict)
	assert.Contains(t, st.Critique.Feedback, "small n")
}

func TestCriticRequiresExperiment(t *testing.T) {
	critic := NewCritic(&stubToolset{}, 70, zap.NewNop())
	err := critic.Run(context.Background(), stateWithData("c6"), (&recorder{}).emit, "")
	assert.Error(t, err)
}
