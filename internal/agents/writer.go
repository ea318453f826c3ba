package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sagelab/researchd/internal/research"
	"github.com/sagelab/researchd/internal/tools"
)

// PaperWriter is the Orchestrator's final act: it assembles the session
// into a structured paper. Narrative sections come from the model with
// deterministic fallbacks; methods, results and limitations are rendered
// from the state directly.
type PaperWriter struct {
	toolset tools.Toolset
	logger  *zap.Logger
}

func NewPaperWriter(toolset tools.Toolset, logger *zap.Logger) *PaperWriter {
	return &PaperWriter{toolset: toolset, logger: logger}
}

func (w *PaperWriter) Name() string { return AgentOrchestrator }

func (w *PaperWriter) Run(ctx context.Context, st *research.State, emit Emitter, _ string) error {
	if st.Experiment == nil {
		return fmt.Errorf("paper generation requires an executed experiment")
	}
	emit(AgentOrchestrator, "Generating comprehensive research paper...", false)

	paper := &research.Paper{}
	degraded := false

	emit(AgentOrchestrator, "Writing abstract...", false)
	paper.Abstract, degraded = w.abstract(ctx, st)

	emit(AgentOrchestrator, "Writing introduction...", false)
	intro, d := w.introduction(ctx, st)
	paper.Introduction = intro
	degraded = degraded || d

	paper.Methods = renderMethods(st)
	paper.Results = renderResults(st)

	emit(AgentOrchestrator, "Writing discussion...", false)
	disc, d2 := w.discussion(ctx, st)
	paper.Discussion = disc
	degraded = degraded || d2

	paper.Limitations = renderLimitations(st)

	st.Paper = paper
	emit(AgentOrchestrator, "Research paper generation complete", degraded)
	w.logger.Info("Paper assembled",
		zap.String("session_id", st.SessionID),
		zap.String("domain", st.DomainName()),
		zap.Bool("degraded_sections", degraded),
	)
	return nil
}

func (w *PaperWriter) abstract(ctx context.Context, st *research.State) (string, bool) {
	exp := st.Experiment
	sig := "No"
	if exp.Results.Significant {
		sig = "Yes"
	}
	prompt := fmt.Sprintf(`Write a concise scientific abstract (150-200 words) for this research:

Domain: %s
Research Question: %s
Key Finding: %s
Statistical Significance: %s

Write a complete abstract with: Background (2 sentences), Methods (2 sentences), Results (2 sentences), and Conclusion (1-2 sentences). Do not use placeholder text.`,
		st.DomainName(), st.QuestionText(), exp.Interpretation, sig)

	res := w.toolset.Complete(ctx, prompt, 0.7)
	if !res.Degraded && res.Text != "" {
		return res.Text, false
	}

	sigWord := "non-significant"
	if exp.Results.Significant {
		sigWord = "significant"
	}
	return fmt.Sprintf("This study investigates %s within the emerging field of %s. We employed quantitative methods to analyze collected data, performing statistical tests on multiple datasets. Our analysis revealed %s differences (p=%.4f) with an effect size of %.3f. %s These results have implications for future research and practical applications in this rapidly evolving field.",
		st.QuestionText(), st.DomainName(), sigWord, exp.Results.PValue, exp.Results.EffectSize, exp.Interpretation), true
}

func (w *PaperWriter) introduction(ctx context.Context, st *research.State) (string, bool) {
	desc := "emerging research area"
	if st.SelectedDomain != nil && st.SelectedDomain.Description != "" {
		desc = st.SelectedDomain.Description
	}
	prompt := fmt.Sprintf(`Write a detailed scientific introduction (300-400 words) that:

1. Opens with the significance of %s in modern science
2. Describes the key challenges: %s
3. Explains why this specific question matters: %s
4. States the research objective clearly
5. Previews the methodology briefly

Write in formal academic style. Do not use placeholder text or generic statements.`,
		st.DomainName(), desc, st.QuestionText())

	res := w.toolset.Complete(ctx, prompt, 0.7)
	if !res.Degraded && res.Text != "" {
		return res.Text, false
	}
	return fmt.Sprintf("The field of %s represents one of the most promising frontiers in contemporary science. %s Recent advances have opened new possibilities for innovation, yet fundamental questions remain regarding implementation, efficiency, and scalability.\n\nAmong the critical questions facing researchers in this domain is: %s This question addresses core challenges that must be resolved for the field to progress from theoretical promise to practical implementation.\n\nThe objective of this research is to investigate the question through quantitative analysis of relevant datasets. We employ comparative methods to evaluate differences between experimental conditions, using established statistical techniques to assess significance and effect sizes.",
		st.DomainName(), desc, st.QuestionText()), true
}

func (w *PaperWriter) discussion(ctx context.Context, st *research.State) (string, bool) {
	exp := st.Experiment
	prompt := fmt.Sprintf(`Write a thorough scientific discussion (300-400 words) that:

1. Interprets the main finding: %s
2. Discusses the statistical evidence (p=%.4f, effect size=%.3f)
3. Compares to existing knowledge about %s
4. Suggests practical implications
5. Proposes future research directions

Write in formal academic style with specific details. Do not use placeholder text.`,
		exp.Interpretation, exp.Results.PValue, exp.Results.EffectSize, st.DomainName())

	res := w.toolset.Complete(ctx, prompt, 0.7)
	if !res.Degraded && res.Text != "" {
		return res.Text, false
	}

	support := "not supporting"
	if exp.Results.Significant {
		support = "supporting"
	}
	return fmt.Sprintf("%s The statistical analysis yielded a p-value of %.4f with an effect size of %.3f, %s our hypothesis at the conventional alpha level of 0.05.\n\nThese findings contribute to the growing body of evidence regarding %s. Future studies should address the identified limitations through larger sample sizes, more diverse data sources, and longitudinal designs.",
		exp.Interpretation, exp.Results.PValue, exp.Results.EffectSize, support, st.DomainName()), true
}

func renderMethods(st *research.State) string {
	exp := st.Experiment
	sources := 0
	if st.Data != nil {
		sources = len(st.Data.Sources)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "### Data Collection\n\nWe collected data from %d diverse sources including academic papers, web resources, and research databases. Data collection focused on %s.\n\n", sources, st.QuestionText())
	fmt.Fprintf(&sb, "### Experimental Design\n\n**Hypothesis**: %s\n\n", exp.Hypothesis)
	if exp.NullHypothesis != "" {
		fmt.Fprintf(&sb, "**Null Hypothesis**: %s\n\n", exp.NullHypothesis)
	}
	fmt.Fprintf(&sb, "**Statistical Analysis**: %s was performed on %d data points.\n", exp.TestType, exp.SampleSize)
	if st.Data != nil && st.Data.Synthetic {
		sb.WriteString("\nCollected numeric data was insufficient for analysis; a synthetic dataset was generated as a substitute.\n")
	}
	return sb.String()
}

func renderResults(st *research.State) string {
	r := st.Experiment.Results
	sig := "No"
	if r.Significant {
		sig = "Yes"
	}
	var sb strings.Builder
	sb.WriteString("### Statistical Analysis\n\n")
	fmt.Fprintf(&sb, "- **P-value**: %.4f\n", r.PValue)
	fmt.Fprintf(&sb, "- **Effect Size**: %.3f\n", r.EffectSize)
	if r.RSquared > 0 {
		fmt.Fprintf(&sb, "- **R-squared**: %.3f\n", r.RSquared)
	}
	fmt.Fprintf(&sb, "- **Statistical Significance**: %s (alpha = 0.05)\n\n", sig)
	fmt.Fprintf(&sb, "### Interpretation\n\n%s\n", st.Experiment.Interpretation)

	if st.Data != nil && len(st.Data.Series) > 0 {
		sb.WriteString("\n### Descriptive Statistics\n\n")
		keys := make([]string, 0, len(st.Data.Series))
		for k := range st.Data.Series {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > 5 {
			keys = keys[:5]
		}
		for _, key := range keys {
			s := tools.Describe(st.Data.Series[key])
			fmt.Fprintf(&sb, "**%s**: n=%d, mean=%.2f, sd=%.2f\n", key, s.N, s.Mean, s.StdDev)
		}
	}
	return sb.String()
}

func renderLimitations(st *research.State) string {
	limitations := []string{
		"Limited sample size may affect generalizability",
		"Cross-sectional design limits causal inference",
		"Potential unmeasured confounding variables",
	}
	if st.Data != nil && st.Data.Synthetic {
		limitations = append(limitations, "Synthetic data components reduce real-world applicability")
	}
	r := st.Experiment.Results
	if r.PValue > 0.05 {
		limitations = append(limitations, "Results do not reach conventional statistical significance")
	}
	if r.EffectSize < 0.3 && r.EffectSize > -0.3 {
		limitations = append(limitations, "Small effect size limits practical implications")
	}
	if len(limitations) > 5 {
		limitations = limitations[:5]
	}

	var sb strings.Builder
	for i, l := range limitations {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, l)
	}
	sb.WriteString("\n### Future Research Directions\n\n")
	sb.WriteString("- Increase sample size for more robust results\n")
	sb.WriteString("- Consider alternative statistical approaches\n")
	sb.WriteString("- Validate findings with independent datasets\n")
	if st.Critique != nil && st.Critique.Feedback != "" {
		fmt.Fprintf(&sb, "\n### Reviewer Notes\n\n%s\n", st.Critique.Feedback)
	}
	return sb.String()
}
