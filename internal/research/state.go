package research

import (
	"fmt"
	"time"
)

// Status tracks a session through the workflow state machine.
type Status string

const (
	StatusPending            Status = "PENDING"
	StatusDomainDiscovery    Status = "DOMAIN_DISCOVERY"
	StatusQuestionGeneration Status = "QUESTION_GENERATION"
	StatusDataCollection     Status = "DATA_COLLECTION"
	StatusExperimentDesign   Status = "EXPERIMENT_DESIGN"
	StatusCritique           Status = "CRITIQUE"
	StatusPaperGeneration    Status = "PAPER_GENERATION"
	StatusComplete           Status = "COMPLETE"
	StatusError              Status = "ERROR"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Verdict is the Critic's decision controlling loop-back.
type Verdict string

const (
	VerdictAccept Verdict = "ACCEPT"
	VerdictRevise Verdict = "REVISE"
)

// Domain describes a candidate research domain surfaced by the scout.
type Domain struct {
	Name            string   `json:"domain"`
	Description     string   `json:"description"`
	NoveltyScore    float64  `json:"novelty_score"`
	FeasibilityScore float64 `json:"feasibility_score,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
	PotentialImpact string   `json:"potential_impact,omitempty"`
}

// Question is a candidate research question with review scores.
type Question struct {
	Text             string   `json:"question"`
	Rationale        string   `json:"rationale"`
	NoveltyScore     float64  `json:"novelty_score"`
	FeasibilityScore float64  `json:"feasibility_score"`
	RequiredData     []string `json:"required_data,omitempty"`
	PeerReviewed     bool     `json:"peer_reviewed,omitempty"`
}

// Record is one retrieved item from an external data source.
type Record struct {
	Title   string    `json:"title"`
	URL     string    `json:"url,omitempty"`
	Snippet string    `json:"snippet,omitempty"`
	Source  string    `json:"source"`
	Score   float64   `json:"score,omitempty"`
	Numbers []float64 `json:"numbers,omitempty"`
}

// CollectedData holds per-source retrieval results and the numeric series
// extracted from them for downstream analysis.
type CollectedData struct {
	Sources   map[string][]Record  `json:"sources"`
	Series    map[string][]float64 `json:"series"`
	Partial   bool                 `json:"partial"`
	Synthetic bool                 `json:"synthetic"`
}

// StatResults summarizes the statistical analysis of an experiment.
type StatResults struct {
	PValue      float64 `json:"p_value"`
	EffectSize  float64 `json:"effect_size"`
	RSquared    float64 `json:"r_squared,omitempty"`
	Significant bool    `json:"significant"`
}

// Experiment couples a design description with its results.
type Experiment struct {
	Hypothesis     string      `json:"hypothesis"`
	NullHypothesis string      `json:"null_hypothesis,omitempty"`
	TestType       string      `json:"test_type"`
	SampleSize     int         `json:"sample_size"`
	Results        StatResults `json:"results"`
	Interpretation string      `json:"interpretation,omitempty"`
	Confidence     float64     `json:"confidence"`
}

// Critique is the Critic's verdict, overwritten each pass.
type Critique struct {
	Confidence  float64 `json:"confidence"` // 0-100
	Verdict     Verdict `json:"verdict"`
	Feedback    string  `json:"feedback"`
	TargetStage Status  `json:"target_stage,omitempty"` // QUESTION_GENERATION or DATA_COLLECTION
	Note        string  `json:"note,omitempty"`
}

// Paper is the final assembled document with its fixed section structure.
type Paper struct {
	Abstract     string `json:"abstract"`
	Introduction string `json:"introduction"`
	Methods      string `json:"methods"`
	Results      string `json:"results"`
	Discussion   string `json:"discussion"`
	Limitations  string `json:"limitations"`
}

// Markdown renders the paper sections in order.
func (p *Paper) Markdown(title string) string {
	return fmt.Sprintf("# %s\n\n## Abstract\n\n%s\n\n---\n\n## Introduction\n\n%s\n\n---\n\n## Methods\n\n%s\n\n---\n\n## Results\n\n%s\n\n---\n\n## Discussion\n\n%s\n\n---\n\n## Limitations\n\n%s\n",
		title, p.Abstract, p.Introduction, p.Methods, p.Results, p.Discussion, p.Limitations)
}

// State is the session record passed between stages. It is owned by one
// workflow engine instance for the duration of a run; stages receive a
// clone and return it mutated.
type State struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Status    Status    `json:"status"`

	Domains        []Domain   `json:"domains,omitempty"`
	SelectedDomain *Domain    `json:"selected_domain,omitempty"`
	Questions      []Question `json:"questions,omitempty"`
	SelectedQuestion *Question `json:"selected_question,omitempty"`

	Data       *CollectedData `json:"collected_data,omitempty"`
	Experiment *Experiment    `json:"experiment,omitempty"`
	Critique   *Critique      `json:"critique,omitempty"`

	Iteration int    `json:"iteration"`
	Paper     *Paper `json:"paper,omitempty"`

	// Messages is the append-only log of human-readable progress lines.
	Messages []string `json:"messages"`

	// Confidence per contributing stage, keyed by a short label
	// (domain_selection, question_selection, data_collection, experiment,
	// critique). Averaged for the final result.
	ConfidenceScores map[string]float64 `json:"confidence_scores,omitempty"`
}

// NewState returns a fresh pending state for a session.
func NewState(sessionID string) *State {
	return &State{
		SessionID:        sessionID,
		CreatedAt:        time.Now(),
		Status:           StatusPending,
		Messages:         []string{},
		ConfidenceScores: map[string]float64{},
	}
}

// AddMessage appends a progress line to the state log.
func (s *State) AddMessage(msg string) {
	s.Messages = append(s.Messages, msg)
}

// SetConfidence records a stage confidence score (0-100 scale).
func (s *State) SetConfidence(key string, value float64) {
	if s.ConfidenceScores == nil {
		s.ConfidenceScores = map[string]float64{}
	}
	s.ConfidenceScores[key] = value
}

// OverallConfidence averages the recorded stage confidences. When a
// critique is present its confidence wins, matching the stream contract
// where the final result reports the Critic's score.
func (s *State) OverallConfidence() float64 {
	if s.Critique != nil {
		return s.Critique.Confidence
	}
	if len(s.ConfidenceScores) == 0 {
		return 70
	}
	var sum float64
	for _, v := range s.ConfidenceScores {
		sum += v
	}
	return sum / float64(len(s.ConfidenceScores))
}

// DomainName returns the selected domain label or a placeholder.
func (s *State) DomainName() string {
	if s.SelectedDomain != nil {
		return s.SelectedDomain.Name
	}
	return "Unknown"
}

// QuestionText returns the selected question or a placeholder.
func (s *State) QuestionText() string {
	if s.SelectedQuestion != nil {
		return s.SelectedQuestion.Text
	}
	return "Unknown"
}

// Clone returns a deep copy so a stage can mutate freely while the engine
// keeps the previous version until the stage succeeds.
func (s *State) Clone() *State {
	cp := *s
	cp.Domains = append([]Domain(nil), s.Domains...)
	cp.Questions = append([]Question(nil), s.Questions...)
	cp.Messages = append([]string(nil), s.Messages...)
	if s.SelectedDomain != nil {
		d := *s.SelectedDomain
		cp.SelectedDomain = &d
	}
	if s.SelectedQuestion != nil {
		q := *s.SelectedQuestion
		cp.SelectedQuestion = &q
	}
	if s.Data != nil {
		data := &CollectedData{
			Sources:   make(map[string][]Record, len(s.Data.Sources)),
			Series:    make(map[string][]float64, len(s.Data.Series)),
			Partial:   s.Data.Partial,
			Synthetic: s.Data.Synthetic,
		}
		for k, v := range s.Data.Sources {
			data.Sources[k] = append([]Record(nil), v...)
		}
		for k, v := range s.Data.Series {
			data.Series[k] = append([]float64(nil), v...)
		}
		cp.Data = data
	}
	if s.Experiment != nil {
		e := *s.Experiment
		cp.Experiment = &e
	}
	if s.Critique != nil {
		c := *s.Critique
		cp.Critique = &c
	}
	if s.Paper != nil {
		p := *s.Paper
		cp.Paper = &p
	}
	cp.ConfidenceScores = make(map[string]float64, len(s.ConfidenceScores))
	for k, v := range s.ConfidenceScores {
		cp.ConfidenceScores[k] = v
	}
	return &cp
}

// Validate checks the structural invariants a stage delta must satisfy.
// Violations are fatal for the session.
func (s *State) Validate() error {
	if s.Critique != nil {
		if s.Critique.Confidence < 0 || s.Critique.Confidence > 100 {
			return fmt.Errorf("critique confidence %.2f out of range [0,100]", s.Critique.Confidence)
		}
		switch s.Critique.Verdict {
		case VerdictAccept, VerdictRevise:
		default:
			return fmt.Errorf("invalid verdict %q", s.Critique.Verdict)
		}
		if s.Critique.Verdict == VerdictRevise {
			switch s.Critique.TargetStage {
			case StatusQuestionGeneration, StatusDataCollection:
			default:
				return fmt.Errorf("invalid revise target %q", s.Critique.TargetStage)
			}
		}
	}
	for key, v := range s.ConfidenceScores {
		if v < 0 || v > 100 {
			return fmt.Errorf("confidence score %q=%.2f out of range [0,100]", key, v)
		}
	}
	if s.Iteration < 0 {
		return fmt.Errorf("iteration %d negative", s.Iteration)
	}
	return nil
}
