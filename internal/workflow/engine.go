// Package workflow drives a research session through its stages with an
// explicit state table. The engine owns stage sequencing, the critique
// loop-back with its iteration budget, progress weighting, and the
// stream terminal-event contract.
package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sagelab/researchd/internal/agents"
	"github.com/sagelab/researchd/internal/metrics"
	"github.com/sagelab/researchd/internal/research"
	"github.com/sagelab/researchd/internal/session"
	"github.com/sagelab/researchd/internal/streaming"
	"github.com/sagelab/researchd/internal/tracing"
)

// maxIterationsNote is appended to the critique when the iteration
// budget forces acceptance.
const maxIterationsNote = "max iterations reached"

// progressWeight maps each stage to its position in the overall run.
// Loop-backs reset progress to the target stage's band.
var progressWeight = map[research.Status]int{
	research.StatusDomainDiscovery:    10,
	research.StatusQuestionGeneration: 25,
	research.StatusDataCollection:     45,
	research.StatusExperimentDesign:   65,
	research.StatusCritique:           80,
	research.StatusPaperGeneration:    100,
}

// linear transitions; CRITIQUE is decided by decideAfterCritique.
var nextStage = map[research.Status]research.Status{
	research.StatusPending:            research.StatusDomainDiscovery,
	research.StatusDomainDiscovery:    research.StatusQuestionGeneration,
	research.StatusQuestionGeneration: research.StatusDataCollection,
	research.StatusDataCollection:     research.StatusExperimentDesign,
	research.StatusExperimentDesign:   research.StatusCritique,
	research.StatusPaperGeneration:    research.StatusComplete,
}

// Stages binds one stage implementation to each workflow status.
type Stages struct {
	DomainDiscovery    agents.Stage
	QuestionGeneration agents.Stage
	DataCollection     agents.Stage
	ExperimentDesign   agents.Stage
	Critique           agents.Stage
	PaperGeneration    agents.Stage
}

func (s Stages) forStatus(status research.Status) agents.Stage {
	switch status {
	case research.StatusDomainDiscovery:
		return s.DomainDiscovery
	case research.StatusQuestionGeneration:
		return s.QuestionGeneration
	case research.StatusDataCollection:
		return s.DataCollection
	case research.StatusExperimentDesign:
		return s.ExperimentDesign
	case research.StatusCritique:
		return s.Critique
	case research.StatusPaperGeneration:
		return s.PaperGeneration
	}
	return nil
}

// Engine executes research sessions. One Run owns its session's state
// for the duration; the registry only sees committed snapshots.
type Engine struct {
	registry      *session.Registry
	streams       *streaming.Manager
	stages        Stages
	maxIterations int
	weights       map[research.Status]int
	logger        *zap.Logger
}

func NewEngine(registry *session.Registry, streams *streaming.Manager, stages Stages, maxIterations int, logger *zap.Logger) *Engine {
	if maxIterations < 0 {
		maxIterations = 0
	}
	return &Engine{
		registry:      registry,
		streams:       streams,
		stages:        stages,
		maxIterations: maxIterations,
		weights:       progressWeight,
		logger:        logger,
	}
}

// SetStageWeights overrides the progress weight table, typically from
// LoadStageWeights. Must be called before Run.
func (e *Engine) SetStageWeights(weights map[research.Status]int) {
	if len(weights) > 0 {
		e.weights = weights
	}
}

// Run drives the session to a terminal status. It always publishes
// exactly one terminal event (complete or error), closes the stream,
// and finalizes the session in the registry.
func (e *Engine) Run(ctx context.Context, sess *session.Session) {
	start := time.Now()
	st := sess.State
	sessionID := sess.ID

	defer func() {
		metrics.WorkflowDuration.Observe(time.Since(start).Seconds())
	}()

	emit := func(agent, content string, degraded bool) {
		st.AddMessage(agent + ": " + content)
		e.publish(sessionID, streaming.Event{
			Type:     streaming.EventMessage,
			Agent:    agent,
			Content:  content,
			Degraded: degraded,
		})
	}

	feedback := ""
	for !st.Status.Terminal() {
		if err := ctx.Err(); err != nil {
			e.fail(sess, fmt.Errorf("session cancelled: %w", err))
			return
		}

		next, ok := e.advance(st, emit)
		if !ok {
			e.fail(sess, fmt.Errorf("no transition from status %s", st.Status))
			return
		}
		if next == research.StatusComplete {
			e.complete(sess)
			return
		}

		st.Status = next
		e.publish(sessionID, streaming.Event{
			Type:  streaming.EventProgress,
			Agent: agents.AgentSystem,
			Value: e.weights[next],
		})

		stage := e.stages.forStatus(next)
		if stage == nil {
			e.fail(sess, fmt.Errorf("no stage bound for status %s", next))
			return
		}

		working := st.Clone()
		stageStart := time.Now()
		metrics.StageExecutions.WithLabelValues(string(next)).Inc()
		stageCtx, span := tracing.Start(ctx, "stage."+string(next))
		err := stage.Run(stageCtx, working, func(agent, content string, degraded bool) {
			working.AddMessage(agent + ": " + content)
			e.publish(sessionID, streaming.Event{
				Type:     streaming.EventMessage,
				Agent:    agent,
				Content:  content,
				Degraded: degraded,
			})
		}, feedback)
		span.End()
		metrics.StageDuration.WithLabelValues(string(next)).Observe(time.Since(stageStart).Seconds())

		if err != nil {
			metrics.StageFailures.WithLabelValues(string(next)).Inc()
			e.fail(sess, fmt.Errorf("stage %s: %w", next, err))
			return
		}
		if err := working.Validate(); err != nil {
			metrics.StageFailures.WithLabelValues(string(next)).Inc()
			e.fail(sess, fmt.Errorf("stage %s produced invalid state: %w", next, err))
			return
		}

		working.Status = next
		sess.State = working
		st = working
		if err := e.registry.Update(ctx, sessionID, working); err != nil {
			e.logger.Warn("Session snapshot failed",
				zap.String("session_id", sessionID), zap.Error(err))
		}

		// Critique consumed the feedback from the previous loop-back.
		if next == research.StatusCritique {
			feedback = ""
		}
		if next == research.StatusCritique && st.Critique != nil && st.Critique.Verdict == research.VerdictRevise && st.Iteration < e.maxIterations {
			feedback = st.Critique.Feedback
		}
	}
}

// advance resolves the next status from the current one, applying the
// critique decision rule in the CRITIQUE state.
func (e *Engine) advance(st *research.State, emit agents.Emitter) (research.Status, bool) {
	if st.Status == research.StatusCritique {
		return e.decideAfterCritique(st, emit), true
	}
	next, ok := nextStage[st.Status]
	return next, ok
}

// decideAfterCritique applies the loop-back rule: an accepting verdict
// or an exhausted iteration budget moves to paper generation; a revise
// verdict within budget re-enters the target stage with the iteration
// counter bumped.
func (e *Engine) decideAfterCritique(st *research.State, emit agents.Emitter) research.Status {
	c := st.Critique
	if c == nil || c.Verdict == research.VerdictAccept {
		return research.StatusPaperGeneration
	}
	if st.Iteration >= e.maxIterations {
		c.Note = maxIterationsNote
		emit(agents.AgentSystem, "Iteration budget exhausted, proceeding to paper generation", false)
		return research.StatusPaperGeneration
	}
	st.Iteration++
	emit(agents.AgentSystem,
		fmt.Sprintf("Revision %d/%d: returning to %s", st.Iteration, e.maxIterations, c.TargetStage), false)
	return c.TargetStage
}

func (e *Engine) publish(sessionID string, evt streaming.Event) {
	metrics.EventsPublished.WithLabelValues(string(evt.Type)).Inc()
	e.streams.Publish(sessionID, evt)
}

// complete publishes the single terminal complete event and finalizes.
func (e *Engine) complete(sess *session.Session) {
	st := sess.State
	st.Status = research.StatusComplete
	metrics.WorkflowIterations.Observe(float64(st.Iteration))

	e.publish(sess.ID, streaming.Event{
		Type:  streaming.EventProgress,
		Agent: agents.AgentSystem,
		Value: 100,
	})
	e.publish(sess.ID, streaming.Event{
		Type: streaming.EventComplete,
		Result: &streaming.CompletionResult{
			Domain:     st.DomainName(),
			Question:   st.QuestionText(),
			Confidence: st.OverallConfidence(),
			PaperURL:   "/api/research/paper/" + sess.ID,
			SessionID:  sess.ID,
		},
	})
	e.finish(sess)
	e.logger.Info("Workflow complete",
		zap.String("session_id", sess.ID),
		zap.String("domain", st.DomainName()),
		zap.Int("iterations", st.Iteration),
		zap.Float64("confidence", st.OverallConfidence()),
	)
}

// fail publishes the single terminal error event and finalizes.
func (e *Engine) fail(sess *session.Session, err error) {
	sess.State.Status = research.StatusError
	sess.State.AddMessage(agents.AgentSystem + ": " + err.Error())

	e.publish(sess.ID, streaming.Event{
		Type:    streaming.EventError,
		Agent:   agents.AgentSystem,
		Message: err.Error(),
	})
	e.finish(sess)
	e.logger.Error("Workflow failed",
		zap.String("session_id", sess.ID),
		zap.Error(err),
	)
}

func (e *Engine) finish(sess *session.Session) {
	// Finalization must land even when the run context is cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.registry.Finalize(ctx, sess.ID, sess.State); err != nil {
		e.logger.Warn("Session finalize failed",
			zap.String("session_id", sess.ID), zap.Error(err))
	}
	e.streams.Close(sess.ID)
}
