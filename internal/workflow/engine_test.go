package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sagelab/researchd/internal/agents"
	"github.com/sagelab/researchd/internal/research"
	"github.com/sagelab/researchd/internal/session"
	"github.com/sagelab/researchd/internal/streaming"
)

// scriptedStage runs a canned mutation and records its invocations.
type scriptedStage struct {
	agent string
	calls int
	run   func(st *research.State, call int, feedback string) error
}

func (s *scriptedStage) Name() string { return s.agent }

func (s *scriptedStage) Run(_ context.Context, st *research.State, emit agents.Emitter, feedback string) error {
	s.calls++
	emit(s.agent, "working", false)
	if s.run == nil {
		return nil
	}
	return s.run(st, s.calls, feedback)
}

func happyStages(critic *scriptedStage) Stages {
	return Stages{
		DomainDiscovery: &scriptedStage{agent: agents.AgentDomainScout, run: func(st *research.State, _ int, _ string) error {
			st.SelectedDomain = &research.Domain{Name: "Molecular Data Storage"}
			return nil
		}},
		QuestionGeneration: &scriptedStage{agent: agents.AgentQuestionGenerator, run: func(st *research.State, _ int, _ string) error {
			st.SelectedQuestion = &research.Question{Text: "Can density scale?"}
			return nil
		}},
		DataCollection: &scriptedStage{agent: agents.AgentDataAlchemist, run: func(st *research.State, _ int, _ string) error {
			st.Data = &research.CollectedData{Series: map[string][]float64{"a": {1, 2, 3}}}
			return nil
		}},
		ExperimentDesign: &scriptedStage{agent: agents.AgentExperimentDesigner, run: func(st *research.State, _ int, _ string) error {
			st.Experiment = &research.Experiment{Hypothesis: "h", TestType: "t-test", Confidence: 0.75}
			return nil
		}},
		Critique: critic,
		PaperGeneration: &scriptedStage{agent: agents.AgentOrchestrator, run: func(st *research.State, _ int, _ string) error {
			st.Paper = &research.Paper{Abstract: "a"}
			return nil
		}},
	}
}

func newTestEngine(t *testing.T, stages Stages, maxIterations int) (*Engine, *session.Registry, *streaming.Manager, *session.Session) {
	t.Helper()
	registry := session.NewRegistry(session.NewMemoryStore(), zap.NewNop())
	streams := streaming.NewManager(256)
	engine := NewEngine(registry, streams, stages, maxIterations, zap.NewNop())
	sess, err := registry.Create(context.Background())
	require.NoError(t, err)
	return engine, registry, streams, sess
}

// collect drains every event off the stream until the manager closes it.
func collect(ch chan streaming.Event) []streaming.Event {
	var events []streaming.Event
	for evt := range ch {
		events = append(events, evt)
	}
	return events
}

func TestEngineAcceptPath(t *testing.T) {
	critic := &scriptedStage{agent: agents.AgentCritic, run: func(st *research.State, _ int, _ string) error {
		st.Critique = &research.Critique{Confidence: 72, Verdict: research.VerdictAccept}
		return nil
	}}
	engine, registry, streams, sess := newTestEngine(t, happyStages(critic), 2)

	ch := streams.Subscribe(sess.ID, 256)
	engine.Run(context.Background(), sess)
	events := collect(ch)

	var messageAgents []string
	var progressValues []int
	var completes, errors int
	var result *streaming.CompletionResult
	for _, evt := range events {
		switch evt.Type {
		case streaming.EventMessage:
			messageAgents = append(messageAgents, evt.Agent)
		case streaming.EventProgress:
			progressValues = append(progressValues, evt.Value)
		case streaming.EventComplete:
			completes++
			result = evt.Result
		case streaming.EventError:
			errors++
		}
	}

	assert.Equal(t, []string{
		agents.AgentDomainScout,
		agents.AgentQuestionGenerator,
		agents.AgentDataAlchemist,
		agents.AgentExperimentDesigner,
		agents.AgentCritic,
		agents.AgentOrchestrator,
	}, messageAgents)
	assert.Equal(t, []int{10, 25, 45, 65, 80, 100, 100}, progressValues)
	assert.Equal(t, 1, completes)
	assert.Zero(t, errors)
	// The terminal event is the last one on the stream.
	assert.Equal(t, streaming.EventComplete, events[len(events)-1].Type)

	require.NotNil(t, result)
	assert.Equal(t, "Molecular Data Storage", result.Domain)
	assert.Equal(t, 72.0, result.Confidence)
	assert.Equal(t, "/api/research/paper/"+sess.ID, result.PaperURL)

	stored, err := registry.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.True(t, stored.Finalized)
	assert.Equal(t, research.StatusComplete, stored.State.Status)
	assert.True(t, streams.Closed(sess.ID))
}

func TestEngineRevisionLoopExhaustsBudget(t *testing.T) {
	critic := &scriptedStage{agent: agents.AgentCritic, run: func(st *research.State, _ int, _ string) error {
		st.Critique = &research.Critique{
			Confidence:  55,
			Verdict:     research.VerdictRevise,
			TargetStage: research.StatusDataCollection,
			Feedback:    "collect better data",
		}
		return nil
	}}
	stages := happyStages(critic)

	var feedbacks []string
	alchemist := stages.DataCollection.(*scriptedStage)
	alchemist.run = func(st *research.State, _ int, feedback string) error {
		feedbacks = append(feedbacks, feedback)
		st.Data = &research.CollectedData{Series: map[string][]float64{"a": {1, 2, 3}}}
		return nil
	}

	engine, registry, streams, sess := newTestEngine(t, stages, 2)
	ch := streams.Subscribe(sess.ID, 256)
	engine.Run(context.Background(), sess)
	events := collect(ch)

	// Initial pass plus one revisit per budgeted iteration.
	assert.Equal(t, 3, alchemist.calls)
	assert.Equal(t, 3, critic.calls)
	assert.Equal(t, []string{"", "collect better data", "collect better data"}, feedbacks)

	stored, err := registry.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	st := stored.State
	assert.Equal(t, research.StatusComplete, st.Status)
	assert.Equal(t, 2, st.Iteration)
	require.NotNil(t, st.Critique)
	assert.Equal(t, "max iterations reached", st.Critique.Note)

	var completes int
	for _, evt := range events {
		if evt.Type == streaming.EventComplete {
			completes++
		}
	}
	assert.Equal(t, 1, completes)
}

func TestEngineAcceptAfterRevisions(t *testing.T) {
	critic := &scriptedStage{agent: agents.AgentCritic, run: func(st *research.State, call int, _ string) error {
		if call < 3 {
			st.Critique = &research.Critique{
				Confidence:  60,
				Verdict:     research.VerdictRevise,
				TargetStage: research.StatusDataCollection,
				Feedback:    "collect better data",
			}
			return nil
		}
		st.Critique = &research.Critique{Confidence: 88, Verdict: research.VerdictAccept}
		return nil
	}}
	stages := happyStages(critic)
	alchemist := stages.DataCollection.(*scriptedStage)

	// Budget well above the two revisions actually taken.
	engine, registry, streams, sess := newTestEngine(t, stages, 5)
	ch := streams.Subscribe(sess.ID, 256)
	engine.Run(context.Background(), sess)
	events := collect(ch)

	assert.Equal(t, 3, critic.calls)
	assert.Equal(t, 3, alchemist.calls)

	stored, err := registry.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	st := stored.State
	assert.Equal(t, research.StatusComplete, st.Status)
	assert.Equal(t, 2, st.Iteration)
	require.NotNil(t, st.Critique)
	assert.Equal(t, research.VerdictAccept, st.Critique.Verdict)
	// Acceptance came from the verdict, not the budget.
	assert.Empty(t, st.Critique.Note)

	var completes int
	var result *streaming.CompletionResult
	for _, evt := range events {
		if evt.Type == streaming.EventComplete {
			completes++
			result = evt.Result
		}
	}
	assert.Equal(t, 1, completes)
	require.NotNil(t, result)
	assert.Equal(t, 88.0, result.Confidence)
}

func TestEngineConcurrentSessionsStayIsolated(t *testing.T) {
	registry := session.NewRegistry(session.NewMemoryStore(), zap.NewNop())
	streams := streaming.NewManager(256)

	newRun := func(domain string) (*Engine, *session.Session) {
		critic := &scriptedStage{agent: agents.AgentCritic, run: func(st *research.State, _ int, _ string) error {
			st.Critique = &research.Critique{Confidence: 72, Verdict: research.VerdictAccept}
			return nil
		}}
		stages := happyStages(critic)
		stages.DomainDiscovery = &scriptedStage{agent: agents.AgentDomainScout, run: func(st *research.State, _ int, _ string) error {
			st.SelectedDomain = &research.Domain{Name: domain}
			return nil
		}}
		engine := NewEngine(registry, streams, stages, 2, zap.NewNop())
		sess, err := registry.Create(context.Background())
		require.NoError(t, err)
		return engine, sess
	}

	engineA, sessA := newRun("Molecular Data Storage")
	engineB, sessB := newRun("Neuromorphic Computing Hardware")

	var runs sync.WaitGroup
	runs.Add(2)
	go func() { defer runs.Done(); engineA.Run(context.Background(), sessA) }()
	go func() { defer runs.Done(); engineB.Run(context.Background(), sessB) }()

	// Status reads during the runs must see consistent snapshots.
	done := make(chan struct{})
	var poller sync.WaitGroup
	poller.Add(1)
	go func() {
		defer poller.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			for _, id := range []string{sessA.ID, sessB.ID} {
				if got, err := registry.Get(context.Background(), id); err == nil {
					_ = got.State.OverallConfidence()
					_ = len(got.State.Messages)
				}
			}
		}
	}()
	runs.Wait()
	close(done)
	poller.Wait()

	a, err := registry.Get(context.Background(), sessA.ID)
	require.NoError(t, err)
	b, err := registry.Get(context.Background(), sessB.ID)
	require.NoError(t, err)
	assert.Equal(t, "Molecular Data Storage", a.State.DomainName())
	assert.Equal(t, "Neuromorphic Computing Hardware", b.State.DomainName())
	assert.Equal(t, sessA.ID, a.State.SessionID)
	assert.Equal(t, sessB.ID, b.State.SessionID)
	assert.True(t, a.Finalized)
	assert.True(t, b.Finalized)
	assert.Equal(t, research.StatusComplete, a.State.Status)
	assert.Equal(t, research.StatusComplete, b.State.Status)
}

func TestEngineStageErrorTerminates(t *testing.T) {
	stages := happyStages(&scriptedStage{agent: agents.AgentCritic})
	stages.DataCollection = &scriptedStage{agent: agents.AgentDataAlchemist, run: func(*research.State, int, string) error {
		return fmt.Errorf("upstream unreachable")
	}}

	engine, registry, streams, sess := newTestEngine(t, stages, 2)
	ch := streams.Subscribe(sess.ID, 256)
	engine.Run(context.Background(), sess)
	events := collect(ch)

	var errorEvents []streaming.Event
	for _, evt := range events {
		require.NotEqual(t, streaming.EventComplete, evt.Type)
		if evt.Type == streaming.EventError {
			errorEvents = append(errorEvents, evt)
		}
	}
	require.Len(t, errorEvents, 1)
	assert.Contains(t, errorEvents[0].Message, "upstream unreachable")
	assert.Equal(t, streaming.EventError, events[len(events)-1].Type)

	stored, err := registry.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.True(t, stored.Finalized)
	assert.Equal(t, research.StatusError, stored.State.Status)
}

func TestEngineRejectsInvalidStageState(t *testing.T) {
	stages := happyStages(&scriptedStage{agent: agents.AgentCritic})
	stages.DomainDiscovery = &scriptedStage{agent: agents.AgentDomainScout, run: func(st *research.State, _ int, _ string) error {
		st.SetConfidence("domain_selection", 150)
		return nil
	}}

	engine, registry, streams, sess := newTestEngine(t, stages, 2)
	ch := streams.Subscribe(sess.ID, 256)
	engine.Run(context.Background(), sess)
	events := collect(ch)

	last := events[len(events)-1]
	assert.Equal(t, streaming.EventError, last.Type)
	assert.Contains(t, last.Message, "invalid state")

	stored, err := registry.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	// The committed snapshot never saw the bad delta.
	assert.NotContains(t, stored.State.ConfidenceScores, "domain_selection")
}

func TestEngineCancelledContext(t *testing.T) {
	engine, registry, streams, sess := newTestEngine(t, happyStages(&scriptedStage{agent: agents.AgentCritic}), 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := streams.Subscribe(sess.ID, 16)
	engine.Run(ctx, sess)
	events := collect(ch)

	require.Len(t, events, 1)
	assert.Equal(t, streaming.EventError, events[0].Type)
	assert.Contains(t, events[0].Message, "cancelled")

	stored, err := registry.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.True(t, stored.Finalized)
	assert.Equal(t, research.StatusError, stored.State.Status)
}
