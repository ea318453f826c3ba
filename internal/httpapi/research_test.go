package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sagelab/researchd/internal/agents"
	"github.com/sagelab/researchd/internal/research"
	"github.com/sagelab/researchd/internal/session"
	"github.com/sagelab/researchd/internal/streaming"
	"github.com/sagelab/researchd/internal/workflow"
)

func newTestHandler(t *testing.T) (*ResearchHandler, *session.Registry, *streaming.Manager) {
	t.Helper()
	registry := session.NewRegistry(session.NewMemoryStore(), zap.NewNop())
	streams := streaming.NewManager(64)
	h := NewResearchHandler(registry, streams, nil, context.Background(), zap.NewNop())
	return h, registry, streams
}

func TestStatusReturnsSnapshot(t *testing.T) {
	h, registry, _ := newTestHandler(t)
	ctx := context.Background()

	sess, err := registry.Create(ctx)
	require.NoError(t, err)
	st := sess.State
	st.Status = research.StatusDataCollection
	st.SelectedDomain = &research.Domain{Name: "Molecular Data Storage"}
	st.Iteration = 1
	require.NoError(t, registry.Update(ctx, sess.ID, st))

	req := httptest.NewRequest(http.MethodGet, "/api/research/status/"+sess.ID, nil)
	rec := httptest.NewRecorder()
	h.handleStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, sess.ID, body["session_id"])
	assert.Equal(t, "DATA_COLLECTION", body["status"])
	assert.Equal(t, "Molecular Data Storage", body["domain"])
	assert.Equal(t, float64(1), body["iteration"])
	assert.Equal(t, false, body["finalized"])
}

func TestStatusUnknownSession(t *testing.T) {
	h, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/research/status/no-such-id", nil)
	rec := httptest.NewRecorder()
	h.handleStatus(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaperNotReadyConflicts(t *testing.T) {
	h, registry, _ := newTestHandler(t)
	sess, err := registry.Create(context.Background())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/research/paper/"+sess.ID, nil)
	rec := httptest.NewRecorder()
	h.handlePaper(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "PENDING")
}

func TestPaperAfterErrorConflicts(t *testing.T) {
	h, registry, _ := newTestHandler(t)
	ctx := context.Background()
	sess, err := registry.Create(ctx)
	require.NoError(t, err)
	sess.State.Status = research.StatusError
	require.NoError(t, registry.Finalize(ctx, sess.ID, sess.State))

	req := httptest.NewRequest(http.MethodGet, "/api/research/paper/"+sess.ID, nil)
	rec := httptest.NewRecorder()
	h.handlePaper(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestPaperServedAsMarkdown(t *testing.T) {
	h, registry, _ := newTestHandler(t)
	ctx := context.Background()
	sess, err := registry.Create(ctx)
	require.NoError(t, err)
	st := sess.State
	st.Status = research.StatusComplete
	st.SelectedDomain = &research.Domain{Name: "Molecular Data Storage"}
	st.Paper = &research.Paper{
		Abstract:     "abstract text",
		Introduction: "intro",
		Methods:      "methods",
		Results:      "results",
		Discussion:   "discussion",
		Limitations:  "limitations",
	}
	require.NoError(t, registry.Finalize(ctx, sess.ID, st))

	req := httptest.NewRequest(http.MethodGet, "/api/research/paper/"+sess.ID, nil)
	rec := httptest.NewRecorder()
	h.handlePaper(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/markdown; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "# Molecular Data Storage: An Autonomous AI Investigation")
	assert.Contains(t, rec.Body.String(), "## Abstract\n\nabstract text")
}

func TestStartRejectsGet(t *testing.T) {
	h, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/research/start", nil)
	rec := httptest.NewRecorder()
	h.handleStart(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// stage returning a fixed mutation, for end-to-end start tests.
type fixedStage struct {
	agent string
	run   func(st *research.State)
}

func (s fixedStage) Name() string { return s.agent }

func (s fixedStage) Run(_ context.Context, st *research.State, emit agents.Emitter, _ string) error {
	emit(s.agent, "working", false)
	if s.run != nil {
		s.run(st)
	}
	return nil
}

func TestStartStreamsRunToCompletion(t *testing.T) {
	registry := session.NewRegistry(session.NewMemoryStore(), zap.NewNop())
	streams := streaming.NewManager(64)
	stages := workflow.Stages{
		DomainDiscovery: fixedStage{agent: agents.AgentDomainScout, run: func(st *research.State) {
			st.SelectedDomain = &research.Domain{Name: "Molecular Data Storage"}
		}},
		QuestionGeneration: fixedStage{agent: agents.AgentQuestionGenerator, run: func(st *research.State) {
			st.SelectedQuestion = &research.Question{Text: "Can density scale?"}
		}},
		DataCollection: fixedStage{agent: agents.AgentDataAlchemist, run: func(st *research.State) {
			st.Data = &research.CollectedData{Series: map[string][]float64{"a": {1, 2, 3}}}
		}},
		ExperimentDesign: fixedStage{agent: agents.AgentExperimentDesigner, run: func(st *research.State) {
			st.Experiment = &research.Experiment{Hypothesis: "h", TestType: "t-test"}
		}},
		Critique: fixedStage{agent: agents.AgentCritic, run: func(st *research.State) {
			st.Critique = &research.Critique{Confidence: 85, Verdict: research.VerdictAccept}
		}},
		PaperGeneration: fixedStage{agent: agents.AgentOrchestrator, run: func(st *research.State) {
			st.Paper = &research.Paper{Abstract: "a"}
		}},
	}
	engine := workflow.NewEngine(registry, streams, stages, 2, zap.NewNop())
	h := NewResearchHandler(registry, streams, engine, context.Background(), zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/research/start", nil)
	rec := httptest.NewRecorder()
	// Blocks until the workflow closes the stream.
	h.handleStart(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, ": connected to session")
	assert.Contains(t, body, "event: progress")
	assert.Contains(t, body, "event: message")
	assert.Contains(t, body, "event: complete")
	assert.Contains(t, body, `"confidence":85`)
}

func TestStartStopsWhenConsumerDisconnects(t *testing.T) {
	registry := session.NewRegistry(session.NewMemoryStore(), zap.NewNop())
	streams := streaming.NewManager(64)

	reached := make(chan struct{})
	gate := make(chan struct{})
	var designerRuns atomic.Int32
	stages := workflow.Stages{
		DomainDiscovery: fixedStage{agent: agents.AgentDomainScout, run: func(st *research.State) {
			st.SelectedDomain = &research.Domain{Name: "Molecular Data Storage"}
		}},
		QuestionGeneration: fixedStage{agent: agents.AgentQuestionGenerator, run: func(st *research.State) {
			st.SelectedQuestion = &research.Question{Text: "Can density scale?"}
		}},
		DataCollection: fixedStage{agent: agents.AgentDataAlchemist, run: func(st *research.State) {
			close(reached)
			<-gate
			st.Data = &research.CollectedData{Series: map[string][]float64{"a": {1, 2, 3}}}
		}},
		ExperimentDesign: fixedStage{agent: agents.AgentExperimentDesigner, run: func(st *research.State) {
			designerRuns.Add(1)
			st.Experiment = &research.Experiment{Hypothesis: "h", TestType: "t-test"}
		}},
		Critique: fixedStage{agent: agents.AgentCritic, run: func(st *research.State) {
			st.Critique = &research.Critique{Confidence: 85, Verdict: research.VerdictAccept}
		}},
		PaperGeneration: fixedStage{agent: agents.AgentOrchestrator, run: func(st *research.State) {
			st.Paper = &research.Paper{Abstract: "a"}
		}},
	}
	engine := workflow.NewEngine(registry, streams, stages, 2, zap.NewNop())
	h := NewResearchHandler(registry, streams, engine, context.Background(), zap.NewNop())

	reqCtx, disconnect := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/api/research/start", nil).WithContext(reqCtx)
	rec := httptest.NewRecorder()
	handlerDone := make(chan struct{})
	go func() {
		h.handleStart(rec, req)
		close(handlerDone)
	}()

	// Drop the consumer while data collection is in flight, then let the
	// stage return.
	<-reached
	disconnect()
	<-handlerDone
	close(gate)

	body := rec.Body.String()
	const marker = ": connected to session "
	i := strings.Index(body, marker)
	require.GreaterOrEqual(t, i, 0)
	id := strings.TrimSpace(strings.SplitN(body[i+len(marker):], "\n", 2)[0])

	require.Eventually(t, func() bool {
		got, err := registry.Get(context.Background(), id)
		return err == nil && got.Finalized
	}, time.Second, 5*time.Millisecond)

	got, err := registry.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, research.StatusError, got.State.Status)
	// No stage work after the disconnect.
	assert.Zero(t, designerRuns.Load())
}
