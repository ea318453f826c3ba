// Package agents implements the six research stages. Each stage mutates
// the session state and reports progress through an Emitter; provider
// failure inside a stage degrades to deterministic content instead of
// failing the run.
package agents

import (
	"context"

	"github.com/sagelab/researchd/internal/research"
)

// Stable agent identities carried on stream events. Consumers key UI
// attribution off these exact strings.
const (
	AgentDomainScout        = "Domain Scout"
	AgentQuestionGenerator  = "Question Generator"
	AgentDataAlchemist      = "Data Alchemist"
	AgentExperimentDesigner = "Experiment Designer"
	AgentCritic             = "Critic"
	AgentOrchestrator       = "Orchestrator"
	AgentSystem             = "System"
)

// Emitter publishes one progress line attributed to an agent. degraded
// marks lines produced from fallback content.
type Emitter func(agent, content string, degraded bool)

// Stage is one step of the research workflow. Run mutates st in place;
// a non-nil error is fatal for the session. feedback carries the
// Critic's revision notes on loop-back passes, empty otherwise.
type Stage interface {
	Name() string
	Run(ctx context.Context, st *research.State, emit Emitter, feedback string) error
}
