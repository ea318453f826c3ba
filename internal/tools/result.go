package tools

import "github.com/sagelab/researchd/internal/research"

// Result is the two-outcome return of a single tool call: either the
// provider's content, or deterministic fallback content with the reason
// the provider could not serve. Stages branch on Degraded instead of
// catching errors.
type Result struct {
	Text     string
	Degraded bool
	Reason   string
}

// Ok wraps provider content.
func Ok(text string) Result { return Result{Text: text} }

// Fallback wraps substitute content with the degradation reason.
func Fallback(text, reason string) Result {
	return Result{Text: text, Degraded: true, Reason: reason}
}

// SearchOutcome is the two-outcome return of a search call.
type SearchOutcome struct {
	Records  []research.Record
	Degraded bool
	Reason   string
}
