// internal/grading/grading.go
package grading

import "context"

// Result is one player's evaluation for the match.
type Result struct {
	Score        float64  `json:"score"`
	Feedback     string   `json:"feedback"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`

	// Err carries a per-player grading failure; the other player's result is
	// unaffected by it.
	Err string `json:"error,omitempty"`
}

// Grader evaluates a player's answer to the match question. The actual
// scoring lives in an external LLM service; the match core only consumes
// this contract, once per player at match end.
type Grader interface {
	Grade(ctx context.Context, answer, questionID, playerUID string) (Result, error)
}

// FallbackResult is handed out when the grading service cannot produce a
// usable evaluation, so the client always gets a well-formed result.
func FallbackResult(reason string) Result {
	return Result{
		Score:        5.0,
		Feedback:     "Unable to grade answer automatically. " + reason,
		Strengths:    []string{"Answer provided"},
		Improvements: []string{"Please try again"},
		Err:          reason,
	}
}
