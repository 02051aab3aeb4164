// internal/catalog/catalog.go
package catalog

import (
	"context"
)

// Question is one interview question as served to a match.
type Question struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	AnswerCriteria string `json:"answerCriteria,omitempty"`
}

// Catalog supplies questions for matches. Implementations must never fail a
// match start: when the bank is empty or unreachable they fall back to
// DefaultQuestion.
type Catalog interface {
	RandomQuestion(ctx context.Context) Question
}

// DefaultQuestion is served when the question bank is empty or unreachable.
var DefaultQuestion = Question{
	ID:             "1",
	Text:           "Tell us about a time you had a great team member. How did they make the project better?",
	AnswerCriteria: "This question should follow the STAR principle. They can answer in many ways, but should be short (maximum of one minute or ten sentences).",
}
