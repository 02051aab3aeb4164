// internal/grading/http.go
package grading

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// HTTPGrader calls the grading service over HTTP. The service wraps the LLM
// prompt, its injection defenses, and response parsing; this client only
// ships the answer and reads back the structured result.
type HTTPGrader struct {
	baseURL string
	client  *http.Client
	logger  *logrus.Logger
}

// NewHTTPGrader reads GRADER_URL (default "http://localhost:8090").
func NewHTTPGrader(logger *logrus.Logger) *HTTPGrader {
	baseURL := os.Getenv("GRADER_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8090"
	}
	return &HTTPGrader{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

type gradeRequest struct {
	QuestionID string `json:"question_id"`
	PlayerUID  string `json:"player_uid"`
	Answer     string `json:"answer"`
}

// Grade posts the answer for evaluation. A transport or decode failure
// returns the fallback result alongside the error so callers can still show
// the player something.
func (g *HTTPGrader) Grade(ctx context.Context, answer, questionID, playerUID string) (Result, error) {
	body, err := json.Marshal(gradeRequest{
		QuestionID: questionID,
		PlayerUID:  playerUID,
		Answer:     answer,
	})
	if err != nil {
		return FallbackResult("internal error"), fmt.Errorf("failed to marshal grade request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/grade", bytes.NewReader(body))
	if err != nil {
		return FallbackResult("internal error"), fmt.Errorf("failed to build grade request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return FallbackResult("grading service unavailable"), fmt.Errorf("grade request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		g.logger.Warnf("grading service returned %d for player %s", resp.StatusCode, playerUID)
		return FallbackResult("grading service error"), fmt.Errorf("grading service returned %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return FallbackResult("malformed grading response"), fmt.Errorf("failed to decode grade response: %w", err)
	}
	return result, nil
}
