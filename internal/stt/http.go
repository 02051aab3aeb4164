// internal/stt/http.go
package stt

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

// HTTPTranscriber calls the whisper sidecar service. The model weights and
// decoding options live entirely in that service; this client ships samples
// and reads back text segments.
type HTTPTranscriber struct {
	baseURL string
	client  *http.Client
	logger  *logrus.Logger
}

// NewHTTPTranscriber reads WHISPER_ADDR (default "http://localhost:8001").
func NewHTTPTranscriber(logger *logrus.Logger) *HTTPTranscriber {
	baseURL := os.Getenv("WHISPER_ADDR")
	if baseURL == "" {
		baseURL = "http://localhost:8001"
	}
	return &HTTPTranscriber{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

type transcribeRequest struct {
	Samples  []float32 `json:"samples"`
	Language string    `json:"language"`
}

type transcribeResponse struct {
	Segments []string `json:"segments"`
}

// Transcribe posts normalized samples to the sidecar and returns the
// recognized segments.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, samples []float32, lang string) ([]string, error) {
	body, err := json.Marshal(transcribeRequest{Samples: samples, Language: lang})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transcribe request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/transcribe", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build transcribe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcribe request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcription service returned %d", resp.StatusCode)
	}

	var decoded transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode transcribe response: %w", err)
	}
	return decoded.Segments, nil
}
