// Package ai wraps the external text-generation collaborator. The engine
// only gates and meters calls to it; prompt and response shapes belong to
// the collaborator.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Generator produces a task breakdown for a prompt. Implementations are
// expected to be remote and fallible; callers gate every call through the
// quota ledger first.
type Generator interface {
	GenerateBreakdown(ctx context.Context, prompt string) (string, error)
}

// DefaultTimeout bounds a generation call.
const DefaultTimeout = 10 * time.Second

// HTTPGenerator calls a proxy endpoint that forwards to the AI provider.
type HTTPGenerator struct {
	endpoint string
	http     *http.Client
}

// NewHTTPGenerator creates a Generator for the given proxy endpoint.
func NewHTTPGenerator(endpoint string) *HTTPGenerator {
	return &HTTPGenerator{
		endpoint: endpoint,
		http:     &http.Client{Timeout: DefaultTimeout},
	}
}

// GenerateBreakdown posts the prompt and returns the generated text.
func (g *HTTPGenerator) GenerateBreakdown(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return "", fmt.Errorf("ai: encode prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ai: call generator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ai: generator returned %d", resp.StatusCode)
	}

	var parsed struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("ai: decode response: %w", err)
	}
	return parsed.Result, nil
}
