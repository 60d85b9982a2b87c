// Package ollama is a minimal client for a local Ollama HTTP endpoint.
//
// Only the non-streaming /api/generate operation is covered; that is all the
// example flows need. Transport failures and non-2xx responses come back as
// plain errors, so a flow step calling the client can lean on its retry
// policy for a model server that is still warming up.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is where a locally running Ollama server listens.
const DefaultBaseURL = "http://localhost:11434"

// Client talks to one Ollama server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for the given base URL. An empty baseURL means
// DefaultBaseURL. Generation can be slow, so the default HTTP client allows
// a generous per-request timeout; pass a context with a deadline to tighten
// it.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// NewClientWithHTTPClient is like NewClient but uses the given HTTP client.
func NewClientWithHTTPClient(baseURL string, hc *http.Client) *Client {
	c := NewClient(baseURL)
	if hc != nil {
		c.httpClient = hc
	}
	return c
}

// Options carries model sampling options.
type Options struct {
	Temperature float64 `json:"temperature"`
}

// GenerateRequest is the body of a /api/generate call.
type GenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`

	// Format, when set to "json", asks the model to emit valid JSON.
	Format string `json:"format,omitempty"`

	Options *Options `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate runs one non-streaming generation and returns the model's
// response text.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	req.Stream = false

	body, err := json.Marshal(&req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ollama generate: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ollama generate: decoding response: %w", err)
	}
	return out.Response, nil
}

// GenerateJSON runs a generation with Format set to "json" and unmarshals
// the model's response into out.
func (c *Client) GenerateJSON(ctx context.Context, req GenerateRequest, out any) error {
	req.Format = "json"
	text, err := c.Generate(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("ollama generate: response is not valid JSON: %w", err)
	}
	return nil
}

// Answer extracts the "answer" field from a JSON response produced by a
// prompt of the form `respond with JSON {"answer": ...}`.
func Answer(text string) (string, error) {
	var payload struct {
		Answer string `json:"answer"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return "", fmt.Errorf("ollama: response is not an answer object: %w", err)
	}
	return payload.Answer, nil
}
