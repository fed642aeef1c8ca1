package examclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HTTPGateway talks to the backend's student API. Responses use the
// standard envelope: {"data": ..., "error": {"code", "message"}}.
type HTTPGateway struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPGateway creates a gateway for the given base URL (e.g.
// "http://localhost:8080/api/v1") and student bearer token.
func NewHTTPGateway(baseURL, token string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// envelope mirrors the server's response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// FetchExamContent implements Gateway.
func (g *HTTPGateway) FetchExamContent(ctx context.Context, examID uuid.UUID) (*ExamContent, error) {
	var content ExamContent
	path := fmt.Sprintf("/student/exams/%s", examID)
	if err := g.do(ctx, http.MethodGet, path, nil, &content); err != nil {
		return nil, err
	}
	return &content, nil
}

// StartAttempt implements Gateway.
func (g *HTTPGateway) StartAttempt(ctx context.Context, examID uuid.UUID) (*StartResult, error) {
	var body struct {
		Attempt struct {
			StartedAt time.Time `json:"started_at"`
		} `json:"attempt"`
		Deadline time.Time `json:"deadline"`
	}
	path := fmt.Sprintf("/student/exams/%s/start", examID)
	if err := g.do(ctx, http.MethodPost, path, struct{}{}, &body); err != nil {
		return nil, err
	}
	return &StartResult{StartedAt: body.Attempt.StartedAt, Deadline: body.Deadline}, nil
}

// PollRemaining implements Gateway.
func (g *HTTPGateway) PollRemaining(ctx context.Context, examID uuid.UUID) (*Clock, error) {
	var clock Clock
	path := fmt.Sprintf("/student/exams/%s/clock", examID)
	if err := g.do(ctx, http.MethodGet, path, nil, &clock); err != nil {
		return nil, err
	}
	return &clock, nil
}

// SubmitAnswers implements Gateway.
func (g *HTTPGateway) SubmitAnswers(ctx context.Context, examID uuid.UUID, answers []Answer) (*SubmitResult, error) {
	var result SubmitResult
	path := fmt.Sprintf("/student/exams/%s/answers", examID)
	payload := struct {
		Answers []Answer `json:"answers"`
	}{Answers: answers}
	if err := g.do(ctx, http.MethodPost, path, payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// do issues one request and decodes the envelope. A reachable server with
// an error body yields a *DomainError; anything else is transport.
func (g *HTTPGateway) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode envelope (status %d): %w", resp.StatusCode, err)
	}

	if env.Error != nil {
		return &DomainError{Code: env.Error.Code, Message: env.Error.Message}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}
