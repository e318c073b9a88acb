// Package upstream implements the Upstream Client: the resilience envelope
// around the remote analysis service, composed as timeout ∘ retry ∘
// circuit-breaker (outermost first), per spec §4.7.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// AnalyzeRequest is the body sent to the remote analysis endpoint.
type AnalyzeRequest struct {
	Code    string         `json:"code"`
	Context map[string]any `json:"context,omitempty"`
}

// AnalyzeResponse is the upstream response shape, validated before use.
// Fields mirror spec §4.6's "upstream to local shape" mapping input.
type AnalyzeResponse struct {
	RiskLevel       string   `json:"riskLevel"`
	Confidence      float64  `json:"confidence"`
	Issues          []Issue  `json:"issues"`
	ExecutionTimeMS int64    `json:"executionTimeMs"`
	Recommendations []string `json:"recommendations"`
}

// Issue is one finding in an analysis result, local or upstream-sourced.
type Issue struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Pattern  string `json:"pattern,omitempty"`
	Line     *int   `json:"line,omitempty"`
}

var validRiskLevels = map[string]bool{
	"safe": true, "low": true, "medium": true, "high": true, "critical": true,
}

// ValidationError marks a response-shape failure as non-retryable, per
// spec §4.7 ("validation failure is treated as a non-retryable error").
type ValidationError struct{ Reason string }

func (e *ValidationError) Error() string { return "invalid upstream response: " + e.Reason }

func (r AnalyzeResponse) validate() error {
	if !validRiskLevels[r.RiskLevel] {
		return &ValidationError{Reason: "unrecognized riskLevel " + r.RiskLevel}
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return &ValidationError{Reason: "confidence out of [0,1] range"}
	}
	for _, issue := range r.Issues {
		if issue.Type == "" || issue.Severity == "" {
			return &ValidationError{Reason: "issue missing type or severity"}
		}
	}
	return nil
}

// Config configures the Client.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	// Timeout is the total per-call deadline, applied outermost (spec §4.7).
	Timeout time.Duration
	// MaxAttempts bounds retries within the deadline. Spec default: 3.
	MaxAttempts int
	Breaker     BreakerConfig
}

// Client is the upstream HTTP client wrapped in the
// timeout ∘ retry ∘ circuit-breaker composition spec §4.7 requires.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *Breaker
}

// New constructs a Client; unset Config fields take spec-named defaults.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Client{cfg: cfg, http: cfg.HTTPClient, breaker: NewBreaker(cfg.Breaker)}
}

// Breaker exposes the client's breaker, for health reporting and tests.
func (c *Client) Breaker() *Breaker { return c.breaker }

// Analyze runs one upstream analysis call through the resilience
// composition: an outer deadline, inner exponential-backoff retries, and a
// circuit breaker guarding the network call itself.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.Multiplier = 2
	bo.MaxInterval = 5 * time.Second
	bo.RandomizationFactor = 0.2

	resp, err := backoff.Retry(ctx, func() (*AnalyzeResponse, error) {
		var out *AnalyzeResponse
		callErr := c.breaker.Call(func() error {
			r, doErr := c.doAnalyze(ctx, req)
			if doErr != nil {
				return doErr
			}
			out = r
			return nil
		})
		if callErr != nil {
			if isNonRetryable(callErr) {
				return nil, backoff.Permanent(callErr)
			}
			return nil, callErr
		}
		return out, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(c.cfg.MaxAttempts)))

	if err != nil {
		return nil, err
	}
	return resp, nil
}

// isNonRetryable reports whether err should abort the retry loop
// immediately rather than consume another attempt: schema-validation
// failures and an open circuit breaker are both terminal for this call.
func isNonRetryable(err error) bool {
	if err == ErrBreakerOpen {
		return true
	}
	_, ok := err.(*ValidationError)
	return ok
}

func (c *Client) doAnalyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal upstream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream call: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	if httpResp.StatusCode >= 500 {
		return nil, fmt.Errorf("upstream returned status %d", httpResp.StatusCode)
	}
	if httpResp.StatusCode >= 400 {
		return nil, &ValidationError{Reason: fmt.Sprintf("upstream returned status %d", httpResp.StatusCode)}
	}

	var parsed AnalyzeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &ValidationError{Reason: "malformed JSON body"}
	}
	if err := parsed.validate(); err != nil {
		return nil, err
	}

	return &parsed, nil
}
