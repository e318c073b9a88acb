package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestClientAnalyzeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(AnalyzeResponse{RiskLevel: "medium", Confidence: 0.8})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "test-key", Timeout: 2 * time.Second})
	resp, err := c.Analyze(context.Background(), AnalyzeRequest{Code: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.RiskLevel != "medium" {
		t.Fatalf("expected medium, got %s", resp.RiskLevel)
	}
}

func TestClientRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(AnalyzeResponse{RiskLevel: "low", Confidence: 0.1})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "test-key", Timeout: 5 * time.Second, MaxAttempts: 3})
	resp, err := c.Analyze(context.Background(), AnalyzeRequest{Code: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.RiskLevel != "low" {
		t.Fatalf("expected low, got %s", resp.RiskLevel)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestClientValidationFailureIsNonRetryable(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(AnalyzeResponse{RiskLevel: "not-a-real-level"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "test-key", Timeout: 5 * time.Second, MaxAttempts: 3})
	_, err := c.Analyze(context.Background(), AnalyzeRequest{Code: "x"})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly 1 call on non-retryable validation failure, got %d", calls)
	}
}

func TestClientOpenBreakerShortCircuits(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{
		BaseURL: srv.URL, APIKey: "test-key", Timeout: 5 * time.Second, MaxAttempts: 1,
		Breaker: BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, RecoveryWindow: time.Minute},
	})

	_, err := c.Analyze(context.Background(), AnalyzeRequest{Code: "x"})
	if err == nil {
		t.Fatalf("expected first call to fail")
	}
	if c.Breaker().State() != Open {
		t.Fatalf("expected breaker open after 1 failure with threshold 1")
	}

	before := atomic.LoadInt32(&calls)
	_, err = c.Analyze(context.Background(), AnalyzeRequest{Code: "x"})
	if err == nil {
		t.Fatalf("expected second call to fail fast via open breaker")
	}
	if atomic.LoadInt32(&calls) != before {
		t.Fatalf("expected no additional network call while breaker is open")
	}
}
