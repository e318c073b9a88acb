package docproxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestResolveLibraryIDCachesWithinTTL(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode([]LibraryMatch{{ID: "/facebook/react", Name: "react"}})
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, APIKey: "key", SearchTTL: time.Minute})

	first, err := p.ResolveLibraryID(context.Background(), "react")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(first) != 1 || first[0].ID != "/facebook/react" {
		t.Fatalf("unexpected result: %+v", first)
	}

	second, err := p.ResolveLibraryID(context.Background(), "react")
	if err != nil {
		t.Fatalf("resolve (cached): %v", err)
	}
	if len(second) != 1 {
		t.Fatalf("unexpected cached result: %+v", second)
	}

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly 1 upstream call, got %d", calls)
	}
}

func TestGetLibraryDocsDistinctTopicKeys(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(DocsResult{Content: r.URL.Query().Get("topic")})
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, APIKey: "key"})

	a, err := p.GetLibraryDocs(context.Background(), "/facebook/react", GetLibraryDocsOptions{Topic: "hooks"})
	if err != nil {
		t.Fatalf("get docs: %v", err)
	}
	b, err := p.GetLibraryDocs(context.Background(), "/facebook/react", GetLibraryDocsOptions{Topic: "routing"})
	if err != nil {
		t.Fatalf("get docs: %v", err)
	}

	if a.Content == b.Content {
		t.Fatalf("expected distinct topics to produce distinct cache keys and results")
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 upstream calls for 2 distinct topics, got %d", calls)
	}
}

func TestFetchAbortsOn404WithoutRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, APIKey: "key"})
	_, err := p.ResolveLibraryID(context.Background(), "nonexistent-lib")
	if err == nil {
		t.Fatalf("expected an error for a 404 response")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly 1 call on a 404 abort, got %d", calls)
	}
}

func TestFetchRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode([]LibraryMatch{{ID: "/vuejs/vue"}})
	}))
	defer srv.Close()

	p := New(Config{BaseURL: srv.URL, APIKey: "key"})
	matches, err := p.ResolveLibraryID(context.Background(), "vue")
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("unexpected matches: %+v", matches)
	}
}

func TestListToolsReturnsBothCtx7Tools(t *testing.T) {
	p := New(Config{BaseURL: "http://example.invalid"})
	if p.Prefix() != "ctx7." {
		t.Fatalf("expected ctx7. prefix, got %s", p.Prefix())
	}
	tools, err := p.ListTools()
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
}
