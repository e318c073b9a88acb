package session

import (
	"context"
	"sync"
	"testing"
	"time"

	memorybroker "github.com/snapback-ai/coprocessor/broker/memory"
)

func TestRegistryRegisterLookupRemove(t *testing.T) {
	r := NewRegistry(memorybroker.New())

	s := r.Register(context.Background(), "user-1", "pro")
	if _, ok := r.Lookup(s.ID()); !ok {
		t.Fatalf("expected session to be registered")
	}

	r.Remove(s.ID())
	if _, ok := r.Lookup(s.ID()); ok {
		t.Fatalf("expected session to be removed")
	}
	if !s.Closed() {
		t.Fatalf("expected session closed")
	}
	if s.Context().Err() == nil {
		t.Fatalf("expected session context cancelled on remove")
	}
}

func TestRegistryRemoveCancelsInFlight(t *testing.T) {
	r := NewRegistry(memorybroker.New())
	s := r.Register(context.Background(), "user-1", "free")

	done := make(chan struct{})
	go func() {
		<-s.Context().Done()
		close(done)
	}()

	r.Remove(s.ID())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected in-flight request context to be cancelled")
	}
}

func TestRegistryShutdownConcurrentWithRemove(t *testing.T) {
	r := NewRegistry(memorybroker.New())
	var ids []string
	for i := 0; i < 20; i++ {
		s := r.Register(context.Background(), "user", "free")
		ids = append(ids, s.ID())
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); r.Shutdown() }()
	go func() {
		defer wg.Done()
		for _, id := range ids {
			r.Remove(id)
		}
	}()
	wg.Wait()

	if r.Len() != 0 {
		t.Fatalf("expected all sessions removed, got %d", r.Len())
	}
}

func TestSessionPublishConsume(t *testing.T) {
	r := NewRegistry(memorybroker.New())
	s := r.Register(context.Background(), "user-1", "pro")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := s.Publish(ctx, []byte(`{"jsonrpc":"2.0","id":1}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	received := make(chan string, 1)
	go func() {
		_ = s.Consume(ctx, "", func(eventID string, data []byte) error {
			received <- string(data)
			return ctx.Err()
		})
	}()

	select {
	case data := <-received:
		if data != `{"jsonrpc":"2.0","id":1}` {
			t.Fatalf("unexpected payload: %s", data)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message")
	}
}
