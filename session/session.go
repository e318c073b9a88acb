// Package session implements the Session Registry: the single
// synchronization point for transport lifetimes. It correlates concurrent
// requests with their originating transport, tracks cancellation, and tears
// sessions down on disconnect.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/snapback-ai/coprocessor/broker"
	"github.com/snapback-ai/coprocessor/internal/jsonrpc"
)

// State is the minimal, exported snapshot of a session used by logging
// middleware and diagnostics. It deliberately carries no behavior.
type State struct {
	ID        string
	UserID    string
	Tier      string
	CreatedAt time.Time
}

// Session is a single connected client: one stream connection or one SSE
// channel plus its associated POST requests. Exactly one writer may be
// active on a session's transport at a time; the session closes exactly
// once and cancels every in-flight request on close.
type Session struct {
	id        string
	userID    string
	tier      string
	createdAt time.Time

	mu           sync.Mutex
	lastActivity time.Time
	closed       bool

	ctx    context.Context
	cancel context.CancelFunc

	broker    broker.Broker
	namespace string
}

// ID returns the session's stable, opaque identifier.
func (s *Session) ID() string { return s.id }

// UserID returns the principal that created the session.
func (s *Session) UserID() string { return s.userID }

// Tier returns the caller's resolved authorization tier.
func (s *Session) Tier() string { return s.tier }

// Context is cancelled when the session closes; every in-flight request
// handler must be derived from it so session close cascades cancellation.
func (s *Session) Context() context.Context { return s.ctx }

// State returns an immutable snapshot for logging.
func (s *Session) State() State {
	return State{ID: s.id, UserID: s.userID, Tier: s.tier, CreatedAt: s.createdAt}
}

// Touch records activity, used for idle-session bookkeeping.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity reports the last time Touch was called.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Publish delivers a message to the session's transport. Returns the
// generated event id so HTTP+SSE can set the wire `id:` field for resume.
func (s *Session) Publish(ctx context.Context, data []byte) (string, error) {
	return s.broker.Publish(ctx, s.namespace, jsonrpc.Message(data))
}

// Consume streams messages published to this session, resuming after
// lastEventID if provided, until ctx is cancelled or the session closes.
func (s *Session) Consume(ctx context.Context, lastEventID string, fn func(eventID string, data []byte) error) error {
	stream, err := s.broker.Subscribe(ctx, s.namespace, lastEventID)
	if err != nil {
		return fmt.Errorf("subscribe session %s: %w", s.id, err)
	}
	defer stream.Close()

	for {
		env, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if err := fn(env.ID, env.Data); err != nil {
			return err
		}
	}
}

// close cancels the session context and cleans up its broker namespace.
// Idempotent: a session closes exactly once.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	_ = s.broker.Cleanup(context.Background(), s.namespace)
}

// Closed reports whether the session has been removed from the registry.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Registry maps session id to session handle: register, lookup, remove.
// It has no business logic beyond transport lifetime management, per the
// Session Registry's narrow mandate.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	broker   broker.Broker
}

// NewRegistry constructs a registry backed by the given message broker,
// used for per-session message delivery (in-memory by default; Redis for
// horizontally-scaled deployments).
func NewRegistry(b broker.Broker) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		broker:   b,
	}
}

// Register creates and stores a new session for userID/tier, deriving its
// cancellation context from parent.
func (r *Registry) Register(parent context.Context, userID, tier string) *Session {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	now := time.Now()

	s := &Session{
		id:           id,
		userID:       userID,
		tier:         tier,
		createdAt:    now,
		lastActivity: now,
		ctx:          ctx,
		cancel:       cancel,
		broker:       r.broker,
		namespace:    "session:" + id,
	}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	return s
}

// Lookup returns the session for id, or ok=false if it doesn't exist (or
// has already been removed).
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove cancels the session's in-flight requests and drops it from the
// registry. Safe to call more than once; safe to call concurrently with
// Shutdown's iteration.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if ok {
		s.close()
	}
}

// Len reports the number of currently registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown closes every registered session. Safe against concurrent Remove
// calls triggered by the sessions' own transports disconnecting.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Remove(id)
	}
}
