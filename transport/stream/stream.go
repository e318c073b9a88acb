// Package stream implements the newline-framed duplex stream transport
// (spec §4.1): one JSON-RPC message per line in, at most one response line
// out per request, grounded on the teacher's (unimplemented) stdio package's
// Handler/Option shape — WithReader/WithWriter/WithLogger survive verbatim,
// but Serve itself is new, since the teacher's body was an empty stub.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/snapback-ai/coprocessor/server"
	"github.com/snapback-ai/coprocessor/session"
)

// maxLineBytes bounds a single framed message; a caller-supplied line
// longer than this is itself a malformed-frame condition.
const maxLineBytes = 16 * 1024 * 1024

// Handler is a single-connection, newline-delimited JSON-RPC transport. It
// reads requests from an io.Reader and writes responses to an io.Writer,
// defaulting to os.Stdin/os.Stdout.
type Handler struct {
	r io.Reader
	w io.Writer
	l *slog.Logger

	srv *server.Server

	writeMu     sync.Mutex
	writeFailed atomic.Bool
}

// Option customizes a Handler.
type Option func(*Handler)

// WithReader overrides the input stream.
func WithReader(r io.Reader) Option {
	return func(h *Handler) {
		if r != nil {
			h.r = r
		}
	}
}

// WithWriter overrides the output stream.
func WithWriter(w io.Writer) Option {
	return func(h *Handler) {
		if w != nil {
			h.w = w
		}
	}
}

// WithLogger overrides the logger; logs never share the writer with
// JSON-RPC framing, so they always go to the process's own logger
// (stderr by default), never interleaved with response lines.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.l = l
		}
	}
}

// NewHandler constructs a stream Handler over srv with defaults (stdin,
// stdout, the default logger) and applies opts.
func NewHandler(srv *server.Server, opts ...Option) *Handler {
	h := &Handler{
		r:   os.Stdin,
		w:   os.Stdout,
		l:   slog.Default(),
		srv: srv,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve runs the read/dispatch/write loop against sess until EOF, a read
// error, or ctx cancellation. Per spec §4.1:
//   - a malformed frame (bad JSON, unknown method) gets a JSON-RPC error
//     response and the connection stays open;
//   - a read error terminates the session;
//   - a write error marks the session closed and silently drops every
//     subsequent response, since the peer can no longer be reached.
func (h *Handler) Serve(ctx context.Context, sess *session.Session) error {
	scanner := bufio.NewScanner(h.r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		resp := h.srv.Handle(ctx, sess, append([]byte(nil), line...))
		if resp == nil {
			continue
		}

		if h.writeFailed.Load() {
			continue
		}
		if err := h.writeLine(resp); err != nil {
			h.writeFailed.Store(true)
			h.l.ErrorContext(ctx, "stream: write failed, closing session", "session", sess.ID(), "error", err)
			h.srv.Sessions().Remove(sess.ID())
			continue
		}
	}

	if err := scanner.Err(); err != nil {
		h.l.ErrorContext(ctx, "stream: read failed, terminating session", "session", sess.ID(), "error", err)
		return fmt.Errorf("stream: read: %w", err)
	}
	return nil
}

// writeLine serializes one response line; concurrent writers (a tool call
// finishing on a goroutine while another response is mid-write) never
// interleave since every write holds writeMu.
func (h *Handler) writeLine(data []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if _, err := h.w.Write(data); err != nil {
		return err
	}
	_, err := h.w.Write([]byte("\n"))
	return err
}
