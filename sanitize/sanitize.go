// Package sanitize implements the Error Sanitizer (spec §4.11): the single
// outbound path for error detail, so internal paths, keys, addresses, and
// stack traces never leak to a caller in production (spec §7).
package sanitize

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"strconv"
	"time"
)

// genericProductionMessage is the fixed constant every production-mode
// error returns, regardless of the underlying cause (spec §8: "in
// production mode, the public message is a fixed constant for any input").
const genericProductionMessage = "An internal error occurred. Please contact support and reference the log id below."

// Public is the sanitized, caller-facing error shape.
type Public struct {
	Message string
	Code    string
	LogID   string
}

// Sanitizer redacts error detail before it reaches a caller, logging the
// full detail internally under a unique log id.
type Sanitizer struct {
	development bool
	logger      *slog.Logger
}

// New constructs a Sanitizer. development controls verbosity: true exposes
// the original error message, false (production) returns the fixed generic
// message.
func New(development bool, logger *slog.Logger) *Sanitizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sanitizer{development: development, logger: logger}
}

// Sanitize converts err into a Public value safe to return to a caller,
// logging the full detail (prefixed with the log id) to the process's error
// channel (spec §4.11).
func (s *Sanitizer) Sanitize(ctx context.Context, err error, code string, logContext string) Public {
	logID := newLogID()

	s.logger.ErrorContext(ctx, "["+logID+"] "+logContext, "error", err, "code", code)

	message := genericProductionMessage
	if s.development {
		message = err.Error()
	}

	return Public{Message: message, Code: code, LogID: logID}
}

// newLogID builds a time-plus-random token (spec §4.11: "logId is a
// time-plus-random token").
func newLogID() string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + hex.EncodeToString(buf[:])
}
