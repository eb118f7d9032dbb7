package audit

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// BackoffPolicy bounds the retry schedule of a failed write.
type BackoffPolicy struct {
	BaseMs      int64
	MaxMs       int64
	MaxJitterMs int64
	MaxAttempts int
}

// Delay returns the wait before retry number attempt (1-based) of the entry
// for sessionID: base * 2^(attempt-1), capped at MaxMs, plus a jitter
// derived from the session id so retries of different sessions spread out
// while a given schedule stays reproducible.
func (p BackoffPolicy) Delay(sessionID string, attempt int) time.Duration {
	exp := attempt - 1
	if exp < 0 {
		exp = 0
	}
	if exp > 30 {
		exp = 30
	}

	delay := p.BaseMs * (int64(1) << exp)
	if delay > p.MaxMs || delay < 0 {
		delay = p.MaxMs
	}
	return time.Duration(delay+p.jitter(sessionID, attempt)) * time.Millisecond
}

func (p BackoffPolicy) jitter(sessionID string, attempt int) int64 {
	if p.MaxJitterMs <= 0 {
		return 0
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", sessionID, attempt)))
	return int64(binary.BigEndian.Uint64(sum[:8]) % uint64(p.MaxJitterMs)) //nolint:gosec // MaxJitterMs is positive
}
