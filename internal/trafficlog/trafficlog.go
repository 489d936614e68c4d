// SPDX-License-Identifier: Apache-2.0

// Package trafficlog implements C8: an append-only, in-memory sequence of
// captured HTTP request/response cycles, read by the (external) inspector.
package trafficlog

import (
	"net/http"
	"sync"
	"time"
)

// Head is the head of one direction of a RequestCycle: method+status on one
// side, uri on the request side, and the header sequence.
type Head struct {
	Method  string
	Status  int
	URI     string
	Headers http.Header
}

// RequestCycle is one captured HTTP exchange. Equality of cycles is defined
// by TimestampIn; cycles are never mutated after append.
type RequestCycle struct {
	TimestampIn  time.Time
	RequestHead  Head
	RequestBody  []byte
	TimestampOut time.Time
	ResponseHead Head
	ResponseBody []byte
}

// Log is the ordered, append-only sequence of RequestCycle. Writers are
// Interceptor instances (one push per completed cycle); readers are
// inspector snapshot requests.
type Log struct {
	mu     sync.RWMutex
	cycles []RequestCycle
}

// New creates an empty Log.
func New() *Log {
	return &Log{}
}

// Append adds a completed cycle. Cycles are expected to be appended in
// completion-time order by each individual appender.
func (l *Log) Append(c RequestCycle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cycles = append(l.cycles, c)
}

// Snapshot returns a clone of the current sequence, safe to read without
// holding the log's lock.
func (l *Log) Snapshot() []RequestCycle {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]RequestCycle, len(l.cycles))
	copy(out, l.cycles)
	return out
}

// Len returns the number of cycles currently in the log.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.cycles)
}
