// SPDX-License-Identifier: Apache-2.0

// Package inspector implements the data contract TrafficLog (C8) names a
// reader for: a local JSON snapshot endpoint. The rendering layer that
// consumes it is out of scope (spec.md §1 Non-goals); this is only the
// wire contract.
package inspector

import (
	"encoding/json"
	"net/http"

	"github.com/sgrok-dev/sgrok/internal/trafficlog"
)

// Handler serves the current TrafficLog snapshot as a JSON array, most
// recent cycle last, matching the log's completion-time append order.
type Handler struct {
	log *trafficlog.Log
}

// New creates a Handler reading from log.
func New(log *trafficlog.Log) *Handler {
	return &Handler{log: log}
}

// ServeHTTP implements http.Handler. It ignores the request method and
// path; every request gets the full current snapshot.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.log.Snapshot()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
