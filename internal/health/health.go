// Package health serves the liveness and readiness probes of the meetvoice
// server.
//
//   - /healthz is a liveness probe that always returns 200 OK.
//   - /readyz returns 200 only when every registered [Checker] passes.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map holding the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const checkTimeout = 5 * time.Second

// Checker names one dependency the server needs before it takes traffic.
// Check must return promptly once ctx is done.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler answers the probes. Its checkers are fixed by [New].
type Handler struct {
	checkers []Checker
}

// New returns a Handler probing checkers. Entries without a Check func are
// dropped, which lets callers pass optional dependencies unconditionally.
func New(checkers ...Checker) *Handler {
	h := &Handler{}
	for _, c := range checkers {
		if c.Check == nil {
			continue
		}
		h.checkers = append(h.checkers, c)
	}
	return h
}

// Healthz reports the process as alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker in parallel with a [checkTimeout] budget and
// answers 503 unless all of them pass.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	res, code := result{Status: "ok", Checks: make(map[string]string, len(errs))}, http.StatusOK
	for i, err := range errs {
		name := h.checkers[i].Name
		if err == nil {
			res.Checks[name] = "ok"
			continue
		}
		res.Checks[name] = "fail: " + err.Error()
		res.Status, code = "fail", http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
