package suite

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/visreg/artifact"
	"github.com/hazyhaar/visreg/kit"
	"github.com/hazyhaar/visreg/shield"
)

// HTTPConfig configures the API handler.
type HTTPConfig struct {
	MaxBody int64 // default 32 MiB
	Logger  *slog.Logger
}

// Handler returns the REST API:
//
//	GET  /health
//	POST /api/capture
//	POST /api/responsive
//	POST /api/compare
//	POST /api/check
//	POST /api/baselines/{name}/approve
//	GET  /api/baselines/{name}/history
//	GET  /api/screenshots/{id}
//	GET  /api/diffs/{id}
//
// Operation outcomes, including failed captures and comparisons, are 200
// responses carrying their envelope. Error statuses are reserved for bad
// requests, unknown ids and archive failures.
func (s *Suite) Handler(cfg HTTPConfig) http.Handler {
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 32 << 20
	}
	ep := s.endpoints(cfg.Logger)

	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(cfg.MaxBody) {
		r.Use(mw)
	}
	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/capture", serve(ep.capture, decodeBody[artifact.CaptureRequest]))
		r.Post("/responsive", serve(ep.responsive, decodeBody[ResponsiveRequest]))
		r.Post("/compare", serve(ep.compare, decodeBody[CompareRequest]))
		r.Post("/check", serve(ep.check, decodeBody[CheckArgs]))
		r.Post("/baselines/{name}/approve", serve(ep.approve, decodeApprove))
		r.Get("/baselines/{name}/history", serve(ep.history, decodeHistory))
		r.Get("/screenshots/{id}", serve(ep.screenshot, decodeID))
		r.Get("/diffs/{id}", serve(ep.diff, decodeID))
	})
	return r
}

func (s *Suite) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"browser": s.Available(),
	})
}

func serve(ep kit.Endpoint, decode func(*http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decode(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp, err := ep(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func decodeBody[T any](r *http.Request) (any, error) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		if status := httpStatus(err); status == http.StatusRequestEntityTooLarge {
			return nil, err
		}
		return nil, fmt.Errorf("%w: body: %v", ErrInvalid, err)
	}
	return &v, nil
}

func decodeApprove(r *http.Request) (any, error) {
	v, err := decodeBody[ApproveRequest](r)
	if err != nil {
		return nil, err
	}
	req := v.(*ApproveRequest)
	req.Name = chi.URLParam(r, "name")
	return req, nil
}

func decodeID(r *http.Request) (any, error) {
	return &LookupRequest{ID: chi.URLParam(r, "id")}, nil
}

func decodeHistory(r *http.Request) (any, error) {
	req := &LookupRequest{ID: chi.URLParam(r, "name")}
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return nil, errInvalid("limit must be a non-negative integer")
		}
		req.Limit = n
	}
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	if status >= 500 {
		shield.GetLogger(r.Context()).Error("suite: request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
