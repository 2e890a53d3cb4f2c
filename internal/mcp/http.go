package mcp

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/artisan-mcp/artisan-mcp/internal/gateway"
)

type HTTPOptions struct {
	// MaxRequestSize bounds a POST body; zero means unlimited.
	MaxRequestSize int64

	HealthPath    string
	ReadinessPath string
	// Ready reports readiness; nil means always ready.
	Ready func() error

	MetricsPath    string
	MetricsHandler http.Handler
}

// HTTPHandler returns a router that accepts one JSON-RPC message per POST
// to /mcp, plus health, readiness and metrics endpoints.
func (s *Server) HTTPHandler(opts HTTPOptions) http.Handler {
	r := chi.NewRouter()

	if opts.HealthPath != "" {
		r.Get(opts.HealthPath, func(w http.ResponseWriter, r *http.Request) { writeText(w, http.StatusOK, "ok\n") })
	}
	if opts.ReadinessPath != "" {
		r.Get(opts.ReadinessPath, func(w http.ResponseWriter, r *http.Request) {
			if opts.Ready != nil {
				if err := opts.Ready(); err != nil {
					writeText(w, http.StatusServiceUnavailable, err.Error()+"\n")
					return
				}
			}
			writeText(w, http.StatusOK, "ready\n")
		})
	}
	if opts.MetricsPath != "" && opts.MetricsHandler != nil {
		r.Method(http.MethodGet, opts.MetricsPath, opts.MetricsHandler)
	}

	r.Post("/mcp", func(w http.ResponseWriter, r *http.Request) {
		body := io.Reader(r.Body)
		if opts.MaxRequestSize > 0 {
			body = http.MaxBytesReader(w, r.Body, opts.MaxRequestSize)
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse(nil, CodeInvalidRequest, "request too large"))
				return
			}
			writeJSON(w, http.StatusBadRequest, errorResponse(nil, CodeParseError, "read body: "+err.Error()))
			return
		}

		resp := s.HandleMessage(gateway.WithSource(r.Context(), "http"), raw)
		if resp == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(resp)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(s))
}
