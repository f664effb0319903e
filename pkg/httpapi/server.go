// Package httpapi is the thin HTTP transport of spec §6: it parses
// requests, calls the orchestrator/store/rate-limiter, and maps results
// (including apierr.Kind) onto the documented status codes. None of the
// business logic lives here. Grounded on the Aureuma-si pack repo's
// internal/api/server.go chi.Router shape, since the teacher itself has no
// HTTP surface.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/forgerun/execgw/internal/apierr"
	"github.com/forgerun/execgw/internal/execmodel"
	"github.com/forgerun/execgw/internal/metrics"
	"github.com/forgerun/execgw/internal/obslog"
	"github.com/forgerun/execgw/internal/orchestrator"
	"github.com/forgerun/execgw/internal/ratelimit"
	"github.com/forgerun/execgw/internal/runstore"
	"github.com/forgerun/execgw/internal/store"
	"github.com/forgerun/execgw/internal/stream"
)

// Server wires the orchestrator and its satellite components to the route
// table of spec §6.
type Server struct {
	Orchestrator *orchestrator.Orchestrator
	Runs         *runstore.Store
	Limiter      *ratelimit.Limiter
	Hub          *stream.Hub
	Tokens       map[string]string // bearer token -> tenant label

	Log *obslog.Logger
}

// Router builds the chi.Router implementing spec §6's route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/v1/health", s.handleHealth)
	r.Get("/v1/files/{id}", s.handleDownloadFile)

	r.Group(func(r chi.Router) {
		r.Use(s.requireBearer)
		r.Post("/v1/files", s.handleUploadFile)
		r.Post("/v1/runs", s.handleCreateRun)
		r.Get("/v1/runs/{id}", s.handleGetRun)
		r.Post("/v1/runs/stream", s.handleCreateRunStreaming)
		r.Get("/v1/runs/{id}/stream", s.handleStreamSubscribe)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireBearer implements the "bearer" auth column of spec §6's route
// table: a missing or unknown token is an unauthorized error.
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header || token == "" {
			writeError(w, apierr.New(apierr.Unauthorized, nil))
			return
		}
		tenant, ok := s.Tokens[token]
		if !ok {
			writeError(w, apierr.New(apierr.Unauthorized, nil))
			return
		}
		if err := s.Limiter.Admit(token); err != nil {
			metrics.RateLimitRejected(tenant)
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), tenantKey{}, tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type tenantKey struct{}

func tenantFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tenantKey{}).(string); ok {
		return v
	}
	return ""
}

func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	file, header, errGo := r.FormFile("file")
	if errGo != nil {
		writeError(w, apierr.New(apierr.Validation, nil))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	desc, err := s.Orchestrator.Uploads.StoreUpload(header.Filename, contentType, file)
	if err != nil {
		writeError(w, apierr.New(apierr.Validation, err))
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	payload := r.URL.Query().Get("payload")
	sig := r.URL.Query().Get("sig")

	if errGo := s.Orchestrator.Artifacts.Verify(r.URL.Path, payload, sig, time.Now()); errGo != nil {
		writeError(w, apierr.New(apierr.Forbidden, nil))
		return
	}

	path, contentType, err := s.Orchestrator.Artifacts.OpenArtifact(id)
	if err != nil {
		writeError(w, apierr.New(apierr.NotFound, err))
		return
	}
	w.Header().Set("Content-Type", contentType)
	http.ServeFile(w, r, path)
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req execmodel.RunRequest
	if errGo := json.NewDecoder(r.Body).Decode(&req); errGo != nil {
		writeError(w, apierr.New(apierr.Validation, nil))
		return
	}
	tenant := tenantFromContext(r.Context())
	rec, err := s.Orchestrator.CreateRun(r.Context(), req, tenant)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.Runs.Get(id)
	if err != nil {
		writeError(w, apierr.New(apierr.NotFound, err))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCreateRunStreaming(w http.ResponseWriter, r *http.Request) {
	var req execmodel.RunRequest
	if errGo := json.NewDecoder(r.Body).Decode(&req); errGo != nil {
		writeError(w, apierr.New(apierr.Validation, nil))
		return
	}
	if verr := req.Validate(); verr != nil {
		writeError(w, apierr.New(apierr.Validation, verr))
		return
	}

	tenant := tenantFromContext(r.Context())
	runID, idErr := store.NewRunID()
	if idErr != nil {
		writeError(w, apierr.New(apierr.SandboxFailure, idErr))
		return
	}

	go s.runAsync(req, tenant, runID)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     runID,
		"status": "starting",
		"hint":   "/v1/runs/" + runID + "/stream",
	})
}

func (s *Server) runAsync(req execmodel.RunRequest, tenant, runID string) {
	sink := stream.NewSink(s.Hub, runID)
	rec, err := s.Orchestrator.CreateRunWithStreaming(context.Background(), req, tenant, sink, runID)
	if err != nil {
		s.Hub.Error(runID, err.Error())
		return
	}
	s.Hub.Complete(runID, rec)
}

// handleStreamSubscribe serves the §6 "UPGRADE" route as a flush-streamed,
// newline-delimited JSON response rather than a websocket: no websocket
// client library has a verified call site anywhere in the retrieved pack
// (see DESIGN.md), and http.Flusher is sufficient to satisfy the ordering
// and at-most-one-subscriber contract of spec §4.7.
func (s *Server) handleStreamSubscribe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apierr.New(apierr.SandboxFailure, nil))
		return
	}

	ch, detach := s.Hub.Subscribe(id)
	defer detach()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				return
			}
			if errGo := enc.Encode(frame); errGo != nil {
				return
			}
			flusher.Flush()
			if frame.Type == stream.FrameComplete || frame.Type == stream.FrameError {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := apierr.SandboxFailure
	if ae, ok := apierr.As(err); ok {
		kind = ae.Kind
	}
	writeJSON(w, statusFor(kind), map[string]string{"error": string(kind)})
}

func statusFor(kind apierr.Kind) int {
	switch kind {
	case apierr.Validation:
		return http.StatusBadRequest
	case apierr.Unauthorized:
		return http.StatusUnauthorized
	case apierr.Forbidden:
		return http.StatusForbidden
	case apierr.NotFound:
		return http.StatusNotFound
	case apierr.TooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
