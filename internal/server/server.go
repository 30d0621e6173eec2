// Package server exposes the refinement pipeline over HTTP. Runs are
// created, stepped, and confirmed through a small JSON API; the engine's
// state machine semantics carry through unchanged.
package server

// #region imports
import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/documind/targetopt/internal/engine"
	"github.com/documind/targetopt/internal/session"
)

// #endregion

// #region server

const maxBodyBytes = 1 << 20

// Server wires the session controller behind a chi router.
type Server struct {
	controller *session.Controller
	router     *chi.Mux
}

// New builds the router. The controller must outlive the server.
func New(controller *session.Controller) *Server {
	s := &Server{controller: controller}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/runs", s.handleStart)
	r.Post("/runs/batch", s.handleBatch)
	r.Get("/runs/{id}", s.handleGet)
	r.Post("/runs/{id}/step", s.handleStep)
	r.Post("/runs/{id}/accept", s.handleAccept)
	r.Post("/runs/{id}/retry", s.handleRetry)
	r.Post("/runs/{id}/cancel", s.handleCancel)
	r.Get("/healthz", s.handleHealth)

	s.router = r
	return s
}

// Handler returns the http.Handler for mounting.
func (s *Server) Handler() http.Handler { return s.router }

// #endregion

// #region request-types

// startRequest is the body for POST /runs and POST /runs/batch.
type startRequest struct {
	SourceText string         `json:"source_text"`
	Profile    engine.Profile `json:"profile"`
}

// #endregion

// #region handlers

// handleStart creates a run in the running state. No attempt is made yet.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SourceText) == "" {
		writeError(w, http.StatusBadRequest, "source_text is required")
		return
	}

	snap, err := s.controller.Start(req.SourceText, req.Profile)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// handleBatch runs the pipeline end to end without suspension.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.SourceText) == "" {
		writeError(w, http.StatusBadRequest, "source_text is required")
		return
	}

	res, err := s.controller.Optimize(r.Context(), req.SourceText, req.Profile)
	if err != nil {
		log.Printf("[SERVER] batch optimize failed: %v", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.controller.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleStep advances the run by one attempt. A fatal collaborator failure
// terminates the run; the response carries both the error and the final
// snapshot so the caller sees where it stopped.
func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	snap, err := s.controller.Step(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, engine.ErrFatal) {
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":    err.Error(),
				"snapshot": snap,
			})
			return
		}
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	snap, err := s.controller.Accept(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	snap, err := s.controller.Retry(chi.URLParam(r, "id"))
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	snap, err := s.controller.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// #endregion

// #region helpers

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeRunError maps controller errors to status codes: unknown run is 404,
// a rejected event (wrong state) is 409.
func writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrUnknownRun):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusConflict, err.Error())
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[SERVER] encode response: %v", err)
	}
}

// #endregion
