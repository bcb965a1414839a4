// Package api serves the read-only status endpoints for a running scrape:
// progress, per-folder completeness and digital-downloads mapping stats.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/beatforge/beatbridge/internal/storage"
	"github.com/beatforge/beatbridge/internal/verify"
)

type Handlers struct {
	progress  *storage.ProgressStore
	mappings  *storage.MappingStore
	checker   *verify.Checker
	beatsRoot string
	logger    *slog.Logger
}

func NewHandlers(progress *storage.ProgressStore, mappings *storage.MappingStore, checker *verify.Checker, beatsRoot string, logger *slog.Logger) *Handlers {
	return &Handlers{
		progress:  progress,
		mappings:  mappings,
		checker:   checker,
		beatsRoot: beatsRoot,
		logger:    logger.With("component", "api"),
	}
}

// Router builds the chi router with the standard middleware stack. All
// endpoints are read-only; the scrape itself never goes through HTTP.
func (h *Handlers) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.GetHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/progress", h.GetProgress)
		r.Get("/beats", h.GetBeats)
		r.Get("/mappings", h.GetMappings)
	})

	return r
}

// GetHealth reports liveness and the current run ID.
func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"run_id": h.progress.RunID(),
	})
}

// GetProgress returns the progress snapshot: run ID, start time and the
// beats completed so far.
func (h *Handlers) GetProgress(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.progress.Snapshot())
}

// BeatStatus is the per-folder completeness view.
type BeatStatus struct {
	Name     string   `json:"name"`
	Folder   string   `json:"folder"`
	Complete bool     `json:"complete"`
	Missing  []string `json:"missing,omitempty"`
}

// BeatsResponse summarizes the beats root at request time.
type BeatsResponse struct {
	Root     string       `json:"root"`
	Total    int          `json:"total"`
	Complete int          `json:"complete"`
	Beats    []BeatStatus `json:"beats"`
}

// GetBeats rescans the beats root and reports each folder's download slots.
// The scan is filename-only, cheap enough to run per request.
func (h *Handlers) GetBeats(w http.ResponseWriter, r *http.Request) {
	reports, err := h.checker.ScanRoot(h.beatsRoot)
	if err != nil {
		h.logger.Error("failed to scan beats root", "error", err, "root", h.beatsRoot)
		h.respondError(w, http.StatusInternalServerError, "failed to scan beats folder")
		return
	}

	resp := BeatsResponse{
		Root:  h.beatsRoot,
		Total: len(reports),
		Beats: make([]BeatStatus, len(reports)),
	}
	for i, report := range reports {
		status := BeatStatus{
			Name:     report.Name,
			Folder:   report.Folder,
			Complete: report.Status.Complete,
		}
		for _, missing := range report.Status.Missing {
			status.Missing = append(status.Missing, string(missing))
		}
		if status.Complete {
			resp.Complete++
		}
		resp.Beats[i] = status
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// GetMappings returns the digital-downloads mapping stats.
func (h *Handlers) GetMappings(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.mappings.Stats())
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
