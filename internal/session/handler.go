package session

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"adaptive-stream/internal/abr"

	"github.com/go-chi/chi/v5"
)

// Handler exposes session control endpoints using go-chi.
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler returns a Handler for svc.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Register mounts the session routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Open)
		r.Route("/{uuid}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Close)
			r.Post("/seek", h.Seek)
			r.Post("/play", h.Play)
			r.Post("/pause", h.Pause)
			r.Put("/tier", h.SetTier)
		})
	})
}

// Open handles POST /sessions. Body: the video metadata document.
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	var meta abr.VideoMetadata
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		h.log.Debug("invalid metadata body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	st, err := h.svc.Open(r.Context(), meta)
	if err != nil {
		if errors.Is(err, abr.ErrInvalidMetadata) {
			h.log.Info("session rejected", slog.String("error", err.Error()))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error("open session failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusCreated, st)
}

// List handles GET /sessions.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.List())
}

// Get handles GET /sessions/{uuid}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(sessionID(r))
	h.respond(w, st, err)
}

// Seek handles POST /sessions/{uuid}/seek. Body: {"time": 42.5}.
func (h *Handler) Seek(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Time *float64 `json:"time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Time == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	st, err := h.svc.Seek(sessionID(r), *body.Time)
	h.respond(w, st, err)
}

// Play handles POST /sessions/{uuid}/play.
func (h *Handler) Play(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Play(sessionID(r))
	h.respond(w, st, err)
}

// Pause handles POST /sessions/{uuid}/pause.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Pause(sessionID(r))
	h.respond(w, st, err)
}

// SetTier handles PUT /sessions/{uuid}/tier.
// Body: {"index": 2} to pin a tier, or {"auto": true} to resume adaptation.
func (h *Handler) SetTier(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Index *int `json:"index"`
		Auto  bool `json:"auto"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var (
		st  Status
		err error
	)
	switch {
	case body.Auto:
		st, err = h.svc.SetAutoTier(sessionID(r))
	case body.Index != nil:
		st, err = h.svc.SetTier(sessionID(r), *body.Index)
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.respond(w, st, err)
}

// Close handles DELETE /sessions/{uuid}.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Close(sessionID(r)); err != nil {
		h.respond(w, Status{}, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respond(w http.ResponseWriter, st Status, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
	case err != nil:
		h.log.Error("session request failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
	default:
		h.writeJSON(w, http.StatusOK, st)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("writing response failed", slog.String("error", err.Error()))
	}
}

func sessionID(r *http.Request) ID {
	return ID(chi.URLParam(r, "uuid"))
}
