package handlers

import (
	"encoding/json"
	"errors"
	"image"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/lehigh-university-libraries/linecrop/internal/batch"
	"github.com/lehigh-university-libraries/linecrop/internal/crop"
	"github.com/lehigh-university-libraries/linecrop/internal/history"
	"github.com/lehigh-university-libraries/linecrop/internal/lines"
	"github.com/lehigh-university-libraries/linecrop/internal/models"
	"github.com/lehigh-university-libraries/linecrop/internal/naming"
	"github.com/lehigh-university-libraries/linecrop/internal/selection"
	"github.com/lehigh-university-libraries/linecrop/internal/storage"
)

// maxUploadSize bounds a reference image upload.
const maxUploadSize = 20 * 1024 * 1024

// Detector finds ranked lines; both interactive sessions and batches use it.
type Detector interface {
	Detect(img image.Image, p lines.Params) ([]lines.DetectedLine, error)
}

type Handler struct {
	sessionStore *storage.SessionStore
	detector     Detector
	reconciler   *batch.Reconciler
	history      *history.Store
	params       lines.Params
	naming       naming.Rule
	root         string
}

// Option configures a Handler.
type Option func(*Handler)

// WithHistory records every batch started through the API.
func WithHistory(store *history.Store) Option {
	return func(h *Handler) { h.history = store }
}

// WithDefaults sets the parameters new sessions start with and the naming
// rule batches use when the request does not carry one.
func WithDefaults(p lines.Params, rule naming.Rule) Option {
	return func(h *Handler) {
		h.params = p
		h.naming = rule
	}
}

// WithRoot confines batch source and output folders to dir. Relative
// request paths are resolved against it.
func WithRoot(dir string) Option {
	return func(h *Handler) { h.root = filepath.Clean(dir) }
}

func New(detector Detector, opts ...Option) *Handler {
	h := &Handler{
		sessionStore: storage.New(),
		detector:     detector,
		reconciler:   batch.New(detector),
		params:       lines.DefaultParams(),
		naming:       naming.DefaultRule(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Routes returns the preview API.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthcheck", h.HandleHealthcheck)
	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", h.HandleListSessions)
		r.Post("/", h.HandleUpload)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGetSession)
			r.Delete("/", h.HandleDeleteSession)
			r.Put("/params", h.HandleParams)
			r.Post("/select", h.HandleSelect)
			r.Delete("/select", h.HandleClearSelection)
			r.Get("/crop", h.HandleCrop)
			r.Post("/batch", h.HandleBatch)
		})
	})
	return r
}

func (h *Handler) HandleHealthcheck(w http.ResponseWriter, r *http.Request) {
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Unable to write healthcheck", "err", err)
	}
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	if code >= http.StatusInternalServerError {
		slog.Error(message, "code", code)
	} else {
		slog.Warn(message, "code", code)
	}
	http.Error(w, message, code)
}

// writeDomainError maps engine errors onto HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	h.writeError(w, err.Error(), statusFor(err))
}

func statusFor(err error) int {
	var rankErr *crop.RankOutOfRangeError
	switch {
	case errors.Is(err, lines.ErrInvalidParams), errors.Is(err, selection.ErrInvalidRank):
		return http.StatusBadRequest
	case errors.Is(err, crop.ErrIncompleteSelection):
		return http.StatusConflict
	case errors.As(err, &rankErr),
		errors.Is(err, crop.ErrDegenerateRegion),
		errors.Is(err, selection.ErrNoLineNearby),
		errors.Is(err, batch.ErrSourceUnreadable),
		errors.Is(err, batch.ErrOutputUnwritable):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Session helpers
func (h *Handler) getSessionOrError(w http.ResponseWriter, r *http.Request) (*storage.Entry, bool) {
	entry, exists := h.sessionStore.Get(chi.URLParam(r, "id"))
	if !exists {
		h.writeError(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	return entry, true
}

// view renders an entry; the caller holds the entry's lock.
func view(e *storage.Entry) models.CropSession {
	s := e.Session
	v := models.CropSession{
		ID:        e.ID,
		Filename:  e.Filename,
		Params:    s.Params(),
		Lines:     s.Lines(),
		Selection: s.Selection(),
		Label:     s.Selection().String(),
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
	if ref := s.Reference(); ref != nil {
		v.Width, v.Height = ref.Bounds().Dx(), ref.Bounds().Dy()
	}
	if v.Lines == nil {
		v.Lines = []lines.DetectedLine{}
	}
	if v.Selection.Complete() {
		if region, err := s.Resolve(); err == nil {
			v.Region = &region
		}
	}
	return v
}
