package handlers

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/lehigh-university-libraries/linecrop/internal/images"
	"github.com/lehigh-university-libraries/linecrop/internal/models"
)

func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	entries := h.sessionStore.List()
	sessionList := make([]models.CropSession, 0, len(entries))
	for _, e := range entries {
		e.Lock()
		sessionList = append(sessionList, view(e))
		e.Unlock()
	}
	h.writeJSON(w, http.StatusOK, sessionList)
}

func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}
	entry.Lock()
	defer entry.Unlock()
	h.writeJSON(w, http.StatusOK, view(entry))
}

func (h *Handler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}
	h.sessionStore.Delete(entry.ID)
	w.WriteHeader(http.StatusNoContent)
}

// HandleParams applies a partial parameter update. Keys missing from the
// body keep their current values; any actual change clears the selection.
func (h *Handler) HandleParams(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}
	entry.Lock()
	defer entry.Unlock()

	params := entry.Session.Params()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&params); err != nil {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	hadSelection := !entry.Session.Selection().Empty()
	changed, err := entry.Session.SetParams(params)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if changed {
		entry.Touch()
	}

	h.writeJSON(w, http.StatusOK, models.ParamsResponse{
		Changed:          changed,
		SelectionCleared: changed && hadSelection,
		Session:          view(entry),
	})
}

func (h *Handler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}

	var req models.SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if (req.Rank == nil) == (req.Y == nil) {
		h.writeError(w, "Exactly one of rank or y is required", http.StatusBadRequest)
		return
	}

	entry.Lock()
	defer entry.Unlock()

	var err error
	if req.Rank != nil {
		_, err = entry.Session.Select(*req.Rank)
	} else {
		_, err = entry.Session.SelectNearest(*req.Y)
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	entry.Touch()
	h.writeJSON(w, http.StatusOK, view(entry))
}

func (h *Handler) HandleClearSelection(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}
	entry.Lock()
	defer entry.Unlock()

	entry.Session.ClearSelection()
	entry.Touch()
	h.writeJSON(w, http.StatusOK, view(entry))
}

// HandleCrop resolves the selection on the reference image. With
// ?format=png the cropped image itself is returned.
func (h *Handler) HandleCrop(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}
	entry.Lock()
	cropped, region, err := entry.Session.Preview()
	sel := entry.Session.Selection()
	entry.Unlock()
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	if r.URL.Query().Get("format") != "png" {
		b := cropped.Bounds()
		h.writeJSON(w, http.StatusOK, models.CropResponse{
			Region:    region,
			Selection: sel,
			Width:     b.Dx(),
			Height:    b.Dy(),
		})
		return
	}

	var buf bytes.Buffer
	if err := images.EncodePNG(&buf, cropped); err != nil {
		h.writeError(w, "Failed to encode crop: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Crop-Selection", sel.String())
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("Unable to write crop", "session_id", entry.ID, "err", err)
	}
}
