package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/lehigh-university-libraries/linecrop/internal/images"
	"github.com/lehigh-university-libraries/linecrop/internal/session"
	"github.com/lehigh-university-libraries/linecrop/internal/storage"
)

// createSession decodes the reference image, runs detection with the
// handler's default parameters and stores the new session.
func (h *Handler) createSession(w http.ResponseWriter, data []byte, filename string) {
	img, err := images.Decode(bytes.NewReader(data), filename)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess, err := session.New(h.detector, h.params)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	found, err := sess.Load(img)
	if err != nil {
		h.writeError(w, "Line detection failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	now := time.Now()
	entry := &storage.Entry{
		ID:        uuid.NewString(),
		Filename:  filename,
		CreatedAt: now,
		UpdatedAt: now,
		Session:   sess,
	}
	h.sessionStore.Set(entry)

	b := img.Bounds()
	slog.Info("Session created", "session_id", entry.ID, "filename", filename,
		"width", b.Dx(), "height", b.Dy(), "lines", len(found))

	entry.Lock()
	defer entry.Unlock()
	h.writeJSON(w, http.StatusCreated, view(entry))
}

func (h *Handler) downloadImageFromURL(r *http.Request, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid image URL: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d", resp.StatusCode)
	}

	imageData, err := io.ReadAll(io.LimitReader(resp.Body, maxUploadSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if len(imageData) >= maxUploadSize {
		return nil, errors.New("image too large (max 20MB)")
	}
	return imageData, nil
}
