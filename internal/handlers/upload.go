package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// HandleUpload creates a session from a reference image, either a multipart
// "file" upload or a JSON body naming an image_url.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		h.handleURLUpload(w, r)
		return
	}
	h.handleFileUpload(w, r)
}

func (h *Handler) handleURLUpload(w http.ResponseWriter, r *http.Request) {
	var request struct {
		ImageURL string `json:"image_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if request.ImageURL == "" {
		h.writeError(w, "image_url is required", http.StatusBadRequest)
		return
	}

	imageData, err := h.downloadImageFromURL(r, request.ImageURL)
	if err != nil {
		h.writeError(w, "Failed to process image URL: "+err.Error(), http.StatusBadRequest)
		return
	}

	parts := strings.Split(strings.SplitN(request.ImageURL, "?", 2)[0], "/")
	filename := parts[len(parts)-1]
	if filename == "" {
		filename = "image.png"
	}
	h.createSession(w, imageData, filename)
}

func (h *Handler) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, "Failed to read file: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	fileData, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		h.writeError(w, "Failed to read file contents: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if len(fileData) >= maxUploadSize {
		h.writeError(w, "File too large (max 20MB)", http.StatusBadRequest)
		return
	}

	h.createSession(w, fileData, header.Filename)
}
