package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/lehigh-university-libraries/linecrop/internal/batch"
	"github.com/lehigh-university-libraries/linecrop/internal/models"
)

// HandleBatch replays the session's selection over a folder on the server.
// The run uses a snapshot of the parameters and selection taken when the
// request arrives; later edits to the session do not affect it.
func (h *Handler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.getSessionOrError(w, r)
	if !ok {
		return
	}

	var req models.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Source == "" || (req.Output == "" && !req.DryRun) {
		h.writeError(w, "source and output are required", http.StatusBadRequest)
		return
	}

	source, err := h.confine(req.Source)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusForbidden)
		return
	}
	output := req.Output
	if output != "" {
		if output, err = h.confine(output); err != nil {
			h.writeError(w, err.Error(), http.StatusForbidden)
			return
		}
	}

	rule := h.naming
	if req.Naming != nil {
		rule = *req.Naming
	}
	if err := rule.Compile(); err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry.Lock()
	snap, err := entry.Session.Snapshot()
	entry.Unlock()
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	rep, err := h.reconciler.Run(r.Context(), batch.Options{
		SourceDir: source,
		OutputDir: output,
		Params:    snap.Params,
		Selection: snap.Selection,
		Naming:    rule,
		Workers:   req.Workers,
		DryRun:    req.DryRun,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	if h.history != nil {
		if err := h.history.Record(r.Context(), rep); err != nil {
			slog.Warn("Failed to record batch history", "run_id", rep.RunID, "err", err)
		}
	}
	h.writeJSON(w, http.StatusOK, rep)
}

// confine resolves p against the handler's root and rejects paths that
// leave it. Without a root every path is accepted as given.
func (h *Handler) confine(p string) (string, error) {
	if h.root == "" {
		return p, nil
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(h.root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(h.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the served root %s", p, h.root)
	}
	return p, nil
}
