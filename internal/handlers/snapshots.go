package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/sonocloud/sonoviewer/internal/archive"
)

// HandleSnapshots serves the snapshot collection:
//
//	GET  /api/snapshots
//	POST /api/snapshots   {name}
func (h *Handler) HandleSnapshots(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		snapshots, err := h.archive.List(r.Context())
		if err != nil {
			h.writeError(w, "Listing snapshots failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if snapshots == nil {
			snapshots = []archive.Snapshot{}
		}
		h.writeJSON(w, snapshots)
	case "POST":
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeJSON(r, &body); err != nil || strings.TrimSpace(body.Name) == "" {
			h.writeError(w, "Snapshot name required", http.StatusBadRequest)
			return
		}
		classes, layers := h.store.Snapshot()
		id, err := h.archive.Save(r.Context(), strings.TrimSpace(body.Name), classes, layers)
		if err != nil {
			h.writeError(w, "Saving snapshot failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		h.writeJSON(w, map[string]string{"id": id})
	default:
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleSnapshotDetail serves one snapshot:
//
//	GET    /api/snapshots/{id}
//	DELETE /api/snapshots/{id}
//	POST   /api/snapshots/{id}/restore
func (h *Handler) HandleSnapshotDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/snapshots/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		h.writeError(w, "Snapshot not specified", http.StatusBadRequest)
		return
	}

	switch {
	case action == "" && r.Method == "GET":
		snapshot, err := h.loadSnapshotOrError(w, r, id)
		if err != nil {
			return
		}
		h.writeJSON(w, snapshot)
	case action == "" && r.Method == "DELETE":
		if err := h.archive.Delete(r.Context(), id); err != nil {
			h.writeError(w, "Deleting snapshot failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		h.writeJSON(w, map[string]bool{"deleted": true})
	case action == "restore" && r.Method == "POST":
		snapshot, err := h.loadSnapshotOrError(w, r, id)
		if err != nil {
			return
		}
		h.store.Restore(snapshot.Classes, snapshot.Layers)
		h.writeJSON(w, snapshot)
	default:
		h.writeError(w, "Not found", http.StatusNotFound)
	}
}

func (h *Handler) loadSnapshotOrError(w http.ResponseWriter, r *http.Request, id string) (*archive.Snapshot, error) {
	snapshot, err := h.archive.Load(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(w, "Snapshot not found", http.StatusNotFound)
		} else {
			h.writeError(w, "Loading snapshot failed: "+err.Error(), http.StatusInternalServerError)
		}
		return nil, err
	}
	return snapshot, nil
}

// HandleThumbnail serves GET /thumbnails/{file}: the handle files the
// pool writes. The name is flattened to its base to keep requests inside
// the pool directory.
func (h *Handler) HandleThumbnail(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := path.Base(strings.TrimPrefix(r.URL.Path, "/thumbnails/"))
	if name == "." || name == "/" {
		h.writeError(w, "Thumbnail not specified", http.StatusBadRequest)
		return
	}
	http.ServeFile(w, r, filepath.Join(h.pool.Dir(), name))
}
