// Package handlers exposes the viewer backend over HTTP: study search,
// image resolution, thumbnails, annotation state, exports and snapshot
// archival.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sonocloud/sonoviewer/internal/archive"
	"github.com/sonocloud/sonoviewer/internal/dicomweb"
	"github.com/sonocloud/sonoviewer/internal/models"
	"github.com/sonocloud/sonoviewer/internal/state"
)

// Directory is the study-search slice of the server client.
type Directory interface {
	SearchStudies(ctx context.Context, term string) ([]models.Study, error)
}

// Resolver turns a study into its ordered frame-reference list.
type Resolver interface {
	Resolve(ctx context.Context, studyUID string) ([]string, error)
}

// ThumbnailPool is the background thumbnail acquisition surface.
type ThumbnailPool interface {
	Enqueue(studyUIDs []string)
	Reset()
	Dir() string
}

// SnapshotArchive persists annotation snapshots.
type SnapshotArchive interface {
	Save(ctx context.Context, name string, classes []models.AnnotationClass, layers []models.AnnotationLayer) (string, error)
	Load(ctx context.Context, id string) (*archive.Snapshot, error)
	List(ctx context.Context) ([]archive.Snapshot, error)
	Delete(ctx context.Context, id string) error
}

type Handler struct {
	store    *state.Store
	playback *state.Playback
	dir      Directory
	resolver Resolver
	pool     ThumbnailPool
	archive  SnapshotArchive

	search searchState
}

func New(store *state.Store, dir Directory, resolver Resolver, pool ThumbnailPool, snapshots SnapshotArchive) *Handler {
	return &Handler{
		store:    store,
		playback: state.NewPlayback(store),
		dir:      dir,
		resolver: resolver,
		pool:     pool,
		archive:  snapshots,
	}
}

// Routes registers every endpoint on the mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/studies", h.HandleStudies)
	mux.HandleFunc("/api/studies/", h.HandleStudyDetail)
	mux.HandleFunc("/api/classes", h.HandleClasses)
	mux.HandleFunc("/api/classes/", h.HandleClassDetail)
	mux.HandleFunc("/api/layers", h.HandleLayers)
	mux.HandleFunc("/api/layers/", h.HandleLayerDetail)
	mux.HandleFunc("/api/annotations/sync", h.HandleAnnotationSync)
	mux.HandleFunc("/api/playback", h.HandlePlayback)
	mux.HandleFunc("/api/tool", h.HandleTool)
	mux.HandleFunc("/api/export/", h.HandleExport)
	mux.HandleFunc("/api/snapshots", h.HandleSnapshots)
	mux.HandleFunc("/api/snapshots/", h.HandleSnapshotDetail)
	mux.HandleFunc("/thumbnails/", h.HandleThumbnail)
	mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("Unable to write healthcheck", "err", err)
		}
	})
}

// Close stops the playback timer.
func (h *Handler) Close() {
	h.playback.Stop()
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func decodeJSON(r *http.Request, out any) error {
	return json.NewDecoder(r.Body).Decode(out)
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	slog.Error(message)
	http.Error(w, message, code)
}

// writeClientError maps the typed client-error taxonomy onto the HTTP
// response, preserving the readable message.
func (h *Handler) writeClientError(w http.ResponseWriter, err error) {
	code := http.StatusBadGateway
	var clientErr *dicomweb.ClientError
	if errors.As(err, &clientErr) && clientErr.Status != 0 {
		code = clientErr.Status
	}
	h.writeError(w, dicomweb.ReadableError(err), code)
}
