package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/sonocloud/sonoviewer/internal/annotate"
	"github.com/sonocloud/sonoviewer/internal/engine"
	"github.com/sonocloud/sonoviewer/internal/models"
)

// HandleClasses serves the category collection:
//
//	GET    /api/classes
//	POST   /api/classes           {name, color}
//	DELETE /api/classes
func (h *Handler) HandleClasses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		h.writeJSON(w, h.store.Classes())
	case "POST":
		var body struct {
			Name  string `json:"name"`
			Color string `json:"color"`
		}
		if err := decodeJSON(r, &body); err != nil || strings.TrimSpace(body.Name) == "" {
			h.writeError(w, "Class name required", http.StatusBadRequest)
			return
		}
		class := models.AnnotationClass{
			ID:      uuid.NewString(),
			Name:    strings.TrimSpace(body.Name),
			Color:   body.Color,
			Visible: true,
		}
		h.store.AddClass(class)
		h.writeJSON(w, class)
	case "DELETE":
		h.store.ClearClasses()
		h.writeJSON(w, map[string]bool{"cleared": true})
	default:
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleClassDetail serves one category:
//
//	DELETE /api/classes/{id}
//	POST   /api/classes/{id}/toggle
//	POST   /api/classes/{id}/select
//	POST   /api/classes/visibility   {visible}
func (h *Handler) HandleClassDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/classes/")
	classID, action, _ := strings.Cut(rest, "/")

	switch {
	case classID == "visibility" && r.Method == "POST":
		var body struct {
			Visible bool `json:"visible"`
		}
		if err := decodeJSON(r, &body); err != nil {
			h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		h.store.SetAllClassVisibility(body.Visible)
		h.writeJSON(w, h.store.Classes())
	case action == "" && r.Method == "DELETE":
		h.store.DeleteClass(classID)
		h.writeJSON(w, h.store.Classes())
	case action == "toggle" && r.Method == "POST":
		h.store.ToggleClassVisibility(classID)
		h.writeJSON(w, h.store.Classes())
	case action == "select" && r.Method == "POST":
		h.store.SetSelectedClassID(classID)
		h.writeJSON(w, map[string]string{"selectedClassId": classID})
	default:
		h.writeError(w, "Not found", http.StatusNotFound)
	}
}

// HandleLayers serves the layer collection:
//
//	GET    /api/layers
//	DELETE /api/layers
func (h *Handler) HandleLayers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		h.writeJSON(w, h.store.Layers())
	case "DELETE":
		h.store.ClearLayers()
		h.writeJSON(w, map[string]bool{"cleared": true})
	default:
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleLayerDetail serves one layer:
//
//	DELETE /api/layers/{id}
//	POST   /api/layers/{id}/toggle
//	POST   /api/layers/visibility   {visible}
func (h *Handler) HandleLayerDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/layers/")
	layerID, action, _ := strings.Cut(rest, "/")

	switch {
	case layerID == "visibility" && r.Method == "POST":
		var body struct {
			Visible bool `json:"visible"`
		}
		if err := decodeJSON(r, &body); err != nil {
			h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		h.store.SetAllLayerVisibility(body.Visible)
		h.writeJSON(w, h.store.Layers())
	case action == "" && r.Method == "DELETE":
		h.store.DeleteLayer(layerID)
		h.writeJSON(w, h.store.Layers())
	case action == "toggle" && r.Method == "POST":
		h.store.ToggleLayerVisibility(layerID)
		h.writeJSON(w, h.store.Layers())
	default:
		h.writeError(w, "Not found", http.StatusNotFound)
	}
}

// syncAnnotation is one engine annotation as posted by the browser
// adapter. Points arrive already projected to canvas-pixel space.
type syncAnnotation struct {
	UID               string                  `json:"uid"`
	ToolName          string                  `json:"toolName"`
	ReferencedImageID string                  `json:"referencedImageId"`
	Label             string                  `json:"label"`
	ClassID           string                  `json:"classId"`
	Visible           *bool                   `json:"visible"`
	Points            [][2]float64            `json:"points"`
	CachedStats       map[string]engine.Stats `json:"cachedStats"`
}

// HandleAnnotationSync serves POST /api/annotations/sync: runs one
// reconciliation pass over the posted engine snapshot, installs the layer
// list and returns it with the effective visibility to push back per
// annotation.
func (h *Handler) HandleAnnotationSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Annotations []syncAnnotation `json:"annotations"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	snapshot := newSnapshotStore(body.Annotations)
	reconciler := annotate.NewReconciler(snapshot, snapshotRenderer{}, snapshotViewportID)
	reconciler.Sync(h.store)

	layers := h.store.Layers()
	if layers == nil {
		layers = []models.AnnotationLayer{}
	}
	h.writeJSON(w, map[string]any{
		"layers":     layers,
		"visibility": snapshot.pushed,
	})
}

const snapshotViewportID = "snapshot"

// snapshotStore adapts a posted engine snapshot to the annotation-store
// boundary. Visibility writes are collected for the response instead of
// reaching a live engine.
type snapshotStore struct {
	annotations []*engine.Annotation
	visible     map[string]bool
	pushed      map[string]bool
}

func newSnapshotStore(posted []syncAnnotation) *snapshotStore {
	s := &snapshotStore{
		visible: make(map[string]bool, len(posted)),
		pushed:  map[string]bool{},
	}
	for _, a := range posted {
		points := make([]engine.Point3, 0, len(a.Points))
		for _, p := range a.Points {
			points = append(points, engine.Point3{p[0], p[1], 0})
		}
		s.annotations = append(s.annotations, &engine.Annotation{
			UID:               a.UID,
			ToolName:          a.ToolName,
			ReferencedImageID: a.ReferencedImageID,
			Label:             a.Label,
			ClassID:           a.ClassID,
			Points:            points,
			CachedStats:       a.CachedStats,
		})
		s.visible[a.UID] = a.Visible == nil || *a.Visible
	}
	return s
}

func (s *snapshotStore) Annotations() []*engine.Annotation { return s.annotations }

func (s *snapshotStore) IsVisible(uid string) bool { return s.visible[uid] }

func (s *snapshotStore) SetVisibility(uid string, visible bool) {
	s.pushed[uid] = visible
}

func (s *snapshotStore) Remove(uid string) {
	kept := s.annotations[:0]
	for _, annotation := range s.annotations {
		if annotation.UID != uid {
			kept = append(kept, annotation)
		}
	}
	s.annotations = kept
}

func (s *snapshotStore) RemoveAll() { s.annotations = nil }

func (s *snapshotStore) Subscribe(func(engine.EventKind)) func() {
	return func() {}
}

// snapshotViewport projects posted canvas-space points through the
// identity, so bbox extraction works without a live engine viewport.
type snapshotViewport struct{}

func (snapshotViewport) SetStack(frameRefs []string, startIndex int) error { return nil }
func (snapshotViewport) SetFrameIndex(index int) error                     { return nil }
func (snapshotViewport) ResetCamera()                                      {}
func (snapshotViewport) Render()                                           {}

func (snapshotViewport) WorldToCanvas(p engine.Point3) engine.Point2 {
	return engine.Point2{p[0], p[1]}
}

type snapshotRenderer struct{}

func (snapshotRenderer) EnableViewport(viewportID string) (engine.Viewport, error) {
	return snapshotViewport{}, nil
}
func (snapshotRenderer) DisableViewport(viewportID string) {}
func (snapshotRenderer) SetActiveTool(toolName string)     {}

func (snapshotRenderer) GetViewport(viewportID string) (engine.Viewport, bool) {
	return snapshotViewport{}, true
}
