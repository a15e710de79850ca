// Package engine declares the boundary to the external rendering and
// annotation engine. The engine itself (pixel decode, canvas compositing,
// tool gestures) is an external collaborator; this package holds only the
// interfaces the core talks to, plus the process-wide metadata
// registration cache.
package engine

import (
	"sync"

	"github.com/sonocloud/sonoviewer/internal/dicomtag"
)

// Point3 is a world/physical-space control point.
type Point3 [3]float64

// Point2 is a canvas-pixel-space point.
type Point2 [2]float64

// MetadataCache associates a frame reference with its raw per-instance
// metadata. Registration must happen before the reference is first handed
// to the engine, and exactly once per reference.
type MetadataCache interface {
	Register(frameRef string, metadata dicomtag.Entity)
	Lookup(frameRef string) (dicomtag.Entity, bool)
}

// Cache is the default MetadataCache: process-wide, append-only within a
// session. A second Register for the same reference is ignored.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]dicomtag.Entity
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]dicomtag.Entity)}
}

func (c *Cache) Register(frameRef string, metadata dicomtag.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[frameRef]; exists {
		return
	}
	c.entries[frameRef] = metadata
}

func (c *Cache) Lookup(frameRef string) (dicomtag.Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	metadata, ok := c.entries[frameRef]
	return metadata, ok
}

// Len reports how many references are registered.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Viewport is the engine's single stack viewport.
type Viewport interface {
	// SetStack loads an ordered frame-reference stack at a start index.
	SetStack(frameRefs []string, startIndex int) error
	// SetFrameIndex jumps to the given stack index.
	SetFrameIndex(index int) error
	// ResetCamera restores the default camera/view.
	ResetCamera()
	// Render schedules a redraw.
	Render()
	// WorldToCanvas projects a world-space point into canvas-pixel space.
	WorldToCanvas(p Point3) Point2
}

// Renderer owns viewport lifecycle and active-tool state.
type Renderer interface {
	// EnableViewport creates and enables a viewport bound to a surface.
	EnableViewport(viewportID string) (Viewport, error)
	// DisableViewport tears down the viewport with the given id.
	DisableViewport(viewportID string)
	// GetViewport returns the enabled viewport, if any.
	GetViewport(viewportID string) (Viewport, bool)
	// SetActiveTool activates one interaction tool by engine tool name.
	SetActiveTool(toolName string)
}

// Stats carries the tool-specific cached measurement statistics of one
// annotation. Pointer fields distinguish "absent" from zero.
type Stats struct {
	Length *float64 `json:"length,omitempty"`
	Width  *float64 `json:"width,omitempty"`
	Angle  *float64 `json:"angle,omitempty"`
	Area   *float64 `json:"area,omitempty"`

	Unit      string `json:"unit,omitempty"`
	WidthUnit string `json:"widthUnit,omitempty"`
	AreaUnit  string `json:"areaUnit,omitempty"`
}

// Annotation mirrors the engine's live annotation object. The UID is
// foreign-owned: the application never generates or reassigns it. ClassID
// is the one field the reconciliation layer writes back, so that re-syncs
// are idempotent.
type Annotation struct {
	UID               string
	ToolName          string
	ReferencedImageID string
	Label             string
	ClassID           string
	Points            []Point3
	CachedStats       map[string]Stats
}

// EventKind enumerates the engine change notifications that trigger a
// reconciliation pass.
type EventKind string

const (
	EventAdded             EventKind = "annotation_added"
	EventCompleted         EventKind = "annotation_completed"
	EventModified          EventKind = "annotation_modified"
	EventRemoved           EventKind = "annotation_removed"
	EventVisibilityChanged EventKind = "annotation_visibility_changed"
)

// AnnotationStore is the engine-side annotation state.
type AnnotationStore interface {
	// Annotations enumerates the live annotation objects. Mutating a
	// returned object's ClassID persists the assignment engine-side.
	Annotations() []*Annotation
	// IsVisible reads an annotation's visibility by engine-assigned id.
	IsVisible(uid string) bool
	// SetVisibility sets an annotation's visibility by engine-assigned id.
	SetVisibility(uid string, visible bool)
	// Remove deletes one annotation.
	Remove(uid string)
	// RemoveAll deletes every annotation.
	RemoveAll()
	// Subscribe registers a change listener and returns its unsubscribe.
	Subscribe(listener func(EventKind)) (unsubscribe func())
}

// EnableExclusive enables a viewport after tearing down any existing
// instance bound to the same identifier. The viewport is a shared
// singleton resource; enabling twice without the teardown leaks the
// engine-side surface binding.
func EnableExclusive(r Renderer, viewportID string) (Viewport, error) {
	if _, ok := r.GetViewport(viewportID); ok {
		r.DisableViewport(viewportID)
	}
	return r.EnableViewport(viewportID)
}
