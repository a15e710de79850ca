// Package annotate mirrors the rendering engine's live annotation objects
// into the normalized annotation-layer model, and pushes combined
// layer/category visibility back. The engine's annotation identifiers are
// foreign-owned lookup keys; this package never generates one.
package annotate

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sonocloud/sonoviewer/internal/engine"
	"github.com/sonocloud/sonoviewer/internal/models"
	"github.com/sonocloud/sonoviewer/internal/state"
)

// toolKinds maps engine tool names to the application's tool kinds.
// Annotations of any other tool are dropped silently.
var toolKinds = map[string]models.ToolKind{
	"RectangleROI":      models.ToolRectangle,
	"PlanarFreehandROI": models.ToolFreehand,
	"ArrowAnnotate":     models.ToolText,
	"Length":            models.ToolLength,
	"Angle":             models.ToolAngle,
	"EllipticalROI":     models.ToolEllipse,
	"Bidirectional":     models.ToolBidirectional,
}

var frameIndexPattern = regexp.MustCompile(`(?i)/frames/(\d+)`)

// FrameIndex derives a layer's 0-based frame index from the frame
// reference the engine recorded for it. Unparseable references yield 0.
func FrameIndex(frameRef string) int {
	match := frameIndexPattern.FindStringSubmatch(frameRef)
	if match == nil {
		return 0
	}
	frame, err := strconv.Atoi(match[1])
	if err != nil || frame <= 0 {
		return 0
	}
	return frame - 1
}

// Reconciler converts engine annotation state into normalized layers.
type Reconciler struct {
	annotations engine.AnnotationStore
	renderer    engine.Renderer
	viewportID  string
}

func NewReconciler(annotations engine.AnnotationStore, renderer engine.Renderer, viewportID string) *Reconciler {
	return &Reconciler{annotations: annotations, renderer: renderer, viewportID: viewportID}
}

// Layers builds the normalized layer list from the engine's current
// annotation objects, sorted ascending by frame index (stable for ties).
// Category assignment is persisted back onto the underlying engine object
// so a re-sync is idempotent.
func (r *Reconciler) Layers(classes []models.AnnotationClass) []models.AnnotationLayer {
	defaultClassID := models.FallbackClassID
	if len(classes) > 0 {
		defaultClassID = classes[0].ID
	}
	classNames := make(map[string]string, len(classes))
	for _, class := range classes {
		classNames[class.ID] = class.Name
	}

	var layers []models.AnnotationLayer
	for _, annotation := range r.annotations.Annotations() {
		if annotation.UID == "" || annotation.ToolName == "" {
			continue
		}
		tool, ok := toolKinds[annotation.ToolName]
		if !ok {
			continue
		}

		classID := strings.TrimSpace(annotation.ClassID)
		if classID == "" {
			classID = defaultClassID
		}
		annotation.ClassID = classID

		className, ok := classNames[classID]
		if !ok {
			className = classID
		}
		label := strings.TrimSpace(annotation.Label)
		if label == "" {
			label = className + " " + string(tool)
		}

		layers = append(layers, models.AnnotationLayer{
			ID:          annotation.UID,
			Tool:        tool,
			Label:       label,
			FrameIndex:  FrameIndex(annotation.ReferencedImageID),
			Visible:     r.annotations.IsVisible(annotation.UID),
			BBox:        r.boundingBox(annotation),
			Measurement: measurement(annotation.CachedStats),
			ClassID:     classID,
		})
	}

	sort.SliceStable(layers, func(i, j int) bool {
		return layers[i].FrameIndex < layers[j].FrameIndex
	})
	return layers
}

// boundingBox projects the annotation's control points into canvas-pixel
// space through the active viewport and takes the axis-aligned extent. An
// all-zero box is returned when no viewport or no points are available.
func (r *Reconciler) boundingBox(annotation *engine.Annotation) [4]int {
	viewport, ok := r.renderer.GetViewport(r.viewportID)
	if !ok || len(annotation.Points) == 0 {
		return [4]int{}
	}

	first := viewport.WorldToCanvas(annotation.Points[0])
	minX, maxX := first[0], first[0]
	minY, maxY := first[1], first[1]
	for _, point := range annotation.Points[1:] {
		canvas := viewport.WorldToCanvas(point)
		minX = math.Min(minX, canvas[0])
		maxX = math.Max(maxX, canvas[0])
		minY = math.Min(minY, canvas[1])
		maxY = math.Max(maxY, canvas[1])
	}

	return [4]int{
		int(math.Round(minX)),
		int(math.Round(minY)),
		int(math.Round(maxX - minX)),
		int(math.Round(maxY - minY)),
	}
}

// Sync runs one reconciliation pass against the store: rebuild the layer
// list from the engine, install it, then push each layer's combined
// layer-and-category visibility back to the engine. The push is one-way;
// the reconciliation read is the only pull in the other direction.
func (r *Reconciler) Sync(store *state.Store) {
	layers := r.Layers(store.Classes())
	store.SetLayers(layers)
	for _, layer := range layers {
		r.annotations.SetVisibility(layer.ID, store.EffectiveVisibility(layer))
	}
}

// Bind subscribes the reconciler to engine change events, running a sync
// on every relevant notification. The returned function unsubscribes.
func (r *Reconciler) Bind(store *state.Store) (unsubscribe func()) {
	return r.annotations.Subscribe(func(engine.EventKind) {
		r.Sync(store)
	})
}

// measurement extracts a human-readable measurement string from the
// tool-specific cached statistics. Only the first applicable metric is
// used; with none present there is no measurement.
func measurement(cachedStats map[string]engine.Stats) string {
	if len(cachedStats) == 0 {
		return ""
	}

	keys := make([]string, 0, len(cachedStats))
	for key := range cachedStats {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	stats := cachedStats[keys[0]]

	unitOr := func(unit, fallback string) string {
		if strings.TrimSpace(unit) != "" {
			return strings.TrimSpace(unit)
		}
		return fallback
	}

	switch {
	case stats.Length != nil:
		return formatMetric(*stats.Length) + " " + unitOr(stats.Unit, "mm")
	case stats.Width != nil:
		return formatMetric(*stats.Width) + " " + unitOr(stats.WidthUnit, unitOr(stats.Unit, "mm"))
	case stats.Angle != nil:
		return formatMetric(*stats.Angle) + " deg"
	case stats.Area != nil:
		return formatMetric(*stats.Area) + " " + unitOr(stats.AreaUnit, "mm2")
	default:
		return ""
	}
}

// formatMetric rounds to two decimals and renders without trailing zeros,
// so 5.0 prints as "5" and 12.345 as "12.35".
func formatMetric(value float64) string {
	rounded := math.Round(value*100) / 100
	return strconv.FormatFloat(rounded, 'f', -1, 64)
}
