package engine

import (
	"testing"

	"github.com/sonocloud/sonoviewer/internal/dicomtag"
)

func TestCacheRegisterOnce(t *testing.T) {
	cache := NewCache()
	first := dicomtag.Entity{"00280010": {VR: "US", Value: []any{float64(256)}}}
	second := dicomtag.Entity{"00280010": {VR: "US", Value: []any{float64(512)}}}

	cache.Register("wadors:x/frames/1", first)
	cache.Register("wadors:x/frames/1", second)

	got, ok := cache.Lookup("wadors:x/frames/1")
	if !ok {
		t.Fatal("registered reference must be found")
	}
	if got["00280010"].Value[0] != float64(256) {
		t.Error("second registration must not overwrite the first")
	}
	if cache.Len() != 1 {
		t.Errorf("len = %d, want 1", cache.Len())
	}

	if _, ok := cache.Lookup("wadors:x/frames/2"); ok {
		t.Error("unregistered reference must not be found")
	}
}

type trackingViewport struct{}

func (trackingViewport) SetStack([]string, int) error { return nil }
func (trackingViewport) SetFrameIndex(int) error      { return nil }
func (trackingViewport) ResetCamera()                 {}
func (trackingViewport) Render()                      {}
func (trackingViewport) WorldToCanvas(p Point3) Point2 {
	return Point2{p[0], p[1]}
}

type trackingRenderer struct {
	enabled  map[string]Viewport
	disabled []string
}

func (r *trackingRenderer) EnableViewport(viewportID string) (Viewport, error) {
	viewport := trackingViewport{}
	r.enabled[viewportID] = viewport
	return viewport, nil
}

func (r *trackingRenderer) DisableViewport(viewportID string) {
	r.disabled = append(r.disabled, viewportID)
	delete(r.enabled, viewportID)
}

func (r *trackingRenderer) GetViewport(viewportID string) (Viewport, bool) {
	viewport, ok := r.enabled[viewportID]
	return viewport, ok
}

func (r *trackingRenderer) SetActiveTool(string) {}

func TestEnableExclusive(t *testing.T) {
	renderer := &trackingRenderer{enabled: map[string]Viewport{}}

	if _, err := EnableExclusive(renderer, "main"); err != nil {
		t.Fatal(err)
	}
	if len(renderer.disabled) != 0 {
		t.Error("first enable must not tear anything down")
	}

	if _, err := EnableExclusive(renderer, "main"); err != nil {
		t.Fatal(err)
	}
	if len(renderer.disabled) != 1 || renderer.disabled[0] != "main" {
		t.Errorf("re-enable must tear down the existing viewport first, disabled=%v", renderer.disabled)
	}
	if _, ok := renderer.GetViewport("main"); !ok {
		t.Error("viewport must be enabled after the exclusive enable")
	}
}
