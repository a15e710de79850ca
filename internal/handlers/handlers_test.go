package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sonocloud/sonoviewer/internal/archive"
	"github.com/sonocloud/sonoviewer/internal/dicomweb"
	"github.com/sonocloud/sonoviewer/internal/models"
	"github.com/sonocloud/sonoviewer/internal/resolve"
	"github.com/sonocloud/sonoviewer/internal/state"
)

type fakeDir struct {
	studies []models.Study
	err     error
}

func (f *fakeDir) SearchStudies(ctx context.Context, term string) ([]models.Study, error) {
	return f.studies, f.err
}

// slowFirstDir blocks its first search until released; later searches
// return immediately with a different result set.
type slowFirstDir struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
	first   []models.Study
	second  []models.Study
}

func (d *slowFirstDir) SearchStudies(ctx context.Context, term string) ([]models.Study, error) {
	d.mu.Lock()
	call := d.calls
	d.calls++
	d.mu.Unlock()
	if call == 0 {
		<-d.release
		return d.first, nil
	}
	return d.second, nil
}

func (d *slowFirstDir) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

type fakeResolver struct {
	imageIDs []string
	err      error
}

func (f *fakeResolver) Resolve(ctx context.Context, studyUID string) ([]string, error) {
	return f.imageIDs, f.err
}

type fakePool struct {
	dir      string
	enqueued [][]string
	resets   int
}

func (f *fakePool) Enqueue(studyUIDs []string) { f.enqueued = append(f.enqueued, studyUIDs) }
func (f *fakePool) Reset()                     { f.resets++ }
func (f *fakePool) Dir() string                { return f.dir }

func testHandler(t *testing.T, dir Directory, resolver Resolver) (*Handler, *state.Store, *fakePool) {
	t.Helper()
	store := state.New(nil)
	pool := &fakePool{dir: t.TempDir()}
	snapshots, err := archive.Open(filepath.Join(t.TempDir(), "snapshots.db"))
	if err != nil {
		t.Fatal(err)
	}
	h := New(store, dir, resolver, pool, snapshots)
	t.Cleanup(func() {
		h.Close()
		snapshots.Close()
	})
	return h, store, pool
}

func doJSON(t *testing.T, h *Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	mux := http.NewServeMux()
	h.Routes(mux)
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSearchPopulatesStoreAndPool(t *testing.T) {
	dir := &fakeDir{studies: []models.Study{
		{StudyInstanceUID: "1.2.3", PatientName: "John Doe"},
		{StudyInstanceUID: "4.5.6", PatientName: "Johnny Smith"},
	}}
	h, store, pool := testHandler(t, dir, &fakeResolver{})

	rec := doJSON(t, h, "GET", "/api/studies?query=john", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if len(store.Studies()) != 2 {
		t.Errorf("store has %d studies", len(store.Studies()))
	}
	if pool.resets != 1 {
		t.Errorf("pool resets = %d, want 1 per search", pool.resets)
	}
	if len(pool.enqueued) != 1 || len(pool.enqueued[0]) != 2 {
		t.Errorf("enqueued = %v", pool.enqueued)
	}
}

func TestSearchSupersession(t *testing.T) {
	dir := &slowFirstDir{
		release: make(chan struct{}),
		first:   []models.Study{{StudyInstanceUID: "stale"}},
		second:  []models.Study{{StudyInstanceUID: "fresh"}},
	}
	h, store, pool := testHandler(t, dir, &fakeResolver{})

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- doJSON(t, h, "GET", "/api/studies?query=slow", nil)
	}()
	waitFor(t, func() bool { return dir.callCount() == 1 })

	// A second search starts while the first is still in flight and wins.
	rec := doJSON(t, h, "GET", "/api/studies?query=fresh", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if !store.LoadingStudies() {
		t.Error("loading must stay set while the older search is still in flight")
	}

	close(dir.release)
	rec = <-done
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "superseded") {
		t.Errorf("stale search must report superseded, got %s", rec.Body)
	}
	studies := store.Studies()
	if len(studies) != 1 || studies[0].StudyInstanceUID != "fresh" {
		t.Errorf("stale result overwrote the store: %+v", studies)
	}
	if store.LoadingStudies() {
		t.Error("last search out must clear the loading flag")
	}
	if pool.resets != 1 {
		t.Errorf("pool resets = %d, want 1: only the winning search applies", pool.resets)
	}
}

func TestSearchStateOrdering(t *testing.T) {
	var s searchState
	first := s.begin()
	second := s.begin()

	s.finish(first, func(current, idle bool) {
		if current {
			t.Error("older search must not be current")
		}
		if idle {
			t.Error("a newer search is still in flight")
		}
	})
	s.finish(second, func(current, idle bool) {
		if !current {
			t.Error("newest search must be current")
		}
		if !idle {
			t.Error("last search out must report idle")
		}
	})
}

func TestSearchErrorStatus(t *testing.T) {
	dir := &fakeDir{err: &dicomweb.ClientError{Code: dicomweb.CodeUnauthorized, Status: 401}}
	h, _, _ := testHandler(t, dir, &fakeResolver{})

	rec := doJSON(t, h, "GET", "/api/studies", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestResolveImagesInstallsStack(t *testing.T) {
	resolver := &fakeResolver{imageIDs: []string{"wadors:a/frames/1", "wadors:a/frames/2"}}
	h, store, _ := testHandler(t, &fakeDir{}, resolver)
	store.SetCurrentFrame(5)

	rec := doJSON(t, h, "GET", "/api/studies/1.2.3/images", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if len(store.ImageIDs()) != 2 || store.CurrentFrame() != 0 {
		t.Errorf("stack = %v frame = %d", store.ImageIDs(), store.CurrentFrame())
	}
}

func TestResolveImagesEmptyStudy(t *testing.T) {
	h, _, _ := testHandler(t, &fakeDir{}, &fakeResolver{err: resolve.ErrNoDisplayableContent})
	rec := doJSON(t, h, "GET", "/api/studies/1.2.3/images", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for an empty study", rec.Code)
	}
}

func TestSelectStudy(t *testing.T) {
	h, store, _ := testHandler(t, &fakeDir{}, &fakeResolver{})
	store.SetStudies([]models.Study{{StudyInstanceUID: "1.2.3", PatientName: "John Doe"}})
	store.SetImageIDs([]string{"a", "b"})
	store.SetCurrentFrame(1)
	store.SetPlaying(true)

	rec := doJSON(t, h, "POST", "/api/studies/1.2.3/select", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if store.CurrentFrame() != 0 || store.Playing() {
		t.Error("selection must reset the frame and pause")
	}

	rec = doJSON(t, h, "POST", "/api/studies/9.9.9/select", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unknown study", rec.Code)
	}
}

func TestClassLifecycle(t *testing.T) {
	h, store, _ := testHandler(t, &fakeDir{}, &fakeResolver{})

	rec := doJSON(t, h, "POST", "/api/classes", map[string]string{"name": "vessel", "color": "#00ff00"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var created models.AnnotationClass
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || !created.Visible {
		t.Errorf("created = %+v", created)
	}

	store.SetLayers([]models.AnnotationLayer{
		{ID: "l1", Tool: models.ToolLength, ClassID: created.ID, Visible: true},
		{ID: "l2", Tool: models.ToolLength, ClassID: "thrombus", Visible: true},
	})

	rec = doJSON(t, h, "DELETE", "/api/classes/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	layers := store.Layers()
	if len(layers) != 1 || layers[0].ID != "l2" {
		t.Errorf("cascade failed: %+v", layers)
	}

	rec = doJSON(t, h, "POST", "/api/classes/thrombus/toggle", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if store.Classes()[0].Visible {
		t.Error("toggle did not flip")
	}

	rec = doJSON(t, h, "POST", "/api/classes/visibility", map[string]bool{"visible": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	for _, class := range store.Classes() {
		if !class.Visible {
			t.Error("bulk visibility not applied")
		}
	}

	rec = doJSON(t, h, "POST", "/api/classes", map[string]string{"color": "#fff"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 without a name", rec.Code)
	}
}

func TestAnnotationSync(t *testing.T) {
	h, store, _ := testHandler(t, &fakeDir{}, &fakeResolver{})
	store.ToggleClassVisibility("thrombus")

	visible := true
	body := map[string]any{
		"annotations": []syncAnnotation{
			{
				UID: "uid-b", ToolName: "Length", ClassID: "plaque",
				ReferencedImageID: "wadors:x/frames/5",
				Points:            [][2]float64{{10, 10}, {40, 30}},
				Visible:           &visible,
			},
			{
				UID: "uid-a", ToolName: "RectangleROI", ClassID: "thrombus",
				ReferencedImageID: "wadors:x/frames/1",
				Visible:           &visible,
			},
			{UID: "uid-c", ToolName: "Probe", Visible: &visible},
		},
	}

	rec := doJSON(t, h, "POST", "/api/annotations/sync", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	var response struct {
		Layers     []models.AnnotationLayer `json:"layers"`
		Visibility map[string]bool          `json:"visibility"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatal(err)
	}

	// Unknown tool dropped; remaining sorted ascending by frame index.
	if len(response.Layers) != 2 {
		t.Fatalf("layers = %+v", response.Layers)
	}
	if response.Layers[0].ID != "uid-a" || response.Layers[1].ID != "uid-b" {
		t.Errorf("order = %s, %s", response.Layers[0].ID, response.Layers[1].ID)
	}
	if response.Layers[1].BBox != [4]int{10, 10, 30, 20} {
		t.Errorf("bbox = %v", response.Layers[1].BBox)
	}

	// Hidden thrombus class forces its layer invisible in the push-back.
	if response.Visibility["uid-a"] {
		t.Error("uid-a must push invisible")
	}
	if !response.Visibility["uid-b"] {
		t.Error("uid-b must stay visible")
	}
}

func TestExportEndpoints(t *testing.T) {
	h, store, _ := testHandler(t, &fakeDir{}, &fakeResolver{})
	store.SetLayers([]models.AnnotationLayer{
		{ID: "l1", Tool: models.ToolRectangle, ClassID: "thrombus", Visible: true, BBox: [4]int{1, 2, 3, 4}},
	})

	rec := doJSON(t, h, "GET", "/api/export/json", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"layers"`) {
		t.Errorf("json export: %d %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, h, "GET", "/api/export/csv", nil)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "id,tool,label") {
		t.Errorf("csv export: %d %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, h, "GET", "/api/export/coco", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"iscrowd"`) {
		t.Errorf("coco export: %d", rec.Code)
	}

	rec = doJSON(t, h, "GET", "/api/export/parquet", nil)
	if rec.Code != http.StatusOK || rec.Body.Len() == 0 {
		t.Errorf("parquet export: %d", rec.Code)
	}

	rec = doJSON(t, h, "GET", "/api/export/xml", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown format: %d, want 404", rec.Code)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	h, store, _ := testHandler(t, &fakeDir{}, &fakeResolver{})
	store.SetLayers([]models.AnnotationLayer{
		{ID: "l1", Tool: models.ToolLength, ClassID: "thrombus", Visible: true},
	})

	rec := doJSON(t, h, "POST", "/api/snapshots", map[string]string{"name": "baseline"})
	if rec.Code != http.StatusOK {
		t.Fatalf("save: %d %s", rec.Code, rec.Body)
	}
	var saved struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &saved); err != nil {
		t.Fatal(err)
	}

	// Mutate, then restore.
	store.ClearClasses()
	rec = doJSON(t, h, "POST", "/api/snapshots/"+saved.ID+"/restore", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("restore: %d %s", rec.Code, rec.Body)
	}
	if len(store.Classes()) != 3 || len(store.Layers()) != 1 {
		t.Errorf("restore incomplete: %d classes %d layers", len(store.Classes()), len(store.Layers()))
	}
	if store.SelectedClassID() != "thrombus" {
		t.Errorf("selection = %q", store.SelectedClassID())
	}

	rec = doJSON(t, h, "DELETE", "/api/snapshots/"+saved.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: %d", rec.Code)
	}
	rec = doJSON(t, h, "GET", "/api/snapshots/"+saved.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: %d, want 404", rec.Code)
	}
}

func TestPlaybackEndpoint(t *testing.T) {
	h, store, _ := testHandler(t, &fakeDir{}, &fakeResolver{})
	store.SetImageIDs([]string{"a", "b"})

	playing := true
	fps := 10
	rec := doJSON(t, h, "POST", "/api/playback", map[string]any{"playing": &playing, "fps": &fps})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !store.Playing() || store.FPS() != 10 {
		t.Errorf("playing = %v fps = %d", store.Playing(), store.FPS())
	}

	playing = false
	rec = doJSON(t, h, "POST", "/api/playback", map[string]any{"playing": &playing})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if store.Playing() {
		t.Error("playback must pause")
	}
}

func TestThumbnailServing(t *testing.T) {
	h, _, pool := testHandler(t, &fakeDir{}, &fakeResolver{})
	if err := os.WriteFile(filepath.Join(pool.Dir(), "thumb-1.png"), []byte("png"), 0644); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, h, "GET", "/thumbnails/thumb-1.png", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "png" {
		t.Errorf("thumbnail: %d %q", rec.Code, rec.Body)
	}

	rec = doJSON(t, h, "GET", "/thumbnails/missing.png", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing thumbnail: %d, want 404", rec.Code)
	}
}
