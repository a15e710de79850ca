// Package state holds the process-wide viewer state: studies, selection,
// playback position and annotation state. All mutation goes through the
// store's methods under one mutex; there is no ambient global state.
package state

import (
	"sync"

	"github.com/sonocloud/sonoviewer/internal/models"
)

// DefaultFPS is the playback rate seeded at startup.
const DefaultFPS = 24

// Store is the single source of truth for view state. The zero value is
// not usable; construct with New.
type Store struct {
	mu sync.RWMutex

	studies        []models.Study
	loadingStudies bool
	selectedStudy  *models.Study

	imageIDs     []string
	currentFrame int
	fps          int
	playing      bool
	activeTool   string

	classes         []models.AnnotationClass
	layers          []models.AnnotationLayer
	selectedClassID string
}

// New creates a store seeded with the given category set (the default set
// when nil) and empty layers.
func New(classes []models.AnnotationClass) *Store {
	if classes == nil {
		classes = models.DefaultClasses()
	}
	store := &Store{
		fps:        DefaultFPS,
		activeTool: "Pan",
		classes:    classes,
	}
	if len(classes) > 0 {
		store.selectedClassID = classes[0].ID
	}
	return store
}

// Studies returns a copy of the current study list.
func (s *Store) Studies() []models.Study {
	s.mu.RLock()
	defer s.mu.RUnlock()
	studies := make([]models.Study, len(s.studies))
	copy(studies, s.studies)
	return studies
}

// SetStudies replaces the study list; the previous list is discarded.
func (s *Store) SetStudies(studies []models.Study) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.studies = studies
}

// SetStudyThumbnail installs a thumbnail URL on the matching study. Returns
// false when the study is no longer present (superseded by a newer search).
func (s *Store) SetStudyThumbnail(studyInstanceUID, thumbnailURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.studies {
		if s.studies[i].StudyInstanceUID == studyInstanceUID {
			s.studies[i].ThumbnailURL = thumbnailURL
			return true
		}
	}
	return false
}

// HasStudy reports whether the study is still in the current result set.
func (s *Store) HasStudy(studyInstanceUID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.studies {
		if s.studies[i].StudyInstanceUID == studyInstanceUID {
			return true
		}
	}
	return false
}

func (s *Store) SetLoadingStudies(loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadingStudies = loading
}

func (s *Store) LoadingStudies() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadingStudies
}

// SelectStudy sets the selected study, resets the playback position to 0
// and pauses playback. A nil study clears the selection.
func (s *Store) SelectStudy(study *models.Study) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedStudy = study
	s.currentFrame = 0
	s.playing = false
}

func (s *Store) SelectedStudy() *models.Study {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selectedStudy == nil {
		return nil
	}
	study := *s.selectedStudy
	return &study
}

// SetImageIDs replaces the image-reference list and resets the playback
// position to 0.
func (s *Store) SetImageIDs(imageIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imageIDs = imageIDs
	s.currentFrame = 0
}

func (s *Store) ImageIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	imageIDs := make([]string, len(s.imageIDs))
	copy(imageIDs, s.imageIDs)
	return imageIDs
}

func (s *Store) SetCurrentFrame(frame int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentFrame = frame
}

func (s *Store) CurrentFrame() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentFrame
}

// AdvanceFrame steps the playback position forward, wrapping at the end of
// the stack. No-op on an empty stack.
func (s *Store) AdvanceFrame() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.imageIDs) == 0 {
		return
	}
	s.currentFrame = (s.currentFrame + 1) % len(s.imageIDs)
}

func (s *Store) SetFPS(fps int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fps = fps
}

func (s *Store) FPS() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fps
}

func (s *Store) SetPlaying(playing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = playing
}

func (s *Store) Playing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playing
}

func (s *Store) SetActiveTool(tool string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeTool = tool
}

func (s *Store) ActiveTool() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeTool
}

// Classes returns a copy of the category list.
func (s *Store) Classes() []models.AnnotationClass {
	s.mu.RLock()
	defer s.mu.RUnlock()
	classes := make([]models.AnnotationClass, len(s.classes))
	copy(classes, s.classes)
	return classes
}

// AddClass appends a category.
func (s *Store) AddClass(class models.AnnotationClass) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classes = append(s.classes, class)
	if s.selectedClassID == "" {
		s.selectedClassID = class.ID
	}
}

// Layers returns a copy of the layer list.
func (s *Store) Layers() []models.AnnotationLayer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	layers := make([]models.AnnotationLayer, len(s.layers))
	copy(layers, s.layers)
	return layers
}

// SetLayers replaces the layer list with a reconciled snapshot.
func (s *Store) SetLayers(layers []models.AnnotationLayer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layers = layers
}

func (s *Store) SetSelectedClassID(classID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedClassID = classID
}

func (s *Store) SelectedClassID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedClassID
}

// ToggleClassVisibility flips one category's visibility flag.
func (s *Store) ToggleClassVisibility(classID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.classes {
		if s.classes[i].ID == classID {
			s.classes[i].Visible = !s.classes[i].Visible
		}
	}
}

// ToggleLayerVisibility flips one layer's visibility flag.
func (s *Store) ToggleLayerVisibility(layerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.layers {
		if s.layers[i].ID == layerID {
			s.layers[i].Visible = !s.layers[i].Visible
		}
	}
}

// SetAllClassVisibility overwrites every category's flag unconditionally.
func (s *Store) SetAllClassVisibility(visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.classes {
		s.classes[i].Visible = visible
	}
}

// SetAllLayerVisibility overwrites every layer's flag unconditionally.
func (s *Store) SetAllLayerVisibility(visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.layers {
		s.layers[i].Visible = visible
	}
}

// DeleteClass removes a category and cascades to every layer referencing
// it. A deleted selected category moves the selection to the first
// remaining category.
func (s *Store) DeleteClass(classID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	classes := s.classes[:0]
	for _, class := range s.classes {
		if class.ID != classID {
			classes = append(classes, class)
		}
	}
	s.classes = classes

	layers := s.layers[:0]
	for _, layer := range s.layers {
		if layer.ClassID != classID {
			layers = append(layers, layer)
		}
	}
	s.layers = layers

	if s.selectedClassID == classID {
		s.selectedClassID = ""
		if len(s.classes) > 0 {
			s.selectedClassID = s.classes[0].ID
		}
	}
}

// DeleteLayer removes one layer.
func (s *Store) DeleteLayer(layerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	layers := s.layers[:0]
	for _, layer := range s.layers {
		if layer.ID != layerID {
			layers = append(layers, layer)
		}
	}
	s.layers = layers
}

// ClearClasses empties the category list and cascades to all layers.
func (s *Store) ClearClasses() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classes = nil
	s.layers = nil
	s.selectedClassID = ""
}

// ClearLayers empties the layer list.
func (s *Store) ClearLayers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layers = nil
}

// Restore replaces the whole annotation model, moving the selection to
// the first restored category.
func (s *Store) Restore(classes []models.AnnotationClass, layers []models.AnnotationLayer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classes = classes
	s.layers = layers
	s.selectedClassID = ""
	if len(classes) > 0 {
		s.selectedClassID = classes[0].ID
	}
}

// EffectiveVisibility reports a layer's on-screen visibility: the layer
// flag combined with its category's flag. Layers referencing the fallback
// id (or a missing category) take only their own flag.
func (s *Store) EffectiveVisibility(layer models.AnnotationLayer) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, class := range s.classes {
		if class.ID == layer.ClassID {
			return layer.Visible && class.Visible
		}
	}
	return layer.Visible
}

// Snapshot returns a consistent copy of the normalized annotation model
// for export or archival.
func (s *Store) Snapshot() ([]models.AnnotationClass, []models.AnnotationLayer) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	classes := make([]models.AnnotationClass, len(s.classes))
	copy(classes, s.classes)
	layers := make([]models.AnnotationLayer, len(s.layers))
	copy(layers, s.layers)
	return classes, layers
}
