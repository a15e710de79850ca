package handlers

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/sonocloud/sonoviewer/internal/resolve"
)

// searchState serializes concurrent searches: each search takes the next
// sequence number at begin, and only the holder of the current number may
// apply its result at finish. The currency check and the apply both run
// under the state lock, so a newer search cannot begin between them.
type searchState struct {
	mu       sync.Mutex
	sequence int64
	active   int
}

func (s *searchState) begin() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence++
	s.active++
	return s.sequence
}

// finish ends one search and runs done while the lock is held. current
// reports whether no newer search began meanwhile; idle whether this was
// the last search still in flight.
func (s *searchState) finish(sequence int64, done func(current, idle bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
	done(s.sequence == sequence, s.active == 0)
}

// HandleStudies serves GET /api/studies?query=term: searches the server,
// repopulates the store and kicks background thumbnail acquisition for the
// fresh result set.
func (h *Handler) HandleStudies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		sequence := h.search.begin()
		h.store.SetLoadingStudies(true)

		studies, err := h.dir.SearchStudies(r.Context(), r.URL.Query().Get("query"))

		var current bool
		h.search.finish(sequence, func(isCurrent, idle bool) {
			current = isCurrent
			if idle {
				// The loading flag tracks the whole set of in-flight
				// searches, not any single request's lifecycle.
				h.store.SetLoadingStudies(false)
			}
			if !isCurrent || err != nil {
				return
			}
			h.store.SetStudies(studies)
			h.pool.Reset()
			uids := make([]string, 0, len(studies))
			for _, study := range studies {
				uids = append(uids, study.StudyInstanceUID)
			}
			h.pool.Enqueue(uids)
		})

		switch {
		case !current:
			// A newer search superseded this one; its result wins.
			h.writeJSON(w, map[string]any{"superseded": true})
		case err != nil:
			h.writeClientError(w, err)
		default:
			h.writeJSON(w, studies)
		}
	default:
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleStudyDetail serves the per-study routes:
//
//	POST /api/studies/{uid}/select
//	GET  /api/studies/{uid}/images
func (h *Handler) HandleStudyDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/studies/")
	studyUID, action, _ := strings.Cut(rest, "/")
	if studyUID == "" {
		h.writeError(w, "Study not specified", http.StatusBadRequest)
		return
	}

	switch {
	case action == "select" && r.Method == "POST":
		h.selectStudy(w, studyUID)
	case action == "images" && r.Method == "GET":
		h.resolveImages(w, r, studyUID)
	default:
		h.writeError(w, "Not found", http.StatusNotFound)
	}
}

func (h *Handler) selectStudy(w http.ResponseWriter, studyUID string) {
	for _, study := range h.store.Studies() {
		if study.StudyInstanceUID == studyUID {
			selected := study
			h.store.SelectStudy(&selected)
			h.playback.Sync()
			h.writeJSON(w, selected)
			return
		}
	}
	h.writeError(w, "Study not found", http.StatusNotFound)
}

// resolveImages runs the resolution pipeline and installs the resulting
// frame references as the active stack.
func (h *Handler) resolveImages(w http.ResponseWriter, r *http.Request, studyUID string) {
	imageIDs, err := h.resolver.Resolve(r.Context(), studyUID)
	if err != nil {
		if errors.Is(err, resolve.ErrNoSeries) || errors.Is(err, resolve.ErrNoDisplayableContent) {
			h.writeError(w, err.Error(), http.StatusNotFound)
			return
		}
		h.writeClientError(w, err)
		return
	}

	h.store.SetImageIDs(imageIDs)
	h.playback.Sync()
	h.writeJSON(w, map[string]any{"imageIds": imageIDs})
}

// HandlePlayback serves POST /api/playback {playing, fps}: updates the
// store and reconciles the auto-advance timer.
func (h *Handler) HandlePlayback(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Playing *bool `json:"playing"`
		FPS     *int  `json:"fps"`
	}
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if body.FPS != nil {
		h.store.SetFPS(*body.FPS)
	}
	if body.Playing != nil {
		h.store.SetPlaying(*body.Playing)
	}
	h.playback.Sync()
	h.writeJSON(w, map[string]any{
		"playing": h.store.Playing(),
		"fps":     h.store.FPS(),
		"frame":   h.store.CurrentFrame(),
	})
}

// HandleTool serves POST /api/tool {tool}: switches the active annotation
// tool.
func (h *Handler) HandleTool(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Tool string `json:"tool"`
	}
	if err := decodeJSON(r, &body); err != nil || body.Tool == "" {
		h.writeError(w, "Tool not specified", http.StatusBadRequest)
		return
	}
	h.store.SetActiveTool(body.Tool)
	h.writeJSON(w, map[string]string{"tool": body.Tool})
}
