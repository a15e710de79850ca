// Package resolve turns a selected study into an ordered list of frame
// references ready for playback, using a tiered fallback strategy: direct
// per-series frame entries, series metadata expansion, then a study-wide
// instance listing. The least expensive successful tier wins.
package resolve

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/sonocloud/sonoviewer/internal/dicomtag"
	"github.com/sonocloud/sonoviewer/internal/engine"
	"github.com/sonocloud/sonoviewer/internal/models"
)

// ErrNoSeries reports a study with zero series. It is an informational
// outcome, not a transport failure.
var ErrNoSeries = errors.New("no series found in this study")

// ErrNoDisplayableContent reports that every fallback tier yielded zero
// displayable frames. Distinct from a transport error.
var ErrNoDisplayableContent = errors.New("no displayable instances found in this study")

// Directory is the slice of the DICOMweb client the pipeline consumes.
type Directory interface {
	GetSeries(ctx context.Context, studyUID string) ([]models.Series, error)
	SeriesInstanceRecords(ctx context.Context, studyUID, seriesUID string) ([]dicomtag.Entity, error)
	SeriesMetadata(ctx context.Context, studyUID, seriesUID string) ([]dicomtag.Entity, error)
	StudyInstanceRecords(ctx context.Context, studyUID string) ([]dicomtag.Entity, error)
	FrameReference(studyUID, seriesUID, sopUID string, frame int) string
}

// Entry pairs a frame reference with the raw instance metadata it was
// expanded from.
type Entry struct {
	FrameRef string
	Metadata dicomtag.Entity
}

// Pipeline resolves studies against a directory, registering metadata with
// the engine cache before handing out frame references.
type Pipeline struct {
	directory Directory
	cache     engine.MetadataCache
	logger    *slog.Logger
}

func NewPipeline(directory Directory, cache engine.MetadataCache, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{directory: directory, cache: cache, logger: logger}
}

// Prioritize orders series for resolution: descending by instance count,
// ties keeping the server order. More instances means the series is more
// likely the primary acquisition loop. The input is not mutated.
func Prioritize(series []models.Series) []models.Series {
	prioritized := make([]models.Series, len(series))
	copy(prioritized, series)
	sort.SliceStable(prioritized, func(i, j int) bool {
		return prioritized[i].InstanceCount > prioritized[j].InstanceCount
	})
	return prioritized
}

// Resolve produces the playback frame references for a study, or ErrNoSeries /
// ErrNoDisplayableContent when the study has nothing to show. Per-series
// failures are logged and treated as empty; only study-level transport
// failures propagate.
func (p *Pipeline) Resolve(ctx context.Context, studyUID string) ([]string, error) {
	series, err := p.directory.GetSeries(ctx, studyUID)
	if err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, ErrNoSeries
	}

	for _, current := range Prioritize(series) {
		entries := p.resolveSeries(ctx, studyUID, current.SeriesInstanceUID)
		if len(entries) > 0 {
			return p.accept(entries), nil
		}
	}

	records, err := p.directory.StudyInstanceRecords(ctx, studyUID)
	if err != nil {
		return nil, err
	}
	entries := p.expandStudyRecords(studyUID, records)
	if len(entries) == 0 {
		return nil, ErrNoDisplayableContent
	}
	return p.accept(entries), nil
}

// resolveSeries runs the two series-level tiers. A failing tier is logged
// and treated as empty so resolution continues with the next tier or the
// next series, never aborting the whole resolution.
func (p *Pipeline) resolveSeries(ctx context.Context, studyUID, seriesUID string) []Entry {
	records, err := p.directory.SeriesInstanceRecords(ctx, studyUID, seriesUID)
	if err != nil {
		p.logger.Warn("series frame-entry fetch failed", "series", seriesUID, "err", err)
		records = nil
	}
	entries := p.ExpandRecords(studyUID, seriesUID, records)
	if len(entries) > 0 {
		return entries
	}

	metadata, err := p.directory.SeriesMetadata(ctx, studyUID, seriesUID)
	if err != nil {
		p.logger.Warn("series metadata fetch failed", "series", seriesUID, "err", err)
		return nil
	}
	return p.ExpandRecords(studyUID, seriesUID, metadata)
}

// expandStudyRecords groups a study-wide instance listing by series (first
// seen order) and concatenates each group's expansion.
func (p *Pipeline) expandStudyRecords(studyUID string, records []dicomtag.Entity) []Entry {
	var order []string
	grouped := make(map[string][]dicomtag.Entity)
	for _, record := range records {
		seriesUID := dicomtag.String(record, tag.SeriesInstanceUID)
		if seriesUID == "" {
			continue
		}
		if _, seen := grouped[seriesUID]; !seen {
			order = append(order, seriesUID)
		}
		grouped[seriesUID] = append(grouped[seriesUID], record)
	}

	var entries []Entry
	for _, seriesUID := range order {
		entries = append(entries, p.ExpandRecords(studyUID, seriesUID, grouped[seriesUID])...)
	}
	return entries
}

// ExpandRecords emits one frame reference per 1..frameCount for every
// displayable instance record. The frame count is clamped to at least 1
// even when the tag is absent or invalid.
func (p *Pipeline) ExpandRecords(studyUID, seriesUID string, records []dicomtag.Entity) []Entry {
	var entries []Entry
	for _, record := range records {
		if !Displayable(record) {
			continue
		}
		sopUID := dicomtag.String(record, tag.SOPInstanceUID)
		frames := dicomtag.Int(record, tag.NumberOfFrames, 1)
		if frames < 1 {
			frames = 1
		}
		for frame := 1; frame <= frames; frame++ {
			entries = append(entries, Entry{
				FrameRef: p.directory.FrameReference(studyUID, seriesUID, sopUID, frame),
				Metadata: record,
			})
		}
	}
	return entries
}

// Displayable reports whether an instance record carries enough pixel
// description to render: a SOP instance UID plus positive rows, columns,
// samples per pixel and bits allocated. Failing instances are skipped
// silently, contributing zero frame references.
func Displayable(record dicomtag.Entity) bool {
	if dicomtag.String(record, tag.SOPInstanceUID) == "" {
		return false
	}
	for _, t := range []tag.Tag{tag.Rows, tag.Columns, tag.SamplesPerPixel, tag.BitsAllocated} {
		value, ok := dicomtag.Number(record, t)
		if !ok || value <= 0 {
			return false
		}
	}
	return true
}

// accept registers every entry's metadata with the engine cache and
// returns the frame references. Registration precedes first use of each
// reference by the rendering engine.
func (p *Pipeline) accept(entries []Entry) []string {
	frameRefs := make([]string, len(entries))
	for i, entry := range entries {
		p.cache.Register(entry.FrameRef, entry.Metadata)
		frameRefs[i] = entry.FrameRef
	}
	return frameRefs
}
