package thumbs

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"log/slog"

	"golang.org/x/image/draw"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/sonocloud/sonoviewer/internal/models"
	"github.com/sonocloud/sonoviewer/internal/resolve"
)

// thumbnailEdge is the bounding square a fetched preview is scaled to fit.
const thumbnailEdge = 128

// Source is the slice of the server client the fetcher needs.
type Source interface {
	GetSeries(ctx context.Context, studyUID string) ([]models.Series, error)
	GetInstances(ctx context.Context, studyUID, seriesUID string, limit int) ([]models.Instance, error)
	RenderedImageURL(studyUID, seriesUID, sopUID string, frame int, withViewport bool) string
	FindOrthancStudyID(ctx context.Context, studyInstanceUID string) string
	OrthancStudySeries(ctx context.Context, orthancStudyID string) []string
	OrthancSeriesInstances(ctx context.Context, orthancSeriesID string) []string
	InstancePreviewURLs(orthancInstanceID string) []string
	FetchImage(ctx context.Context, imageURL string) []byte
}

// Fetcher resolves one study to thumbnail image bytes. Every candidate
// endpoint is best-effort; only a study with no working candidate at all
// fails.
type Fetcher struct {
	source Source
	logger *slog.Logger
}

func NewFetcher(source Source, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{source: source, logger: logger}
}

// Fetch tries the management API's preview endpoints first, then falls
// back to rendered-frame retrieval over DICOMweb. Returns nil when no
// candidate yields an image.
func (f *Fetcher) Fetch(ctx context.Context, studyUID string) []byte {
	if data := f.fetchPreview(ctx, studyUID); data != nil {
		return shrink(data)
	}
	if data := f.fetchRendered(ctx, studyUID); data != nil {
		return shrink(data)
	}
	f.logger.Debug("no thumbnail candidate succeeded", "study", studyUID)
	return nil
}

// fetchPreview walks the management API: internal study id, its series,
// each series' first instance, and that instance's preview endpoints.
func (f *Fetcher) fetchPreview(ctx context.Context, studyUID string) []byte {
	orthancStudyID := f.source.FindOrthancStudyID(ctx, studyUID)
	if orthancStudyID == "" {
		return nil
	}
	for _, seriesID := range f.source.OrthancStudySeries(ctx, orthancStudyID) {
		instances := f.source.OrthancSeriesInstances(ctx, seriesID)
		if len(instances) == 0 {
			continue
		}
		for _, previewURL := range f.source.InstancePreviewURLs(instances[0]) {
			if data := f.source.FetchImage(ctx, previewURL); data != nil {
				return data
			}
		}
	}
	return nil
}

// fetchRendered walks the study's series in priority order and tries the
// rendered-frame URL variants of each series' first instance: with and
// without an explicit frame segment, with and without the viewport query.
func (f *Fetcher) fetchRendered(ctx context.Context, studyUID string) []byte {
	series, err := f.source.GetSeries(ctx, studyUID)
	if err != nil {
		f.logger.Debug("series listing failed for thumbnail", "study", studyUID, "err", err)
		return nil
	}
	for _, s := range resolve.Prioritize(series) {
		instances, err := f.source.GetInstances(ctx, studyUID, s.SeriesInstanceUID, 1)
		if err != nil || len(instances) == 0 {
			continue
		}
		instance := instances[0]

		frame := 0
		if instance.NumberOfFrames > 1 {
			frame = 1
		}
		variants := [][2]any{
			{frame, true},
			{0, true},
			{frame, false},
			{0, false},
		}
		tried := map[string]bool{}
		for _, variant := range variants {
			imageURL := f.source.RenderedImageURL(studyUID, s.SeriesInstanceUID,
				instance.SOPInstanceUID, variant[0].(int), variant[1].(bool))
			if tried[imageURL] {
				continue
			}
			tried[imageURL] = true
			if data := f.source.FetchImage(ctx, imageURL); data != nil {
				return data
			}
		}
	}
	return nil
}

// shrink scales the image down to fit within the thumbnail bounding square,
// preserving aspect ratio. Undecodable input and images already within
// bounds pass through unchanged.
func shrink(data []byte) []byte {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= thumbnailEdge && height <= thumbnailEdge {
		return data
	}

	scale := float64(thumbnailEdge) / float64(width)
	if height > width {
		scale = float64(thumbnailEdge) / float64(height)
	}
	scaledWidth := int(float64(width) * scale)
	scaledHeight := int(float64(height) * scale)
	if scaledWidth < 1 {
		scaledWidth = 1
	}
	if scaledHeight < 1 {
		scaledHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, scaledWidth, scaledHeight))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return data
	}
	return buf.Bytes()
}
