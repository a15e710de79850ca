// Package dicomweb queries an Orthanc DICOMweb server: study search,
// series/instance listing, series metadata, rendered-frame URLs and the
// management REST API used for study previews.
package dicomweb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/sonocloud/sonoviewer/internal/dicomtag"
	"github.com/sonocloud/sonoviewer/internal/models"
)

// searchLimit caps a study search result set.
const searchLimit = 100

// ThumbnailViewport is the fixed rendered-thumbnail size requested from the
// server.
const ThumbnailViewport = "128,128"

// Client talks to one Orthanc instance over DICOMweb plus its management
// REST API. Both base URLs are absolute origins without a trailing slash.
type Client struct {
	BaseURL  string
	RestBase string
	Username string
	Password string

	httpClient *http.Client
}

// NewClient creates a client for the given DICOMweb and management-API base
// URLs.
func NewClient(baseURL, restBase, username, password string) *Client {
	return &Client{
		BaseURL:  strings.TrimSuffix(baseURL, "/"),
		RestBase: strings.TrimSuffix(restBase, "/"),
		Username: username,
		Password: password,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// fetchEntities issues an authenticated DICOMweb GET and decodes the
// tag-keyed JSON rows. Failures map to the typed taxonomy, never a raw
// transport error.
func (c *Client) fetchEntities(ctx context.Context, path string) ([]dicomtag.Entity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, networkError(c.BaseURL)
	}
	req.Header.Set("Accept", "application/dicom+json")
	req.SetBasicAuth(c.Username, c.Password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, networkError(c.BaseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode)
	}

	// Orthanc answers 204 with an empty body when a query matches nothing.
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	var rows []dicomtag.Entity
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, newClientError(CodeHTTP, resp.StatusCode,
			fmt.Sprintf("Orthanc DICOMweb request failed (%d).", resp.StatusCode))
	}
	return rows, nil
}

func includeFields(params url.Values, tags ...tag.Tag) {
	for _, t := range tags {
		params.Add("includefield", dicomtag.Keyword(t))
	}
}

// SearchStudies queries the study-search endpoint, capped at 100 results.
// A non-empty term performs a wildcard-suffixed prefix match against the
// patient name. Rows map into Study entities with the thumbnail unset.
func (c *Client) SearchStudies(ctx context.Context, term string) ([]models.Study, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(searchLimit))
	includeFields(params,
		tag.StudyInstanceUID,
		tag.PatientName,
		tag.StudyDate,
		tag.StudyID,
		tag.ModalitiesInStudy,
		tag.NumberOfStudyRelatedSeries,
		tag.NumberOfStudyRelatedInstances,
	)
	if trimmed := strings.TrimSpace(term); trimmed != "" {
		params.Set(dicomtag.Keyword(tag.PatientName), trimmed+"*")
	}

	rows, err := c.fetchEntities(ctx, "/studies?"+params.Encode())
	if err != nil {
		return nil, err
	}

	studies := make([]models.Study, 0, len(rows))
	for _, row := range rows {
		studies = append(studies, models.Study{
			StudyInstanceUID: dicomtag.String(row, tag.StudyInstanceUID),
			StudyID:          stringOr(dicomtag.String(row, tag.StudyID), "-"),
			PatientName:      stringOr(dicomtag.String(row, tag.PatientName), "Unknown"),
			StudyDate:        dicomtag.Date(dicomtag.String(row, tag.StudyDate)),
			Modality:         stringOr(dicomtag.String(row, tag.ModalitiesInStudy), "-"),
			SeriesCount:      dicomtag.Int(row, tag.NumberOfStudyRelatedSeries, 0),
			InstanceCount:    dicomtag.Int(row, tag.NumberOfStudyRelatedInstances, 0),
		})
	}
	return studies, nil
}

// GetSeries lists the series of a study. The server does not guarantee any
// ordering; callers needing priority order must sort explicitly.
func (c *Client) GetSeries(ctx context.Context, studyUID string) ([]models.Series, error) {
	params := url.Values{}
	includeFields(params,
		tag.SeriesInstanceUID,
		tag.Modality,
		tag.NumberOfSeriesRelatedInstances,
	)

	path := fmt.Sprintf("/studies/%s/series?%s", url.PathEscape(studyUID), params.Encode())
	rows, err := c.fetchEntities(ctx, path)
	if err != nil {
		return nil, err
	}

	series := make([]models.Series, 0, len(rows))
	for _, row := range rows {
		series = append(series, models.Series{
			SeriesInstanceUID: dicomtag.String(row, tag.SeriesInstanceUID),
			Modality:          stringOr(dicomtag.String(row, tag.Modality), "-"),
			InstanceCount:     dicomtag.Int(row, tag.NumberOfSeriesRelatedInstances, 0),
		})
	}
	return series, nil
}

// GetInstances lists the instances of a series, optionally capped with
// limit > 0. Rows without a usable SOP instance UID are filtered out.
func (c *Client) GetInstances(ctx context.Context, studyUID, seriesUID string, limit int) ([]models.Instance, error) {
	params := url.Values{}
	includeFields(params, tag.SOPInstanceUID, tag.NumberOfFrames)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	path := fmt.Sprintf("/studies/%s/series/%s/instances?%s",
		url.PathEscape(studyUID), url.PathEscape(seriesUID), params.Encode())
	rows, err := c.fetchEntities(ctx, path)
	if err != nil {
		return nil, err
	}

	instances := make([]models.Instance, 0, len(rows))
	for _, row := range rows {
		sopUID := dicomtag.String(row, tag.SOPInstanceUID)
		if sopUID == "" {
			continue
		}
		instances = append(instances, models.Instance{
			SOPInstanceUID:    sopUID,
			NumberOfFrames:    dicomtag.Int(row, tag.NumberOfFrames, 1),
			SeriesInstanceUID: seriesUID,
		})
	}
	return instances, nil
}

// pixelFields are the per-instance tags the resolution pipeline needs to
// judge displayability and expand frames.
func pixelFields(params url.Values) {
	includeFields(params,
		tag.SOPInstanceUID,
		tag.SeriesInstanceUID,
		tag.NumberOfFrames,
		tag.Rows,
		tag.Columns,
		tag.SamplesPerPixel,
		tag.PhotometricInterpretation,
		tag.BitsAllocated,
		tag.BitsStored,
		tag.PixelRepresentation,
		tag.PlanarConfiguration,
	)
}

// SeriesInstanceRecords fetches instance-level records for one series
// carrying the pixel-descriptor tags (the pipeline's fast path).
func (c *Client) SeriesInstanceRecords(ctx context.Context, studyUID, seriesUID string) ([]dicomtag.Entity, error) {
	params := url.Values{}
	pixelFields(params)
	path := fmt.Sprintf("/studies/%s/series/%s/instances?%s",
		url.PathEscape(studyUID), url.PathEscape(seriesUID), params.Encode())
	return c.fetchEntities(ctx, path)
}

// SeriesMetadata fetches the full series-level metadata listing, one record
// per instance.
func (c *Client) SeriesMetadata(ctx context.Context, studyUID, seriesUID string) ([]dicomtag.Entity, error) {
	path := fmt.Sprintf("/studies/%s/series/%s/metadata",
		url.PathEscape(studyUID), url.PathEscape(seriesUID))
	return c.fetchEntities(ctx, path)
}

// StudyInstanceRecords fetches instance records across all series of a
// study in one call, carrying the pixel-descriptor tags.
func (c *Client) StudyInstanceRecords(ctx context.Context, studyUID string) ([]dicomtag.Entity, error) {
	params := url.Values{}
	pixelFields(params)
	path := fmt.Sprintf("/studies/%s/instances?%s", url.PathEscape(studyUID), params.Encode())
	return c.fetchEntities(ctx, path)
}

// RenderedImageURL builds the rendered-frame retrieval URL. frame <= 0
// omits the frame path segment; withViewport appends the fixed thumbnail
// viewport query.
func (c *Client) RenderedImageURL(studyUID, seriesUID, sopUID string, frame int, withViewport bool) string {
	var rendered string
	if frame > 0 {
		rendered = fmt.Sprintf("%s/studies/%s/series/%s/instances/%s/frames/%d/rendered",
			c.BaseURL, url.PathEscape(studyUID), url.PathEscape(seriesUID), url.PathEscape(sopUID), frame)
	} else {
		rendered = fmt.Sprintf("%s/studies/%s/series/%s/instances/%s/rendered",
			c.BaseURL, url.PathEscape(studyUID), url.PathEscape(seriesUID), url.PathEscape(sopUID))
	}
	if withViewport {
		return rendered + "?viewport=" + ThumbnailViewport
	}
	return rendered
}

// FrameReference builds the opaque addressable locator for one 2-D frame.
// Two references are equal iff study, series, SOP UID and 1-based frame
// index all match.
func (c *Client) FrameReference(studyUID, seriesUID, sopUID string, frame int) string {
	return fmt.Sprintf("wadors:%s/studies/%s/series/%s/instances/%s/frames/%d",
		c.BaseURL, url.PathEscape(studyUID), url.PathEscape(seriesUID), url.PathEscape(sopUID), frame)
}

// restJSON issues a best-effort authenticated request against the
// management REST API. Any failure yields ok=false, never an error: the
// thumbnail path treats the whole management API as optional.
func (c *Client) restJSON(ctx context.Context, method, path string, body any, out any) bool {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return false
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.RestBase+path, reader)
	if err != nil {
		return false
	}
	req.SetBasicAuth(c.Username, c.Password)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	return json.NewDecoder(resp.Body).Decode(out) == nil
}

// FindOrthancStudyID resolves a study instance UID to the server's internal
// study identifier via POST /tools/find. Returns "" when unresolved.
func (c *Client) FindOrthancStudyID(ctx context.Context, studyInstanceUID string) string {
	payload := map[string]any{
		"Level": "Study",
		"Query": map[string]string{
			"StudyInstanceUID": studyInstanceUID,
		},
	}

	var rows []json.RawMessage
	if !c.restJSON(ctx, http.MethodPost, "/tools/find", payload, &rows) || len(rows) == 0 {
		return ""
	}

	var id string
	if err := json.Unmarshal(rows[0], &id); err == nil {
		return id
	}
	var resource struct {
		ID string `json:"ID"`
	}
	if err := json.Unmarshal(rows[0], &resource); err == nil {
		return resource.ID
	}
	return ""
}

// OrthancStudySeries lists the internal series identifiers of an internal
// study resource.
func (c *Client) OrthancStudySeries(ctx context.Context, orthancStudyID string) []string {
	var resource struct {
		Series []string `json:"Series"`
	}
	if !c.restJSON(ctx, http.MethodGet, "/studies/"+url.PathEscape(orthancStudyID), nil, &resource) {
		return nil
	}
	return resource.Series
}

// OrthancSeriesInstances lists the internal instance identifiers of an
// internal series resource.
func (c *Client) OrthancSeriesInstances(ctx context.Context, orthancSeriesID string) []string {
	var resource struct {
		Instances []string `json:"Instances"`
	}
	if !c.restJSON(ctx, http.MethodGet, "/series/"+url.PathEscape(orthancSeriesID), nil, &resource) {
		return nil
	}
	return resource.Instances
}

// InstancePreviewURLs returns the management-API preview endpoints for an
// internal instance identifier, in preference order.
func (c *Client) InstancePreviewURLs(orthancInstanceID string) []string {
	escaped := url.PathEscape(orthancInstanceID)
	return []string{
		c.RestBase + "/instances/" + escaped + "/preview",
		c.RestBase + "/instances/" + escaped + "/image-uint8",
	}
}

// FetchImage retrieves binary image content from an absolute URL. Returns
// nil on any failure or when the response is not an image; thumbnail
// acquisition treats every candidate URL as best-effort.
func (c *Client) FetchImage(ctx context.Context, imageURL string) []byte {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Accept", "image/jpeg, image/png;q=0.9, */*;q=0.8")
	req.SetBasicAuth(c.Username, c.Password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "image/") {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil || len(data) == 0 {
		return nil
	}
	return data
}

func stringOr(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
