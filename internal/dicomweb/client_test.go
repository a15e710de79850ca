package dicomweb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(server *httptest.Server) *Client {
	return NewClient(server.URL+"/dicom-web", server.URL, "admin", "secret")
}

func TestSearchStudiesPrefixMatch(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || username != "admin" || password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/dicom+json")
		_, _ = w.Write([]byte(`[
			{
				"0020000D": {"vr": "UI", "Value": ["1.2.3.1"]},
				"00100010": {"vr": "PN", "Value": [{"Alphabetic": "John Doe"}]},
				"00080020": {"vr": "DA", "Value": ["20240115"]},
				"00080061": {"vr": "CS", "Value": ["US"]},
				"00201206": {"vr": "IS", "Value": ["2"]},
				"00201208": {"vr": "IS", "Value": ["48"]}
			},
			{
				"0020000D": {"vr": "UI", "Value": ["1.2.3.2"]},
				"00100010": {"vr": "PN", "Value": [{"Alphabetic": "Johnny Smith"}]}
			}
		]`))
	}))
	defer server.Close()

	studies, err := newTestClient(server).SearchStudies(context.Background(), "john")
	if err != nil {
		t.Fatalf("SearchStudies: %v", err)
	}

	if !strings.Contains(gotQuery, "PatientName=john%2A") {
		t.Errorf("query missing wildcard-suffixed patient name filter: %s", gotQuery)
	}
	if !strings.Contains(gotQuery, "limit=100") {
		t.Errorf("query missing result cap: %s", gotQuery)
	}

	if len(studies) != 2 {
		t.Fatalf("got %d studies, want 2", len(studies))
	}
	// Server order must be preserved.
	if studies[0].PatientName != "John Doe" || studies[1].PatientName != "Johnny Smith" {
		t.Errorf("server order not preserved: %q, %q", studies[0].PatientName, studies[1].PatientName)
	}
	if studies[0].StudyDate != "2024-01-15" {
		t.Errorf("study date = %q, want 2024-01-15", studies[0].StudyDate)
	}
	if studies[0].SeriesCount != 2 || studies[0].InstanceCount != 48 {
		t.Errorf("counts = %d/%d, want 2/48", studies[0].SeriesCount, studies[0].InstanceCount)
	}
	if studies[1].Modality != "-" || studies[1].StudyID != "-" {
		t.Errorf("missing tags should fall back to dashes, got %q %q", studies[1].Modality, studies[1].StudyID)
	}
	if studies[0].ThumbnailURL != "" {
		t.Error("thumbnail must be unset on creation")
	}
}

func TestSearchStudiesEmptyTermOmitsFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("PatientName") {
			t.Error("empty search term must not send a PatientName filter")
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	if _, err := newTestClient(server).SearchStudies(context.Background(), "   "); err != nil {
		t.Fatalf("SearchStudies: %v", err)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantCode   ErrorCode
		wantInText string
	}{
		{"unauthorized", http.StatusUnauthorized, CodeUnauthorized, "username/password"},
		{"forbidden", http.StatusForbidden, CodeForbidden, "permissions"},
		{"not found", http.StatusNotFound, CodeNotFound, "/dicom-web"},
		{"server error", http.StatusBadGateway, CodeHTTP, "502"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := newTestClient(server).SearchStudies(context.Background(), "")
			var clientErr *ClientError
			if !errors.As(err, &clientErr) {
				t.Fatalf("want *ClientError, got %T", err)
			}
			if clientErr.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", clientErr.Code, tt.wantCode)
			}
			if clientErr.Status != tt.status {
				t.Errorf("status = %d, want %d", clientErr.Status, tt.status)
			}
			if !strings.Contains(clientErr.Error(), tt.wantInText) {
				t.Errorf("message %q missing %q", clientErr.Error(), tt.wantInText)
			}
		})
	}
}

func TestNetworkErrorMapsToTaxonomy(t *testing.T) {
	client := NewClient("http://127.0.0.1:1/dicom-web", "http://127.0.0.1:1", "admin", "secret")
	_, err := client.GetSeries(context.Background(), "1.2.3")
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("want *ClientError, got %T", err)
	}
	if clientErr.Code != CodeNetworkOrCORS {
		t.Errorf("code = %s, want %s", clientErr.Code, CodeNetworkOrCORS)
	}
}

func TestGetInstancesFiltersRowsWithoutSOPUID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limit := r.URL.Query().Get("limit"); limit != "1" {
			t.Errorf("limit = %q, want 1", limit)
		}
		_, _ = w.Write([]byte(`[
			{"00080018": {"vr": "UI", "Value": ["1.2.3.4.1"]}, "00280008": {"vr": "IS", "Value": ["30"]}},
			{"00280008": {"vr": "IS", "Value": ["5"]}}
		]`))
	}))
	defer server.Close()

	instances, err := newTestClient(server).GetInstances(context.Background(), "1.2.3", "1.2.3.4", 1)
	if err != nil {
		t.Fatalf("GetInstances: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("got %d instances, want 1 (row without SOP UID filtered)", len(instances))
	}
	if instances[0].NumberOfFrames != 30 {
		t.Errorf("frames = %d, want 30", instances[0].NumberOfFrames)
	}
	if instances[0].SeriesInstanceUID != "1.2.3.4" {
		t.Errorf("series uid = %q, want 1.2.3.4", instances[0].SeriesInstanceUID)
	}
}

func TestRenderedImageURLVariants(t *testing.T) {
	client := NewClient("http://orthanc:8042/dicom-web", "http://orthanc:8042", "a", "b")

	withFrame := client.RenderedImageURL("s", "r", "o", 1, true)
	if withFrame != "http://orthanc:8042/dicom-web/studies/s/series/r/instances/o/frames/1/rendered?viewport=128,128" {
		t.Errorf("unexpected URL: %s", withFrame)
	}
	noFrame := client.RenderedImageURL("s", "r", "o", 0, false)
	if noFrame != "http://orthanc:8042/dicom-web/studies/s/series/r/instances/o/rendered" {
		t.Errorf("unexpected URL: %s", noFrame)
	}
}

func TestFrameReferenceEquality(t *testing.T) {
	client := NewClient("http://orthanc:8042/dicom-web", "http://orthanc:8042", "a", "b")

	ref := client.FrameReference("s", "r", "o", 1)
	same := client.FrameReference("s", "r", "o", 1)
	other := client.FrameReference("s", "r", "o", 2)

	if ref != same {
		t.Error("identical components must yield equal references")
	}
	if ref == other {
		t.Error("differing frame index must yield distinct references")
	}
	if !strings.HasSuffix(ref, "/frames/1") {
		t.Errorf("reference should end in /frames/1: %s", ref)
	}
}

func TestFindOrthancStudyID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tools/find" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`["internal-study-id"]`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/dicom-web", server.URL, "admin", "secret")
	if id := client.FindOrthancStudyID(context.Background(), "1.2.3"); id != "internal-study-id" {
		t.Errorf("id = %q, want internal-study-id", id)
	}
}

func TestFindOrthancStudyIDObjectRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"ID": "obj-id"}]`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/dicom-web", server.URL, "admin", "secret")
	if id := client.FindOrthancStudyID(context.Background(), "1.2.3"); id != "obj-id" {
		t.Errorf("id = %q, want obj-id", id)
	}
}

func TestFetchImageRejectsNonImageContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>not an image</html>"))
	}))
	defer server.Close()

	client := newTestClient(server)
	if data := client.FetchImage(context.Background(), server.URL+"/whatever"); data != nil {
		t.Error("non-image content must yield nil")
	}
}
