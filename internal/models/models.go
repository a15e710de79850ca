package models

// Study is one exam as returned by the DICOMweb study search. The thumbnail
// URL is unset at creation time and installed asynchronously by the
// thumbnail pool.
type Study struct {
	StudyInstanceUID string `json:"studyInstanceUID"`
	StudyID          string `json:"studyId"`
	PatientName      string `json:"patientName"`
	StudyDate        string `json:"studyDate"`
	Modality         string `json:"modality"`
	SeriesCount      int    `json:"seriesCount"`
	InstanceCount    int    `json:"instanceCount"`
	ThumbnailURL     string `json:"thumbnailUrl,omitempty"`
}

// Series is one acquisition run within a study. Series are fetched per
// study selection and never persisted in the store.
type Series struct {
	SeriesInstanceUID string `json:"seriesInstanceUID"`
	Modality          string `json:"modality"`
	InstanceCount     int    `json:"instanceCount"`
}

// Instance is a single SOP instance. NumberOfFrames is clamped to at least
// 1 during frame expansion, never trusted to be positive here.
type Instance struct {
	SOPInstanceUID    string `json:"sopInstanceUID"`
	NumberOfFrames    int    `json:"numberOfFrames"`
	SeriesInstanceUID string `json:"seriesInstanceUID,omitempty"`
}

// ToolKind enumerates the annotation tools mirrored from the rendering
// engine. Annotations drawn with any other engine tool are dropped during
// reconciliation.
type ToolKind string

const (
	ToolRectangle     ToolKind = "Rectangle"
	ToolFreehand      ToolKind = "Freehand"
	ToolText          ToolKind = "Text"
	ToolLength        ToolKind = "Length"
	ToolAngle         ToolKind = "Angle"
	ToolEllipse       ToolKind = "Ellipse"
	ToolBidirectional ToolKind = "Bidirectional"
)

// AnnotationClass is a user-defined category. Deleting a class cascades to
// every layer referencing it.
type AnnotationClass struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Color   string `json:"color"`
	Visible bool   `json:"visible"`
}

// FallbackClassID is the sentinel a layer is assigned when no categories
// are configured. It is the only class id a layer may carry that does not
// reference an existing class.
const FallbackClassID = "unassigned"

// AnnotationLayer is the normalized mirror of one engine annotation. The ID
// is assigned by the engine and treated as foreign-owned: the application
// reads it but never generates or rewrites it.
type AnnotationLayer struct {
	ID          string   `json:"id"`
	Tool        ToolKind `json:"tool"`
	Label       string   `json:"label"`
	FrameIndex  int      `json:"frameIndex"`
	Visible     bool     `json:"visible"`
	BBox        [4]int   `json:"bbox"`
	Measurement string   `json:"measurement,omitempty"`
	ClassID     string   `json:"classId"`
}

// DefaultClasses is the category set seeded into the store at startup when
// no category configuration is supplied.
func DefaultClasses() []AnnotationClass {
	return []AnnotationClass{
		{ID: "thrombus", Name: "thrombus", Color: "#ff6b6b", Visible: true},
		{ID: "plaque", Name: "plaque", Color: "#4dabf7", Visible: true},
		{ID: "calcification", Name: "calcification", Color: "#ffd43b", Visible: true},
	}
}
