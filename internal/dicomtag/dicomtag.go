// Package dicomtag reads typed values out of sparse DICOMweb JSON records.
//
// A DICOMweb response row maps 8-hex-digit tag codes to value containers.
// Absent tags are never an error: string lookups yield "", numeric lookups
// yield a false ok flag.
package dicomtag

import (
	"fmt"
	"strconv"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// Element is one DICOMweb JSON value container. Value holds zero or more
// raw values: string, number (float64 after JSON decoding) or a structured
// person name (map with an "Alphabetic" entry).
type Element struct {
	VR    string `json:"vr,omitempty"`
	Value []any  `json:"Value,omitempty"`
}

// Entity is a single tag-keyed DICOMweb record.
type Entity map[string]Element

// Code renders a tag as the 8-hex-digit key used in DICOMweb JSON, e.g.
// tag.StudyInstanceUID -> "0020000D".
func Code(t tag.Tag) string {
	return fmt.Sprintf("%04X%04X", t.Group, t.Element)
}

// Keyword returns the dictionary keyword for a tag (e.g. "StudyInstanceUID"),
// used for includefield query parameters. Falls back to the hex code for
// tags missing from the dictionary.
func Keyword(t tag.Tag) string {
	info, err := tag.Find(t)
	if err != nil || info.Keyword == "" {
		return Code(t)
	}
	return info.Keyword
}

// String returns the first value of the tag as a string, or "" when the tag
// is absent or empty. Person-name values yield their Alphabetic form.
func String(entity Entity, t tag.Tag) string {
	element, ok := entity[Code(t)]
	if !ok || len(element.Value) == 0 {
		return ""
	}
	switch value := element.Value[0].(type) {
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case map[string]any:
		if alphabetic, ok := value["Alphabetic"].(string); ok {
			return alphabetic
		}
		return ""
	default:
		return ""
	}
}

// Number returns the first value of the tag coerced to a number. The second
// return is false when the tag is absent, empty or non-numeric.
func Number(entity Entity, t tag.Tag) (float64, bool) {
	element, ok := entity[Code(t)]
	if !ok || len(element.Value) == 0 {
		return 0, false
	}
	switch value := element.Value[0].(type) {
	case float64:
		return value, true
	case string:
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// Int returns the first value of the tag as an int, or def when absent or
// non-numeric.
func Int(entity Entity, t tag.Tag, def int) int {
	value, ok := Number(entity, t)
	if !ok {
		return def
	}
	return int(value)
}

// Date normalizes an 8-digit DICOM DA value (YYYYMMDD) to YYYY-MM-DD. Any
// other non-empty input passes through unchanged; an empty input yields "-".
func Date(raw string) string {
	if raw == "" {
		return "-"
	}
	if len(raw) != 8 {
		return raw
	}
	return raw[0:4] + "-" + raw[4:6] + "-" + raw[6:8]
}
