// Package export serializes a snapshot of the normalized annotation model
// (classes + layers) into interchange documents. All serializers are pure
// functions over the snapshot and share one category-id assignment: the
// 1-based position of the class in the classes list.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/sonocloud/sonoviewer/internal/models"
)

// categoryIDs assigns the shared numeric category ids. A layer referencing
// a class not in the list (the fallback id included) maps to 0.
func categoryIDs(classes []models.AnnotationClass) map[string]int {
	ids := make(map[string]int, len(classes))
	for i, class := range classes {
		ids[class.ID] = i + 1
	}
	return ids
}

// JSON renders the snapshot verbatim as {classes, layers}.
func JSON(classes []models.AnnotationClass, layers []models.AnnotationLayer) ([]byte, error) {
	document := struct {
		Classes []models.AnnotationClass `json:"classes"`
		Layers  []models.AnnotationLayer `json:"layers"`
	}{
		Classes: classes,
		Layers:  layers,
	}
	if document.Classes == nil {
		document.Classes = []models.AnnotationClass{}
	}
	if document.Layers == nil {
		document.Layers = []models.AnnotationLayer{}
	}
	return json.MarshalIndent(document, "", "  ")
}

// csvHeader is the fixed CSV column order.
var csvHeader = []string{"id", "tool", "label", "frameIndex", "visible", "bbox", "measurement", "classId"}

// CSV renders one row per layer. The bbox cell is the comma-joined literal
// "x,y,w,h", which the writer quotes; a missing measurement is an empty
// cell.
func CSV(classes []models.AnnotationClass, layers []models.AnnotationLayer) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, layer := range layers {
		row := []string{
			layer.ID,
			string(layer.Tool),
			layer.Label,
			strconv.Itoa(layer.FrameIndex),
			strconv.FormatBool(layer.Visible),
			joinBBox(layer.BBox),
			layer.Measurement,
			layer.ClassID,
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	return buf.Bytes(), writer.Error()
}

func joinBBox(bbox [4]int) string {
	parts := make([]string, len(bbox))
	for i, v := range bbox {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

type cocoInfo struct {
	Description string `json:"description"`
	Version     string `json:"version"`
	DateCreated string `json:"date_created"`
}

type cocoImage struct {
	ID       int    `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type cocoCategory struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Color         string `json:"color"`
	Supercategory string `json:"supercategory"`
}

type cocoAttributes struct {
	AnnotationUID string  `json:"annotation_uid"`
	Tool          string  `json:"tool"`
	Label         string  `json:"label"`
	FrameIndex    int     `json:"frameIndex"`
	Measurement   *string `json:"measurement"`
	Visible       bool    `json:"visible"`
}

type cocoAnnotation struct {
	ID         int            `json:"id"`
	ImageID    int            `json:"image_id"`
	CategoryID int            `json:"category_id"`
	BBox       [4]int         `json:"bbox"`
	Area       int            `json:"area"`
	IsCrowd    int            `json:"iscrowd"`
	Attributes cocoAttributes `json:"attributes"`
}

type cocoDocument struct {
	Info        cocoInfo         `json:"info"`
	Images      []cocoImage      `json:"images"`
	Annotations []cocoAnnotation `json:"annotations"`
	Categories  []cocoCategory   `json:"categories"`
}

// COCO renders a COCO-style document: categories in list order with the
// shared 1-based ids, a single synthetic image sized to enclose every
// bbox, and one annotation per layer with area = width*height. Fields
// beyond the strict COCO schema ride in the attributes bag.
func COCO(classes []models.AnnotationClass, layers []models.AnnotationLayer) ([]byte, error) {
	ids := categoryIDs(classes)

	imageWidth, imageHeight := 1, 1
	for _, layer := range layers {
		if right := layer.BBox[0] + layer.BBox[2]; right > imageWidth {
			imageWidth = right
		}
		if bottom := layer.BBox[1] + layer.BBox[3]; bottom > imageHeight {
			imageHeight = bottom
		}
	}

	document := cocoDocument{
		Info: cocoInfo{
			Description: "Ultrasound DICOM Annotations",
			Version:     "1.0.0",
			DateCreated: time.Now().UTC().Format(time.RFC3339),
		},
		Images: []cocoImage{
			{ID: 1, FileName: "annotated-frames.dcm", Width: imageWidth, Height: imageHeight},
		},
		Annotations: make([]cocoAnnotation, 0, len(layers)),
		Categories:  make([]cocoCategory, 0, len(classes)),
	}
	for i, class := range classes {
		document.Categories = append(document.Categories, cocoCategory{
			ID:            i + 1,
			Name:          class.Name,
			Color:         class.Color,
			Supercategory: "ultrasound",
		})
	}
	for i, layer := range layers {
		var measurement *string
		if layer.Measurement != "" {
			m := layer.Measurement
			measurement = &m
		}
		document.Annotations = append(document.Annotations, cocoAnnotation{
			ID:         i + 1,
			ImageID:    1,
			CategoryID: ids[layer.ClassID],
			BBox:       layer.BBox,
			Area:       layer.BBox[2] * layer.BBox[3],
			IsCrowd:    0,
			Attributes: cocoAttributes{
				AnnotationUID: layer.ID,
				Tool:          string(layer.Tool),
				Label:         layer.Label,
				FrameIndex:    layer.FrameIndex,
				Measurement:   measurement,
				Visible:       layer.Visible,
			},
		})
	}
	return json.MarshalIndent(document, "", "  ")
}
