package export

import (
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/sonocloud/sonoviewer/internal/models"
)

// ParquetRow is one layer flattened to a parquet record. CategoryID
// carries the same 1-based assignment as the other formats.
type ParquetRow struct {
	ID          string `parquet:"id"`
	Tool        string `parquet:"tool"`
	Label       string `parquet:"label"`
	FrameIndex  int32  `parquet:"frame_index"`
	Visible     bool   `parquet:"visible"`
	BBoxX       int32  `parquet:"bbox_x"`
	BBoxY       int32  `parquet:"bbox_y"`
	BBoxWidth   int32  `parquet:"bbox_width"`
	BBoxHeight  int32  `parquet:"bbox_height"`
	Measurement string `parquet:"measurement,optional"`
	ClassID     string `parquet:"class_id"`
	CategoryID  int32  `parquet:"category_id"`
}

// ParquetRows flattens the snapshot into parquet records.
func ParquetRows(classes []models.AnnotationClass, layers []models.AnnotationLayer) []ParquetRow {
	ids := categoryIDs(classes)
	rows := make([]ParquetRow, 0, len(layers))
	for _, layer := range layers {
		rows = append(rows, ParquetRow{
			ID:          layer.ID,
			Tool:        string(layer.Tool),
			Label:       layer.Label,
			FrameIndex:  int32(layer.FrameIndex),
			Visible:     layer.Visible,
			BBoxX:       int32(layer.BBox[0]),
			BBoxY:       int32(layer.BBox[1]),
			BBoxWidth:   int32(layer.BBox[2]),
			BBoxHeight:  int32(layer.BBox[3]),
			Measurement: layer.Measurement,
			ClassID:     layer.ClassID,
			CategoryID:  int32(ids[layer.ClassID]),
		})
	}
	return rows
}

// Parquet writes the snapshot as a parquet table, one row per layer.
func Parquet(w io.Writer, classes []models.AnnotationClass, layers []models.AnnotationLayer) error {
	writer := parquet.NewGenericWriter[ParquetRow](w)
	rows := ParquetRows(classes, layers)
	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			writer.Close()
			return err
		}
	}
	return writer.Close()
}
