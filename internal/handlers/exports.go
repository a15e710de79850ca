package handlers

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/sonocloud/sonoviewer/internal/export"
)

// HandleExport serves GET /api/export/{format} with format one of json,
// csv, coco, parquet. The document is rendered from the current snapshot
// and offered as a download.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	format := strings.TrimPrefix(r.URL.Path, "/api/export/")
	classes, layers := h.store.Snapshot()

	var data []byte
	var err error
	var contentType, filename string
	switch format {
	case "json":
		data, err = export.JSON(classes, layers)
		contentType, filename = "application/json", "annotations.json"
	case "csv":
		data, err = export.CSV(classes, layers)
		contentType, filename = "text/csv; charset=utf-8", "annotations.csv"
	case "coco":
		data, err = export.COCO(classes, layers)
		contentType, filename = "application/json", "annotations-coco.json"
	case "parquet":
		var buf bytes.Buffer
		err = export.Parquet(&buf, classes, layers)
		data = buf.Bytes()
		contentType, filename = "application/vnd.apache.parquet", "annotations.parquet"
	default:
		h.writeError(w, "Unknown export format", http.StatusNotFound)
		return
	}
	if err != nil {
		h.writeError(w, "Export failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if _, err := w.Write(data); err != nil {
		h.writeError(w, "Unable to write export", http.StatusInternalServerError)
	}
}
