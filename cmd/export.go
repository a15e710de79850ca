package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sonocloud/sonoviewer/internal/archive"
	"github.com/sonocloud/sonoviewer/internal/config"
	"github.com/sonocloud/sonoviewer/internal/export"
)

func newExportCmd() *cobra.Command {
	var (
		snapshotID string
		format     string
		outPath    string
		list       bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render an archived annotation snapshot to a file",
		Long: `Renders a snapshot from the annotation archive into one of the
interchange formats: json, csv, coco or parquet.`,
		Example: `  # List archived snapshots
  sonoviewer export --list

  # Render a snapshot as COCO
  sonoviewer export --snapshot 2f1a... --format coco --out annotations.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			snapshots, err := archive.Open(cfg.ArchivePath)
			if err != nil {
				return err
			}
			defer snapshots.Close()

			if list {
				entries, err := snapshots.List(cmd.Context())
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Println("No snapshots archived.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tCREATED")
				for _, entry := range entries {
					fmt.Fprintf(w, "%s\t%s\t%s\n", entry.ID, entry.Name, entry.CreatedAt.Format("2006-01-02 15:04"))
				}
				return w.Flush()
			}

			if snapshotID == "" {
				return fmt.Errorf("--snapshot is required (use --list to find one)")
			}
			snapshot, err := snapshots.Load(cmd.Context(), snapshotID)
			if err != nil {
				return fmt.Errorf("loading snapshot %s: %w", snapshotID, err)
			}

			if outPath == "" {
				outPath = "annotations-" + snapshot.ID[:8] + defaultExtension(format)
			}
			if err := writeExport(outPath, format, snapshot); err != nil {
				return err
			}
			fmt.Printf("Wrote %s export to %s\n", format, outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&snapshotID, "snapshot", "", "Snapshot id to export")
	cmd.Flags().StringVar(&format, "format", "json", "Export format: json, csv, coco or parquet")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (default derived from snapshot id)")
	cmd.Flags().BoolVar(&list, "list", false, "List archived snapshots instead of exporting")

	return cmd
}

func defaultExtension(format string) string {
	switch format {
	case "csv":
		return ".csv"
	case "parquet":
		return ".parquet"
	default:
		return ".json"
	}
}

func writeExport(path, format string, snapshot *archive.Snapshot) error {
	if format == "parquet" {
		file, err := os.Create(filepath.Clean(path))
		if err != nil {
			return err
		}
		if err := export.Parquet(file, snapshot.Classes, snapshot.Layers); err != nil {
			file.Close()
			return err
		}
		return file.Close()
	}

	var data []byte
	var err error
	switch format {
	case "json":
		data, err = export.JSON(snapshot.Classes, snapshot.Layers)
	case "csv":
		data, err = export.CSV(snapshot.Classes, snapshot.Layers)
	case "coco":
		data, err = export.COCO(snapshot.Classes, snapshot.Layers)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
