package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sonoviewer",
		Short: "Backend for a browser-based ultrasound DICOM viewer",
		Long: `Sonoviewer talks to an Orthanc DICOMweb server: it searches studies,
resolves them to playable frame stacks, acquires study thumbnails and keeps
the annotation model in sync with a browser-side rendering engine.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}

	// Add subcommands
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStudiesCmd())
	cmd.AddCommand(newResolveCmd())
	cmd.AddCommand(newExportCmd())

	return cmd
}
