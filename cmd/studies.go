package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sonocloud/sonoviewer/internal/config"
	"github.com/sonocloud/sonoviewer/internal/dicomweb"
)

func newStudiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "studies [search term]",
		Short: "Search studies on the configured Orthanc server",
		Long: `Searches the DICOMweb study endpoint and prints the matching studies.

A non-empty search term performs a prefix match against the patient name.`,
		Example: `  # List the most recent studies
  sonoviewer studies

  # Studies whose patient name starts with "john"
  sonoviewer studies john`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			client := dicomweb.NewClient(cfg.DICOMWebBase, cfg.RestBase, cfg.Username, cfg.Password)

			term := ""
			if len(args) > 0 {
				term = args[0]
			}
			studies, err := client.SearchStudies(cmd.Context(), term)
			if err != nil {
				return fmt.Errorf("%s", dicomweb.ReadableError(err))
			}
			if len(studies) == 0 {
				fmt.Println("No studies found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PATIENT\tDATE\tMODALITY\tSERIES\tINSTANCES\tSTUDY UID")
			for _, study := range studies {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					study.PatientName, study.StudyDate, study.Modality,
					study.SeriesCount, study.InstanceCount, study.StudyInstanceUID)
			}
			return w.Flush()
		},
	}

	return cmd
}
