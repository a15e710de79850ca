package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sonocloud/sonoviewer/internal/config"
	"github.com/sonocloud/sonoviewer/internal/dicomweb"
	"github.com/sonocloud/sonoviewer/internal/engine"
	"github.com/sonocloud/sonoviewer/internal/resolve"
)

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <study-instance-uid>",
		Short: "Resolve a study to its ordered frame references",
		Long: `Runs the image-resolution pipeline for one study and prints the frame
references in playback order, one per line.`,
		Example: `  sonoviewer resolve 1.2.840.113619.2.55.3.1234`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			client := dicomweb.NewClient(cfg.DICOMWebBase, cfg.RestBase, cfg.Username, cfg.Password)
			pipeline := resolve.NewPipeline(client, engine.NewCache(), slog.Default())

			frameRefs, err := pipeline.Resolve(cmd.Context(), args[0])
			if err != nil {
				if errors.Is(err, resolve.ErrNoSeries) || errors.Is(err, resolve.ErrNoDisplayableContent) {
					return err
				}
				return fmt.Errorf("%s", dicomweb.ReadableError(err))
			}
			for _, frameRef := range frameRefs {
				fmt.Println(frameRef)
			}
			return nil
		},
	}

	return cmd
}
