package validatecfg

import (
	"context"

	"github.com/bcgov/geodiff/cmd/internal/cmdutil"
	"github.com/bcgov/geodiff/fetch"
	"github.com/bcgov/geodiff/runner"
	"github.com/bcgov/geodiff/snapstore"
	"github.com/bcgov/geodiff/sourcecfg"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func Command() *cobra.Command {
	var settingsFile string

	cmd := &cobra.Command{
		Use:   "validate <catalog.json>",
		Short: "Validate a source catalog without touching stored snapshots.",
		Long:  `Validate parses the source catalog, downloads every matched layer and runs the key uniqueness and schema checks a full run would, without reading or writing snapshots.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := cmdutil.Logger()
			if err != nil {
				return err
			}
			settings, err := sourcecfg.LoadSettings(settingsFile, cmd.Flags())
			if err != nil {
				return err
			}
			layers, err := cmdutil.LoadCatalog(args[0])
			if err != nil {
				return err
			}
			if len(layers) == 0 {
				logger.Warn().Msgf("no layers in %s matched the filters", args[0])
				return nil
			}

			summary, err := runner.New(runner.Config{
				Workers:      settings.Workers,
				Precision:    settings.Precision,
				Epsilon:      settings.Epsilon,
				ValidateOnly: true,
			}, logger, fetch.NewClient(fetch.WithLogger(logger)), snapstore.NewMemStore()).
				Run(context.Background(), layers)
			if err != nil {
				return err
			}
			if failed := summary.Failed(); len(failed) > 0 {
				return errors.Newf("%d of %d layers failed validation", len(failed), len(summary.Results))
			}
			logger.Info().Msgf("%d layers validated", len(summary.Results))
			return nil
		},
	}

	cmd.Flags().StringVar(
		&settingsFile,
		"settings",
		"",
		"path to the run settings file (defaults to geodiff.yaml when present)",
	)
	cmd.Flags().Float64(
		"precision",
		sourcecfg.DefaultSettings().Precision,
		"coordinate precision used for geometry comparison and hash keys",
	)
	cmd.Flags().Int(
		"workers",
		sourcecfg.DefaultSettings().Workers,
		"number of layers to validate at a time",
	)
	cmdutil.RegisterLoggerFlags(cmd)
	cmdutil.RegisterLayerFilterFlags(cmd)
	return cmd
}
