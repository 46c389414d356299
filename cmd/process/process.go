package process

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
	var (
		settingsFile      string
		validateOnly      bool
		pageSize          int
		requestsPerSecond int
	)

	cmd := &cobra.Command{
		Use:   "process <catalog.json>",
		Short: "Download configured layers and detect changes against stored snapshots.",
		Long:  `Process downloads every layer in the source catalog, compares each against its stored snapshot, and persists the new snapshot, change report and changed-feature archive.`,
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
			cmdutil.RunMetricsServer(logger, settings.MetricsAddr)

			layers, err := cmdutil.LoadCatalog(args[0])
			if err != nil {
				return err
			}
			if len(layers) == 0 {
				logger.Warn().Msgf("no layers in %s matched the filters", args[0])
				return nil
			}

			ctx := context.Background()
			var store snapstore.Store
			if validateOnly {
				store = snapstore.NewMemStore()
			} else {
				store, err = snapstore.NewStore(ctx, logger, settings.Target)
				if err != nil {
					return err
				}
			}
			client := fetch.NewClient(
				fetch.WithLogger(logger),
				fetch.WithPageSize(pageSize),
				fetch.WithRequestsPerSecond(requestsPerSecond),
			)

			summary, err := runner.New(runner.Config{
				Workers:      settings.Workers,
				Precision:    settings.Precision,
				Epsilon:      settings.Epsilon,
				ValidateOnly: validateOnly,
			}, logger, client, store).Run(ctx, layers)
			if err != nil {
				return err
			}
			if failed := summary.Failed(); len(failed) > 0 {
				return errors.Newf("%d of %d layers failed", len(failed), len(summary.Results))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(
		&settingsFile,
		"settings",
		"",
		"path to the run settings file (defaults to geodiff.yaml when present)",
	)
	cmd.Flags().BoolVar(
		&validateOnly,
		"validate",
		false,
		"validate configuration and key uniqueness without touching stored snapshots",
	)
	cmd.Flags().Float64(
		"precision",
		sourcecfg.DefaultSettings().Precision,
		"coordinate precision used for geometry comparison and hash keys",
	)
	cmd.Flags().Float64(
		"epsilon",
		sourcecfg.DefaultSettings().Epsilon,
		"numeric comparison tolerance",
	)
	cmd.Flags().Int(
		"workers",
		sourcecfg.DefaultSettings().Workers,
		"number of layers to process at a time",
	)
	cmd.Flags().String(
		"target",
		sourcecfg.DefaultSettings().Target,
		"where snapshots live: a directory, s3://bucket/prefix or gs://bucket/prefix",
	)
	cmd.Flags().String(
		"metrics-addr",
		"",
		"address for the metrics endpoint to listen on (empty disables it)",
	)
	cmd.Flags().IntVar(
		&pageSize,
		"page-size",
		fetch.DefaultPageSize,
		"number of features to request per page from paged protocols",
	)
	cmd.Flags().IntVar(
		&requestsPerSecond,
		"requests-per-second",
		0,
		"if set, maximum number of upstream requests per second",
	)
	cmdutil.RegisterLoggerFlags(cmd)
	cmdutil.RegisterLayerFilterFlags(cmd)
	return cmd
}
