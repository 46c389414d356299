package compare

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bcgov/geodiff/cmd/internal/cmdutil"
	"github.com/bcgov/geodiff/diff"
	"github.com/bcgov/geodiff/diff/changes"
	"github.com/bcgov/geodiff/diff/keyresolve"
	"github.com/bcgov/geodiff/geotable"
	"github.com/bcgov/geodiff/sourcecfg"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func Command() *cobra.Command {
	var (
		primaryKey  []string
		hashFields  []string
		precision   float64
		epsilon     float64
		outPath     string
		changesPath string
	)

	cmd := &cobra.Command{
		Use:   "compare <previous.geojson> <current.geojson>",
		Short: "Compare two GeoJSON datasets and render the change report.",
		Long:  `Compare diffs two local GeoJSON FeatureCollections without touching any stored snapshots, writing the change report to stdout or a file.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := cmdutil.Logger()
			if err != nil {
				return err
			}
			prev, err := readTable(args[0])
			if err != nil {
				return err
			}
			cur, err := readTable(args[1])
			if err != nil {
				return err
			}

			rep, features, err := diff.Tables(prev, cur,
				keyresolve.Spec{
					PrimaryKey: primaryKey,
					HashFields: hashFields,
					Precision:  precision,
				},
				diff.WithPrecision(precision),
				diff.WithEpsilon(epsilon),
				diff.WithReporter(changes.LogReporter{Logger: logger}),
			)
			if err != nil {
				return err
			}

			out := io.Writer(cmd.OutOrStdout())
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return errors.Wrapf(err, "error creating %s", outPath)
				}
				defer func() { _ = f.Close() }()
				out = f
			}
			if err := rep.Render(out); err != nil {
				return err
			}

			if changesPath != "" && !features.Empty() {
				f, err := os.Create(changesPath)
				if err != nil {
					return errors.Wrapf(err, "error creating %s", changesPath)
				}
				defer func() { _ = f.Close() }()
				if err := features.WriteArchive(f); err != nil {
					return err
				}
				logger.Info().Str("path", changesPath).Msgf("wrote changes archive")
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(
		&primaryKey,
		"primary-key",
		"k",
		nil,
		"primary key column(s) common to both datasets (defaults to hash keys)",
	)
	cmd.Flags().StringSliceVar(
		&hashFields,
		"hash-fields",
		nil,
		"columns fed into the hash key besides the geometry (defaults to all)",
	)
	cmd.Flags().Float64VarP(
		&precision,
		"precision",
		"p",
		sourcecfg.DefaultSettings().Precision,
		"coordinate precision used for geometry comparison and hash keys",
	)
	cmd.Flags().Float64Var(
		&epsilon,
		"epsilon",
		sourcecfg.DefaultSettings().Epsilon,
		"numeric comparison tolerance",
	)
	cmd.Flags().StringVarP(
		&outPath,
		"out",
		"o",
		"",
		"write the change report to this path instead of stdout",
	)
	cmd.Flags().StringVar(
		&changesPath,
		"changes",
		"",
		"if set, write the changed-feature archive to this path",
	)
	cmdutil.RegisterLoggerFlags(cmd)
	return cmd
}

func readTable(path string) (*geotable.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening %s", path)
	}
	defer func() { _ = f.Close() }()
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return geotable.ReadGeoJSON(f, name)
}
