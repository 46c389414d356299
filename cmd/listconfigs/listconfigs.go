package listconfigs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bcgov/geodiff/cmd/internal/cmdutil"
	"github.com/bcgov/geodiff/sourcecfg"
	"github.com/spf13/cobra"
)

func Command() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "list-configs",
		Short: "List source catalogs under a directory.",
		Long:  `List-configs walks a directory of source catalog files and prints the name of every catalog holding at least one layer that matches the filters.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := cmdutil.Logger()
			if err != nil {
				return err
			}
			return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() || !strings.EqualFold(filepath.Ext(p), ".json") {
					return nil
				}
				data, err := os.ReadFile(p)
				if err != nil {
					return err
				}
				layers, err := sourcecfg.ParseLayers(data)
				if err != nil {
					logger.Err(err).Msgf("skipping %s", p)
					return nil
				}
				layers, err = sourcecfg.FilterLayers(cmdutil.LayerFilter(), layers)
				if err != nil {
					return err
				}
				if len(layers) == 0 {
					return nil
				}
				rel, err := filepath.Rel(path, p)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSuffix(rel, filepath.Ext(rel)))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(
		&path,
		"path",
		"p",
		"sources",
		"directory containing source catalog files",
	)
	cmdutil.RegisterLoggerFlags(cmd)
	cmdutil.RegisterLayerFilterFlags(cmd)
	return cmd
}
