package cmdutil

import (
	"github.com/bcgov/geodiff/sourcecfg"
	"github.com/spf13/cobra"
)

var layerFilter = sourcecfg.DefaultFilterConfig()

func RegisterLayerFilterFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(
		&layerFilter.LayerFilter,
		"layer-filter",
		layerFilter.LayerFilter,
		"POSIX regexp filter for layers to action on",
	)
	cmd.PersistentFlags().StringVar(
		(*string)(&layerFilter.Schedule),
		"schedule",
		string(layerFilter.Schedule),
		"only action layers carrying this schedule tag (D, W, M, Q or A)",
	)
}

func LayerFilter() sourcecfg.FilterConfig {
	return layerFilter
}
