package sourcecfg

import "regexp"

const DefaultFilterString = ".*"

type FilterString = string

func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		LayerFilter: DefaultFilterString,
	}
}

// FilterConfig restricts a catalog to the layers a run should process.
type FilterConfig struct {
	// LayerFilter is a POSIX regexp matched against out_layer.
	LayerFilter FilterString
	// Schedule keeps only layers with this cadence tag when set.
	Schedule Schedule
}

// FilterLayers returns the catalog entries matching cfg, preserving catalog
// order.
func FilterLayers(cfg FilterConfig, layers []Layer) ([]Layer, error) {
	if cfg.LayerFilter == DefaultFilterString && cfg.Schedule == "" {
		return layers, nil
	}
	layerRe, err := regexp.CompilePOSIX(cfg.LayerFilter)
	if err != nil {
		return nil, err
	}
	var ret []Layer
	for _, l := range layers {
		if !layerRe.MatchString(l.OutLayer) {
			continue
		}
		if cfg.Schedule != "" && l.Schedule != cfg.Schedule {
			continue
		}
		ret = append(ret, l)
	}
	return ret, nil
}
