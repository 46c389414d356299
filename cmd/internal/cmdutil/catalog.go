package cmdutil

import (
	"os"

	"github.com/bcgov/geodiff/sourcecfg"
	"github.com/cockroachdb/errors"
)

// LoadCatalog reads a source catalog file and applies the layer filter
// flags to it.
func LoadCatalog(path string) ([]sourcecfg.Layer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening source catalog %s", path)
	}
	defer func() { _ = f.Close() }()
	layers, err := sourcecfg.ReadLayers(f)
	if err != nil {
		return nil, err
	}
	return sourcecfg.FilterLayers(layerFilter, layers)
}
