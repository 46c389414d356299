package sourcecfg

import (
	"os"
	"runtime"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Settings are the run-wide knobs, as opposed to the per-layer catalog.
// Precedence, lowest to highest: defaults, config file, GEODIFF_*
// environment variables, command-line flags.
type Settings struct {
	// Precision is the coordinate rounding used for geometry comparison
	// and hash identity.
	Precision float64 `koanf:"precision"`
	// Epsilon is the numeric comparison tolerance.
	Epsilon float64 `koanf:"epsilon"`
	// Workers caps how many layers are processed concurrently.
	Workers int `koanf:"workers"`
	// Target is where snapshots live: a directory path, s3://bucket/prefix
	// or gs://bucket/prefix.
	Target string `koanf:"target"`
	// MetricsAddr is the prometheus listen address; empty disables it.
	MetricsAddr string `koanf:"metrics_addr"`
}

const (
	DefaultSettingsFile = "geodiff.yaml"
	settingsFileAlt     = "geodiff.yml"

	DefaultTarget = "snapshots"
)

func DefaultSettings() Settings {
	return Settings{
		Precision: 0.01,
		Epsilon:   1e-9,
		Workers:   runtime.NumCPU(),
		Target:    DefaultTarget,
	}
}

// LoadSettings resolves the run settings. cfgFile may be empty, in which
// case geodiff.yaml/.yml in the working directory is used when present.
// flags may be nil; only flags the user changed take effect.
func LoadSettings(cfgFile string, flags *pflag.FlagSet) (Settings, error) {
	k := koanf.New(".")

	defaults := DefaultSettings()
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"precision":    defaults.Precision,
		"epsilon":      defaults.Epsilon,
		"workers":      defaults.Workers,
		"target":       defaults.Target,
		"metrics_addr": defaults.MetricsAddr,
	}, "."), nil); err != nil {
		return Settings{}, errors.Wrap(err, "error loading default settings")
	}

	if cfgFile == "" {
		for _, name := range []string{DefaultSettingsFile, settingsFileAlt} {
			if _, err := os.Stat(name); err == nil {
				cfgFile = name
				break
			}
		}
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return Settings{}, errors.Wrapf(err, "error reading settings file %s", cfgFile)
		}
	}

	if err := k.Load(env.Provider("GEODIFF_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "GEODIFF_"))
	}), nil); err != nil {
		return Settings{}, errors.Wrap(err, "error loading settings from environment")
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return Settings{}, errors.Wrap(err, "error loading settings from flags")
		}
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return Settings{}, errors.Wrap(err, "error decoding settings")
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	if s.Precision <= 0 {
		return &ConfigurationError{Err: errors.Newf("precision must be positive, got %v", s.Precision)}
	}
	if s.Epsilon < 0 {
		return &ConfigurationError{Err: errors.Newf("epsilon must not be negative, got %v", s.Epsilon)}
	}
	if s.Workers < 1 {
		return &ConfigurationError{Err: errors.Newf("workers must be at least 1, got %d", s.Workers)}
	}
	if s.Target == "" {
		return &ConfigurationError{Err: errors.New("target must be set")}
	}
	return nil
}
