package cmdutil

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type loggerConfig struct {
	level string
	json  bool
}

var loggerConfigInst = loggerConfig{
	level: zerolog.InfoLevel.String(),
}

func RegisterLoggerFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(
		&loggerConfigInst.level,
		"logging",
		loggerConfigInst.level,
		"what level to log at - maps to zerolog.Level",
	)
	cmd.PersistentFlags().BoolVar(
		&loggerConfigInst.json,
		"log-json",
		loggerConfigInst.json,
		"emit logs as JSON lines instead of console output",
	)
}

// Logger builds the process logger from the logging flags. Scheduled runs
// pass --log-json so collectors get one JSON object per line.
func Logger() (zerolog.Logger, error) {
	var logger zerolog.Logger
	if loggerConfigInst.json {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	}
	lvl, err := zerolog.ParseLevel(loggerConfigInst.level)
	if err != nil {
		return logger, err
	}
	return logger.Level(lvl), err
}
