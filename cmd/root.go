package cmd

import (
	"fmt"
	"os"

	"github.com/bcgov/geodiff/cmd/compare"
	"github.com/bcgov/geodiff/cmd/listconfigs"
	"github.com/bcgov/geodiff/cmd/process"
	"github.com/bcgov/geodiff/cmd/validatecfg"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "geodiff",
	Short: "Change detection for versioned spatial datasets",
	Long:  `geodiff downloads configured spatial datasets, compares each against its stored snapshot and reports what changed.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(process.Command())
	rootCmd.AddCommand(compare.Command())
	rootCmd.AddCommand(validatecfg.Command())
	rootCmd.AddCommand(listconfigs.Command())
}
