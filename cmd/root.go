package cmd

import (
	"fmt"
	"os"

	"productfinder/logging"
	"productfinder/utils"

	"github.com/spf13/cobra"
)

var (
	flagConfig  string
	flagDebug   bool
	flagLogFile string
)

var rootCmd = &cobra.Command{
	Use:          "productfinder",
	Short:        "Identify products from photos against a labeled catalog",
	SilenceUsage: true,
	Long: `productfinder turns product photos into feature vectors and matches them
against a catalog of labeled reference images with a nearest-neighbor index.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !flagDebug {
			return nil
		}
		if err := logging.SetupLogger(flagLogFile); err != nil {
			printWarn("", fmt.Sprintf("failed to set up logging: %v", err))
			return nil
		}
		printInfo("", "debug mode enabled, logging to "+flagLogFile)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseLogger()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", utils.GetDefaultConfigPath(), "Path to productfinder.yaml")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Write a debug log")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "logfile", "productfinder.log", "Debug log file")
}

// Execute is called by main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
