package cmd

import (
	"fmt"
	"os"

	"productfinder/config"

	"github.com/spf13/cobra"
)

var (
	flagConfigPreset string
	flagConfigForce  bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage productfinder.yaml",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with defaults",
	RunE:  runConfigInit,
}

func init() {
	configInitCmd.Flags().StringVar(&flagConfigPreset, "preset", "balanced", "Pipeline preset: fast, balanced or detailed")
	configInitCmd.Flags().BoolVar(&flagConfigForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(flagConfig); err == nil && !flagConfigForce {
		return fmt.Errorf("%s already exists, use --force to overwrite it", flagConfig)
	}
	p, err := config.Preset(flagConfigPreset)
	if err != nil {
		return err
	}
	cfg := config.DefaultConfig()
	cfg.Pipeline = p
	if err := config.Save(flagConfig, cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (preset %s)\n", flagConfig, flagConfigPreset)
	return nil
}
