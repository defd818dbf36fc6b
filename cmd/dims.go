package cmd

import (
	"fmt"
	"text/tabwriter"

	"productfinder/config"
	"productfinder/imageprocessor"

	"github.com/spf13/cobra"
)

var flagDimsPreset string

var dimsCmd = &cobra.Command{
	Use:   "dims",
	Short: "Print the feature vector layout of the active configuration",
	RunE:  runDims,
}

func init() {
	dimsCmd.Flags().StringVar(&flagDimsPreset, "preset", "", "Show a named preset (fast, balanced, detailed) instead of the config file")
	rootCmd.AddCommand(dimsCmd)
}

func runDims(cmd *cobra.Command, args []string) error {
	var pc config.Pipeline
	if flagDimsPreset != "" {
		p, err := config.Preset(flagDimsPreset)
		if err != nil {
			return err
		}
		pc = p
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pc = cfg.Pipeline
	}

	p, err := imageprocessor.New(pc)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EXTRACTOR\tOFFSET\tLENGTH")
	for _, s := range p.Layout() {
		fmt.Fprintf(w, "%s\t%d\t%d\n", s.Name, s.Offset, s.Len)
	}
	fmt.Fprintf(w, "total\t\t%d\n", p.Dim())
	if err := w.Flush(); err != nil {
		return err
	}
	if pc.Input.WorkWidth == 0 {
		fmt.Fprintln(out, "\nNo working size configured: the shape descriptor length depends on the image size.")
	} else {
		fmt.Fprintf(out, "\nWorking size %dx%d, fingerprint %s\n", pc.Input.WorkWidth, pc.Input.WorkHeight, shortFingerprint(p.Fingerprint()))
	}
	return nil
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
