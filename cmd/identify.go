package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"productfinder/server"
	"productfinder/signalhandler"
	"productfinder/types"
	"productfinder/utils"

	"github.com/spf13/cobra"
)

var (
	flagIdentifyImage   string
	flagIdentifyExclude string
	flagIdentifyK       int
	flagIdentifyJSON    bool
)

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Identify the product shown in a photo",
	RunE:  runIdentify,
}

func init() {
	identifyCmd.Flags().StringVar(&flagIdentifyImage, "image", "", "Photo to identify")
	identifyCmd.Flags().StringVar(&flagIdentifyExclude, "exclude", "", "Comma separated product ids to leave out")
	identifyCmd.Flags().IntVar(&flagIdentifyK, "k", 5, "Number of candidates to show")
	identifyCmd.Flags().BoolVar(&flagIdentifyJSON, "json", false, "Print the full result as JSON")
	_ = identifyCmd.MarkFlagRequired("image")
	rootCmd.AddCommand(identifyCmd)
}

func runIdentify(cmd *cobra.Command, args []string) error {
	exclude, err := utils.ParseIDList(flagIdentifyExclude)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(flagIdentifyImage)
	if err != nil {
		return fmt.Errorf("cannot read query image: %w", err)
	}

	ctx, stop := signalhandler.Context(cmd.Context())
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := a.matcher(flagIdentifyK, os.Stderr)
	if err != nil {
		return err
	}
	id, res, err := m.Identify(ctx, data, exclude)
	if err != nil {
		return fmt.Errorf("cannot identify %s: %w", flagIdentifyImage, err)
	}

	if flagIdentifyJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(server.IdentifyResponse{
			Success:        true,
			Identification: id,
			Analysis:       server.NewAnalysis(res),
		})
	}

	if id.Product != nil {
		printOK("match", fmt.Sprintf("%s (product %d, price %s)", id.Product.Name, id.Product.ID, id.Product.Price.StringFixed(2)))
	} else {
		printWarn("match", fmt.Sprintf("product %d (not found in catalog)", id.Best.ProductID))
	}
	if id.NoObject {
		printWarn("", "no object was segmented, matched on the whole frame")
	}
	printInfo("", fmt.Sprintf("quality %.2f, shape %s", id.Quality, res.Shape.Describe()))
	if len(exclude) > 0 {
		printInfo("", "excluded products: "+utils.FormatIDList(exclude))
	}

	fmt.Println()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tPRODUCT\tNAME\tENTRY\tDISTANCE\tKEY")
	names := map[int64]string{}
	for i, c := range id.Candidates {
		fmt.Fprintf(w, "%d\t%d\t%s\t%d\t%.4f\t%s\n", i+1, c.ProductID, productName(ctx, a, names, c), c.EntryID, c.Distance, c.StorageKey)
	}
	return w.Flush()
}

func productName(ctx context.Context, a *app, cache map[int64]string, m types.Match) string {
	if name, ok := cache[m.ProductID]; ok {
		return name
	}
	name := "-"
	if p, err := a.catalog.Product(ctx, m.ProductID); err == nil {
		name = p.Name
	}
	cache[m.ProductID] = name
	return name
}
