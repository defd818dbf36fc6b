package cmd

import (
	"errors"
	"fmt"
	"net/http"

	"productfinder/index"
	"productfinder/server"
	"productfinder/signalhandler"

	"github.com/spf13/cobra"
)

var flagServeAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the identification HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagServeAddr, "addr", "", "Listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalhandler.Context(cmd.Context())
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := a.matcher(0, nil)
	if err != nil {
		return err
	}
	if ix, err := m.Index(ctx); err != nil {
		if errors.Is(err, index.ErrCatalogEmpty) {
			printWarn("index", "catalog is empty, run 'productfinder scan' first")
		} else {
			printWarn("index", fmt.Sprintf("catalog index not ready: %v", err))
		}
	} else {
		printOK("index", fmt.Sprintf("%d entries, dim %d", ix.Len(), ix.Dim()))
	}

	addr := flagServeAddr
	if addr == "" {
		addr = a.cfg.Service.Addr
	}
	printInfo("server", "listening on "+addr)
	err = server.ListenAndServe(ctx, addr, server.NewHandler(m, a.blobs, a.catalog))
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
