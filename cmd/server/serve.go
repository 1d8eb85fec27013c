package main

import (
	"github.com/spf13/cobra"

	"github.com/JustJay7/juvenile-rep-analytics/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.close()

	// The server closes the browser itself on shutdown.
	srv := server.New(a.cfg, a.db, a.data, a.browser, a.log)
	a.browser = nil

	a.log.Info("Starting juvenile representation analytics API",
		"host", a.cfg.Host,
		"port", a.cfg.Port,
		"data_dir", a.cfg.DataDir,
	)

	return srv.Run()
}
