package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/glean/internal/app"
	"github.com/jackzampolin/glean/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the glean server",
	Long: `Start the glean HTTP server.

OCR engines are loaded once at startup. Edits to the config file are picked
up while running for LLM providers and refiner settings; engine changes
need a restart.

The server provides:
  - GET  /health       Basic server health check
  - GET  /ready        Readiness (engines loaded and refiner configured)
  - GET  /status       Engines, LLM providers and config in use
  - POST /api/extract  Extract text from an uploaded file or image_url
  - POST /api/scrape   Fetch a web page as text or markdown

Examples:
  glean serve                    # Start on the configured port (default 8080)
  glean serve --port 3000        # Start on custom port
  glean serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv(os.Stdout)
		if err != nil {
			return err
		}
		cfg := e.config.Get()

		host, port := cfg.Server.Host, cfg.Server.Port
		if cmd.Flags().Changed("host") {
			host = serveHost
		}
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		services, err := app.New(app.Options{ConfigManager: e.config, Home: e.home, Logger: e.logger})
		if err != nil {
			return err
		}

		srv, err := server.New(server.Config{
			Host:          host,
			Port:          port,
			Services:      services,
			ConfigManager: e.config,
			Logger:        e.logger,
		})
		if err != nil {
			services.Close()
			return err
		}
		e.config.WatchConfig()

		// Start server (blocks until shutdown)
		return srv.Start(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")

	rootCmd.AddCommand(serveCmd)
}
