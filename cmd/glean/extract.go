package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/glean/internal/api"
	"github.com/jackzampolin/glean/internal/app"
	"github.com/jackzampolin/glean/internal/ingest"
)

var extractCmd = &cobra.Command{
	Use:   "extract <file|url>",
	Short: "Extract text from an image or PDF without a server",
	Long: `Extract text from an image or PDF in this process.

Engines and the refiner come from the config file. Logs go to stderr so the
text on stdout can be piped.

Examples:
  glean extract receipt.jpg
  glean extract https://example.com/scan.png -o json
  glean extract book.pdf > book.txt`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv(os.Stderr)
		if err != nil {
			return err
		}
		services, err := app.New(app.Options{ConfigManager: e.config, Home: e.home, Logger: e.logger})
		if err != nil {
			return err
		}
		defer services.Close()

		ctx := cmd.Context()
		target := args[0]
		var src *ingest.Source
		if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
			src, err = services.Ingester.Fetch(ctx, target)
		} else {
			src, err = services.Ingester.Open(target)
		}
		if err != nil {
			return err
		}

		ext, err := app.Extract(ctx, services, src, "")
		if err != nil {
			return err
		}
		if ext.Degraded && !api.IsStructuredOutput() {
			e.logger.Warn("text was not refined; showing merged engine output")
		}
		return api.Output(ext)
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
}
