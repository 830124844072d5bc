package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/glean/internal/api"
	"github.com/jackzampolin/glean/internal/scrape"
)

var scrapeFormat string

var scrapeCmd = &cobra.Command{
	Use:   "scrape <url>",
	Short: "Fetch a web page and print its visible text",
	Long: `Fetch a web page and print its visible text, or markdown with --format markdown.

Scripts and styles are dropped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv(os.Stderr)
		if err != nil {
			return err
		}
		format, err := scrape.ParseFormat(scrapeFormat)
		if err != nil {
			return err
		}

		s := scrape.New(scrape.Config{
			MaxBytes: e.config.Get().Server.MaxDownloadMB << 20,
			Logger:   e.logger,
		})
		page, err := s.Page(cmd.Context(), args[0], format)
		if err != nil {
			return err
		}
		return api.Output(page)
	},
}

func init() {
	scrapeCmd.Flags().StringVar(&scrapeFormat, "format", "text", "text or markdown")
	rootCmd.AddCommand(scrapeCmd)
}
