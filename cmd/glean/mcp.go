package main

import (
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/glean/internal/app"
	"github.com/jackzampolin/glean/internal/config"
	"github.com/jackzampolin/glean/internal/tools"
	"github.com/jackzampolin/glean/version"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve extraction tools over MCP (stdio)",
	Long: `Run an MCP server on stdin/stdout.

Tools:
  extract_text  text of an image or PDF given a file path or URL
  scrape_page   visible text or markdown of a web page

Logs go to stderr.`,
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

		e.config.OnChange(func(c *config.Config) { app.Reload(services, c) })
		e.config.WatchConfig()

		e.logger.Info("serving MCP on stdio", "engines", services.Pipeline.EngineNames())
		return server.ServeStdio(tools.NewServer(services, version.GitRelease))
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
