package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/glean/internal/api"
	"github.com/jackzampolin/glean/internal/config"
	"github.com/jackzampolin/glean/internal/home"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file",
	Long: `Write the default configuration to --config, or to config.yaml in the
glean home directory.

API keys are written as ${ENV_VAR} references and resolved at load time,
from the environment or a .env file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			h, err := home.New(homeDir)
			if err != nil {
				return err
			}
			path = h.ConfigPath()
		}
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv(os.Stderr)
		if err != nil {
			return err
		}
		if f := e.config.ConfigFile(); f != "" && !api.IsStructuredOutput() {
			fmt.Printf("# %s\n", f)
		}
		return api.Output(e.config.Get())
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
