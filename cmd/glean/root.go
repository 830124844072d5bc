package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/glean/internal/api"
	"github.com/jackzampolin/glean/internal/config"
	"github.com/jackzampolin/glean/internal/home"
	"github.com/jackzampolin/glean/version"

	// Registers the tesseract engine type.
	_ "github.com/jackzampolin/glean/internal/providers/tesseract"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "glean",
	Short: "Multi-engine OCR with LLM correction",
	Long: `Glean extracts text from images and PDFs.

Each image is binarized and denoised, read by every configured OCR engine
at once, and the labeled engine outputs are merged and corrected by an LLM.
When the LLM is unavailable the merged engine text is returned instead.

Engines:
  - tesseract    local libtesseract
  - deepinfra    remote vision OCR models (PaddleOCR by default)
  - mistral-ocr  Mistral document OCR`,
	Version:      version.GitRelease,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.glean/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "glean home directory (default: ~/.glean)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "text", "output format: text, yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "", "log level: debug, info, warn or error (default from config)",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}

// env is what commands that run extraction locally need.
type env struct {
	home   *home.Dir
	config *config.Manager
	logger *slog.Logger
}

// loadEnv resolves the home directory, loads configuration and builds a
// logger writing to w.
func loadEnv(w io.Writer) (*env, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	mgr, err := config.NewManager(cfgFile, h.Path())
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(mgr.Get().Log, logLevel, w)
	if err != nil {
		return nil, err
	}
	if f := mgr.ConfigFile(); f != "" {
		logger.Debug("loaded config", "file", f)
	}
	return &env{home: h, config: mgr, logger: logger}, nil
}

// newLogger builds the slog handler selected by cfg. A non-empty level
// overrides cfg.Level.
func newLogger(cfg config.LogCfg, level string, w io.Writer) (*slog.Logger, error) {
	if level == "" {
		level = cfg.Level
	}
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
}
