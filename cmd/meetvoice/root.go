package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/meetvoice/internal/config"
)

// defaultConfigPath is read when --config is not given. A missing default
// file is not an error; the built-in defaults apply.
const defaultConfigPath = "config.yaml"

// rootOptions holds the persistent flags and the state derived from them
// before any subcommand runs.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string

	// level backs the process logger so that a config reload can change it.
	level *slog.LevelVar

	cfg *config.Config

	// fromFile reports whether cfg was read from configPath.
	fromFile bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{level: new(slog.LevelVar)}

	cmd := &cobra.Command{
		Use:   "meetvoice",
		Short: "Voice-driven meeting scheduling",
		Long: `meetvoice turns a spoken note about a meeting into a scheduled meeting.

A recording is transcribed, the contact and meeting details are extracted
(remote LLM with a local fallback), the user confirms or edits the record,
and the meeting is committed to the contact registry.

COMMON WORKFLOWS:
  Run the service:       meetvoice serve --config config.yaml
  Try extraction:        meetvoice extract "book Phil tomorrow at 2pm"
  Transcribe a file:     meetvoice transcribe note.wav
  Capture a microphone:  meetvoice record --out note.wav`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			return opts.setup(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "path to the YAML configuration file")
	pf.StringVar(&opts.logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")
	pf.StringVar(&opts.logFormat, "log-format", "text", "log output format (text or json)")

	cmd.AddCommand(
		newServeCmd(opts),
		newExtractCmd(opts),
		newTranscribeCmd(opts),
		newRecordCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// setup loads the configuration and installs the process logger.
func (o *rootOptions) setup(cmd *cobra.Command) error {
	cfg, fromFile, err := loadConfig(o.configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		l := config.LogLevel(o.logLevel)
		if !l.IsValid() {
			return fmt.Errorf("invalid --log-level %q", o.logLevel)
		}
		cfg.Server.LogLevel = l
	}
	o.level.Set(cfg.Server.LogLevel.SlogLevel())

	logger, err := newLogger(cmd.ErrOrStderr(), o.logFormat, o.level)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if !fromFile {
		slog.Info("config file not found, using defaults", "path", o.configPath)
	}
	o.cfg, o.fromFile = cfg, fromFile
	return nil
}

// loadConfig reads path. When the path was not given explicitly and the
// file does not exist, the defaults are returned instead.
func loadConfig(path string, explicit bool) (*config.Config, bool, error) {
	cfg, err := config.Load(path)
	switch {
	case err == nil:
		return cfg, true, nil
	case errors.Is(err, os.ErrNotExist) && !explicit:
		return config.Default(), false, nil
	case errors.Is(err, os.ErrNotExist):
		return nil, false, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", path)
	}
	return nil, false, err
}

// newLogger builds the process logger writing to w.
func newLogger(w io.Writer, format string, level slog.Leveler) (*slog.Logger, error) {
	hopts := &slog.HandlerOptions{Level: level}
	switch format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	}
	return nil, fmt.Errorf("invalid --log-format %q (want text or json)", format)
}
