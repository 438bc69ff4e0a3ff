package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "flarumimport.yaml"

// rootOptions carries persistent flags and the loaded config to subcommands
type rootOptions struct {
	configPath  string
	logLevel    string
	logFormat   string
	metricsAddr string

	cfg *Config
	log zerolog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "flarumimport",
		Short:         "Batch import of a Flarum forum into the discussion platform",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations["config"] == "none" {
				opts.log = newLogger(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat)
				return nil
			}
			return opts.load(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", envOr("CONFIG_PATH", defaultConfigPath), "path to YAML config")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	pf.StringVar(&opts.logFormat, "log-format", "", "log format: console, json (overrides config)")
	pf.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9102")

	cmd.AddCommand(
		newRunCmd(opts),
		newPhaseCmd(opts, "users", "Import users and avatars"),
		newPhaseCmd(opts, "categories", "Import tags as categories"),
		newPhaseCmd(opts, "posts", "Import discussions and replies"),
		newPhaseCmd(opts, "permalinks", "Create redirects from Flarum URLs"),
		newMigrateCmd(opts),
		newStatusCmd(opts),
		newReportCmd(opts),
		newInitConfigCmd(opts),
	)
	return cmd
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	explicit := cmd.Flags().Changed("config") || os.Getenv("CONFIG_PATH") != ""
	cfg, err := LoadConfig(o.configPath, explicit)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if o.metricsAddr != "" {
		cfg.Metrics.Addr = o.metricsAddr
	}

	o.cfg = cfg
	o.log = newLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	return nil
}

// newLogger builds the process logger: console on a terminal, JSON for collectors
func newLogger(w io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	out := w
	if format != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("service", "flarumimport").Logger()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
