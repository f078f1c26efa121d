package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haukened/ferry/internal/config"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	addr        string
	dataDir     string
	logLevel    string
	logFormat   string
	blobBackend string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "ferry",
		Short:         "Ferry shares short-lived text channels and files behind master keys",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithOverrides(opts.overrides(cmd))
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = newLogger(cfg, cmd.ErrOrStderr())
			slog.SetDefault(opts.logger)
			return nil
		},
	}
	cmd.Version = version

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.addr, "addr", "", "listen address (host:port)")
	flags.StringVar(&opts.dataDir, "data-dir", "", "directory holding the database and blobs")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	flags.StringVar(&opts.blobBackend, "blob-backend", "", "blob storage: filesystem or s3")

	serve := newServeCmd(opts)
	cmd.RunE = serve.RunE
	cmd.AddCommand(serve, newSweepCmd(opts), newKeysCmd(opts))
	return cmd
}

// overrides returns the explicitly set flags keyed by their config names.
func (o *rootOptions) overrides(cmd *cobra.Command) map[string]any {
	out := map[string]any{}
	set := func(flag, key, val string) {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			out[key] = val
		}
	}
	set("addr", "addr", o.addr)
	set("data-dir", "data_dir", o.dataDir)
	set("log-level", "log_level", o.logLevel)
	set("log-format", "log_format", o.logFormat)
	set("blob-backend", "blob_backend", o.blobBackend)
	return out
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}
