// Package main implements photowatch, a service that watches a remote profile
// photo, records every content change and alerts the operator when it changes.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"photowatch/config"
)

// cli carries state shared by every command.
type cli struct {
	cfg     *config.Config
	cfgFile string
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"storage":      "storage.connection",
	"backend":      "storage.backend",
	"log-level":    "log_level",
	"notify":       "notify.provider",
	"addr":         "http.addr",
	"schedule":     "schedule_interval_seconds",
	"min-interval": "min_check_interval_seconds",
	"timezone":     "display_timezone",
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "photowatch",
		Short: "Watch a remote profile photo and record every change",
		Long: `photowatch fetches a remote image, fingerprints its content and records
each new state in an append-only history. The operator is alerted once per
new photo via WhatsApp (Twilio), Gmail or Brevo.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			v, err := config.InitViper(c.cfgFile)
			if err != nil {
				return err
			}
			for name, key := range flagKeys {
				if f := cmd.Flags().Lookup(name); f != nil {
					if err := v.BindPFlag(key, f); err != nil {
						return fmt.Errorf("bind flag %s: %w", name, err)
					}
				}
			}
			cfg, err := config.FromViper(v)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			c.cfg = cfg
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgFile, "config", "", "config file (default is ./photowatch.yaml or $HOME/photowatch.yaml)")
	pf.String("storage", "", "storage connection: directory, gs://bucket/prefix, sqlite://file.db or memory://")
	pf.String("backend", "", "storage backend: local, gcs, sqlite or memory (inferred from --storage)")
	pf.String("log-level", "info", "log level: debug, info, warn or error")
	pf.String("notify", config.ProviderMock, "notification provider: twilio, gmail, brevo, mock or none")
	pf.String("timezone", "America/Bogota", "time zone used to display timestamps")

	root.AddCommand(
		c.serveCmd(),
		c.checkCmd(),
		c.seedCmd(),
		c.registerCmd(),
		c.historyCmd(),
		c.accessCmd(),
		c.attemptsCmd(),
		c.compareCmd(),
		c.locateCmd(),
	)
	return root
}

// newLogger builds the process logger. Long-running services log JSON, the CLI logs text.
func newLogger(w io.Writer, level string, jsonFormat bool) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
