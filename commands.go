package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"photowatch/change"
	"photowatch/geo"
	"photowatch/notify"
	"photowatch/pkg/photowatch"
	"photowatch/poll"
	"photowatch/scraper"
	"photowatch/server"
)

func (c *cli) open(cmd *cobra.Command, jsonLogs bool) (*app, error) {
	logger := newLogger(cmd.ErrOrStderr(), c.cfg.LogLevel, jsonLogs)
	if c.cfg.StorageDegraded {
		logger.Warn("No storage connection configured, history will not be saved")
	}
	return newApp(cmd.Context(), c.cfg, logger)
}

// resultErr turns failed outcomes into a non-zero exit.
func resultErr(res poll.Result) error {
	switch res.Status {
	case poll.StatusFetchFailed, poll.StatusPersistFailed, poll.StatusInvalidURL:
		return fmt.Errorf("%s: %s", res.Status, res.Message)
	default:
		return nil
	}
}

func (c *cli) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := c.open(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if interval := a.cfg.ScheduleInterval; interval > 0 {
				go func() {
					if err := a.sched.Run(ctx, interval); err != nil && !errors.Is(err, context.Canceled) {
						a.logger.Error("Scheduler stopped", "error", err)
					}
				}()
			}

			srv := server.New(&server.Config{
				Scheduler: a.sched,
				History:   a.store,
				Locator:   a.locator,
				Logger:    a.logger,
				RateLimit: a.cfg.RateLimit,
				RateBurst: a.cfg.RateBurst,
				Degraded:  a.degraded,

				// A /pollz may resolve the page, fetch the photo and then notify.
				WriteTimeout: 2*a.cfg.FetchTimeout + notify.ClientTimeout + 10*time.Second,
			})
			return srv.ListenAndServe(ctx, a.cfg.HTTPAddr)
		},
	}
	cmd.Flags().String("addr", ":8080", "HTTP listen address")
	cmd.Flags().Int("schedule", 0, "seconds between background checks (0 disables)")
	cmd.Flags().Int("min-interval", 600, "minimum seconds between two checks")
	return cmd
}

func (c *cli) checkCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check the watched photo once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.sched.Trigger(cmd.Context())
			if asJSON {
				err = writeJSON(cmd.OutOrStdout(), res)
			} else {
				err = writeResult(cmd.OutOrStdout(), res)
			}
			if err != nil {
				return err
			}
			return resultErr(res)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func (c *cli) seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Write the configured bootstrap record if the history is empty",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.sched.Seed(cmd.Context())
			if err := writeResult(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			return resultErr(res)
		},
	}
}

func (c *cli) registerCmd() *cobra.Command {
	var lat, lon, acc float64
	cmd := &cobra.Command{
		Use:   "register <photo-url>",
		Short: "Record a photo URL by hand",
		Long: `Record a photo URL by hand. The content is fetched and fingerprinted;
if it cannot be fetched the URL itself is fingerprinted. No alert is sent.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			var loc *photowatch.GeoReading
			flags := cmd.Flags()
			switch {
			case flags.Changed("lat") && flags.Changed("lon"):
				loc = &photowatch.GeoReading{Latitude: lat, Longitude: lon, Source: "manual"}
				if flags.Changed("acc") {
					loc.AccuracyMeters = &acc
				}
				if err := geo.Validate(loc); err != nil {
					return err
				}
			case flags.Changed("lat") || flags.Changed("lon"):
				return errors.New("--lat and --lon must be given together")
			case a.locator != nil:
				if loc, err = a.locator.Locate(cmd.Context()); err != nil {
					a.logger.Info("No location for registration", "error", err)
				}
			}

			res := a.sched.Register(cmd.Context(), args[0], loc)
			if err := writeResult(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			return resultErr(res)
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude of the registration")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude of the registration")
	cmd.Flags().Float64Var(&acc, "acc", 0, "accuracy in meters")
	return cmd
}

func (c *cli) historyCmd() *cobra.Command {
	var (
		asJSON bool
		asc    bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded photos, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.store.History(cmd.Context())
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}
			if !asc {
				slices.Reverse(list)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			return writeHistory(cmd.OutOrStdout(), list, a.cfg.Location())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	cmd.Flags().BoolVar(&asc, "asc", false, "oldest first")
	return cmd
}

func (c *cli) accessCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "access",
		Short: "List access events, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			events, err := a.store.AccessEvents(cmd.Context(), true)
			if err != nil {
				return fmt.Errorf("load access events: %w", err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), events)
			}
			return writeAccess(cmd.OutOrStdout(), events, a.cfg.Location())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func (c *cli) attemptsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "List recent check attempts, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.open(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			attempts, err := a.store.Attempts(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("load attempts: %w", err)
			}
			return writeAttempts(cmd.OutOrStdout(), attempts, a.cfg.Location())
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum attempts to show (0 for all)")
	return cmd
}

func (c *cli) compareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare <old-url> <new-url>",
		Short: "Compare two photo URLs by content and query parameters",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cmd.ErrOrStderr(), c.cfg.LogLevel, false)
			f := scraper.New(nil, logger)
			out := cmd.OutOrStdout()

			fps := make([]string, len(args))
			for i, u := range args {
				content, err := f.Fetch(cmd.Context(), u)
				if err != nil {
					fps[i] = change.FingerprintURL(u)
					fmt.Fprintf(out, "%s\n  unreachable (%v), URL hash %s\n", u, err, shortHash(fps[i]))
					continue
				}
				fps[i] = change.Fingerprint(content)
				desc := fmt.Sprintf("%d bytes", len(content))
				if info, err := scraper.Inspect(content); err == nil {
					desc = fmt.Sprintf("%s %dx%d, %s", info.Format, info.Width, info.Height, desc)
				}
				fmt.Fprintf(out, "%s\n  %s, hash %s\n", u, desc, shortHash(fps[i]))
			}

			if change.HasChanged(fps[1], fps[0]) {
				fmt.Fprintln(out, "Content: different")
			} else {
				fmt.Fprintln(out, "Content: identical")
			}
			return writeDiffs(out, scraper.DiffQuery(args[0], args[1]))
		},
	}
}

func (c *cli) locateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "locate",
		Short: "Resolve the current location from the configured providers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(cmd.ErrOrStderr(), c.cfg.LogLevel, false)
			loc := newLocator(c.cfg.Geo, logger)
			if loc == nil {
				return errors.New("no location provider configured (geo.static, geo.google_api_key or geo.ip_lookup)")
			}
			r, err := loc.Locate(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", formatReading(r), r.Source)
			return err
		},
	}
}
