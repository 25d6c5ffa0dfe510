package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"transhipment-watch/internal/config"
	"transhipment-watch/internal/logging"
	"transhipment-watch/internal/metrics"
	"transhipment-watch/watch"
)

// Exit statuses of check. Configuration errors exit 2 for every command.
const (
	exitConfirmed  = 1
	exitConfig     = 2
	exitTickFailed = 3
)

// exitError carries a process exit status and an optional cause to print.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	err := newRootCmd().Execute()
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			_, _ = fmt.Fprintln(os.Stderr, ee.err)
		}
		os.Exit(ee.code)
	}
	_, _ = fmt.Fprintln(os.Stderr, err)
	if errors.Is(err, watch.ErrConfiguration) {
		os.Exit(exitConfig)
	}
	os.Exit(1)
}

type rootOptions struct {
	configPath string
}

// flagKeys maps command-line flags onto config keys. Only flags the user
// set are applied, so file and environment values survive otherwise.
var flagKeys = map[string]string{
	"db":           "db",
	"log-level":    "log_level",
	"log-format":   "log_format",
	"no-notify":    "no_notify",
	"interval":     "interval",
	"lookback":     "lookback",
	"timeout":      "timeout",
	"metrics-addr": "metrics_addr",
	"ports-file":   "ports_file",
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "transhipment-watch",
		Short:         "Detect ship-to-ship transfers in AIS position reports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "YAML config file path")
	pf.String("db", "", "SQLite database path")
	pf.String("log-level", "", "log level: trace|debug|info|warn|error")
	pf.String("log-format", "", "log format: json|console")
	pf.String("ports-file", "", "YAML port list replacing the built-in ports")

	root.AddCommand(newCheckCmd(opts))
	root.AddCommand(newMonitorCmd(opts))
	root.AddCommand(newHistoryCmd(opts))
	root.AddCommand(newDetectCmd(opts))
	root.AddCommand(newIngestCmd(opts))
	return root
}

type app struct {
	cfg   *config.Config
	store *watch.SQLStore
}

func (a *app) Close() error { return a.store.Close() }

// loadApp resolves the configuration and opens the database. Read-only
// commands skip schema migration.
func loadApp(cmd *cobra.Command, opts *rootOptions, readOnly bool) (*app, error) {
	overrides := map[string]any{}
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		overrides[key] = f.Value.String()
	}

	cfg, err := config.Load(config.LoadOptions{Path: opts.configPath, Overrides: overrides})
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.Logging())

	open := watch.OpenDB
	if readOnly {
		open = watch.OpenQueryDB
	}
	db, err := open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", cfg.DB, err)
	}
	return &app{cfg: cfg, store: watch.NewSQLStore(db, cfg.Region())}, nil
}

func (a *app) newRunner() (*watch.Runner, error) {
	rc, err := a.cfg.Runner()
	if err != nil {
		return nil, err
	}
	return watch.NewRunner(rc, a.store, a.store, a.cfg.Notifier())
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one detection tick; exit 1 when a confirmed encounter is found",
		Long: `Run one detection tick over the lookback window.

Exit status: 0 nothing confirmed (or no signals in the window), 1 confirmed
encounter found, 2 configuration error, 3 the tick failed (database or
notification error).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd, opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			runner, err := a.newRunner()
			if err != nil {
				return err
			}
			res, err := runner.RunOnce(cmd.Context())
			if err == nil {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "confirmed=%d candidate=%d rejected=%d fresh=%d suppressed=%d retried=%d\n",
					res.Confirmed, res.Candidate, res.Rejected, res.Fresh, res.Suppressed, res.Retried)
			}
			return checkOutcome(cmd.OutOrStdout(), res, err)
		},
	}
	cmd.Flags().Bool("no-notify", false, "detect and record only; alerts are logged, not delivered")
	cmd.Flags().Duration("lookback", 0, "query window ending now (default 60m)")
	cmd.Flags().Duration("timeout", 0, "overall timeout for the tick (e.g. 30s, 2m)")
	return cmd
}

func newMonitorCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run detection on a fixed interval until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd, opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			runner, err := a.newRunner()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			handler := &sutureslog.Handler{Logger: logging.NewSlogLogger()}
			sup := suture.New("transhipment-watch", suture.Spec{
				EventHook: handler.MustHook(),
				Timeout:   a.cfg.Timeout + 10*time.Second,
			})
			sup.Add(runner)
			if a.cfg.MetricsAddr != "" {
				sup.Add(&metrics.Server{Addr: a.cfg.MetricsAddr})
			}

			logging.Info().
				Str("db", a.cfg.DB).
				Dur("interval", a.cfg.Interval).
				Dur("lookback", a.cfg.Lookback).
				Str("metrics_addr", a.cfg.MetricsAddr).
				Msg("monitor started")

			err = sup.Serve(ctx)
			logging.Info().Msg("monitor stopped")
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().Bool("no-notify", false, "detect and record only; alerts are logged, not delivered")
	cmd.Flags().Duration("interval", 0, "time between ticks (default 5m)")
	cmd.Flags().Duration("lookback", 0, "query window ending at each tick (default 60m)")
	cmd.Flags().Duration("timeout", 0, "timeout for one tick")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9464)")
	return cmd
}

func newDetectCmd(opts *rootOptions) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Classify encounters over an explicit window and print them as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, err := parseWindowTime(from)
			if err != nil {
				return fmt.Errorf("%w: --from: %v", watch.ErrConfiguration, err)
			}
			end := time.Now().UTC()
			if strings.TrimSpace(to) != "" {
				end, err = parseWindowTime(to)
				if err != nil {
					return fmt.Errorf("%w: --to: %v", watch.ErrConfiguration, err)
				}
			}

			a, err := loadApp(cmd, opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			det, err := a.cfg.Detection()
			if err != nil {
				return err
			}
			ctx := logging.ContextWithNewCorrelationID(cmd.Context())
			res, err := watch.DetectWindow(ctx, a.store, start, end, det)
			if err != nil {
				return err
			}
			for _, skipErr := range res.Skipped {
				logging.Ctx(ctx).Debug().Err(skipErr).Msg("skipped")
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start. Formats: RFC3339 or '2006-01-02 15:04:05' (UTC)")
	cmd.Flags().StringVar(&to, "to", "", "window end (default now)")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <signals.json>",
		Short: "Load a JSON array of position reports into the signal table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var signals []watch.Signal
			if err := json.Unmarshal(b, &signals); err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}

			a, err := loadApp(cmd, opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			valid := signals[:0]
			var invalid int
			for _, s := range signals {
				if err := s.Validate(); err != nil {
					invalid++
					logging.Debug().Err(err).Int64("mmsi", s.VesselID).Msg("invalid signal dropped")
					continue
				}
				valid = append(valid, s)
			}
			if err := a.store.InsertSignals(cmd.Context(), valid); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ingested %d signals (%d invalid)\n", len(valid), invalid)
			return nil
		},
	}
}

// parseWindowTime accepts RFC3339 or a bare timestamp, read as UTC.
func parseWindowTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if tm, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return tm.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}

// checkOutcome maps one tick onto the check exit status. An empty window is
// not a failure: the feed may simply be quiet.
func checkOutcome(w io.Writer, res watch.TickResult, err error) error {
	switch {
	case err == nil && res.Confirmed > 0:
		return &exitError{code: exitConfirmed}
	case err == nil:
		return nil
	case errors.Is(err, watch.ErrDataUnavailable):
		_, _ = fmt.Fprintln(w, "no signal data in window")
		return nil
	case errors.Is(err, watch.ErrConfiguration):
		return err
	default:
		return &exitError{code: exitTickFailed, err: err}
	}
}
