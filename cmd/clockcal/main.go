package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"clockcal/internal/config"
	"clockcal/internal/engine"
	"clockcal/internal/ics"
	appLog "clockcal/internal/log"
	"clockcal/internal/loop"
	"clockcal/internal/model"
	"clockcal/internal/planner"
	"clockcal/internal/scheduler"
	"clockcal/internal/timezone"
	"clockcal/internal/watcher"
	"clockcal/internal/web"
)

var version = "dev"

type flags struct {
	ConfigPath string
	Listen     string
	LogLevel   string
	Once       bool
}

func main() {
	f := &flags{}

	app := &cli.Command{
		Name:    "clockcal",
		Usage:   "Serve calendar appointments for a rolling date range",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("CLOCKCAL_CONFIG"),
				Value:       "/etc/clockcal/config.yaml",
				Destination: &f.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "listen",
				Usage:       "HTTP listen address (overrides config)",
				Sources:     cli.EnvVars("CLOCKCAL_LISTEN"),
				Destination: &f.Listen,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error); overrides config",
				Sources:     cli.EnvVars("CLOCKCAL_LOG_LEVEL"),
				Destination: &f.LogLevel,
			},
			&cli.BoolFlag{
				Name:        "once",
				Usage:       "refresh calendars, print the appointments for the current range and exit",
				Destination: &f.Once,
			},
		},
		Action: func(ctx context.Context, _ *cli.Command) error {
			return run(ctx, f, os.Stdout)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := app.Run(ctx, os.Args)
	stop()
	if err != nil {
		appLog.Error("clockcal exited with error", err)
		os.Exit(1)
	}
}

// app holds the wired components. Everything except the watcher and the
// scheduler is owned by the loop.
type app struct {
	cfg     *config.Config
	loop    *loop.Loop
	watch   *watcher.Watcher
	tz      timezone.Timezone
	engine  *engine.ICSEngine
	planner *planner.RangePlanner
}

func run(ctx context.Context, f *flags, out io.Writer) error {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", f.ConfigPath, err)
	}
	if f.Listen != "" {
		cfg.Listen = f.Listen
	}
	level := cfg.LogLevel
	if f.LogLevel != "" {
		level = f.LogLevel
	}
	appLog.SetLevel(appLog.ParseLevel(level))

	appLog.Info("clockcal starting",
		"version", version,
		"listen", cfg.Listen,
		"timezone_file", cfg.TimezoneFile,
		"rebuild_delay", cfg.RebuildDelay(),
		"horizon_days", cfg.HorizonDays,
		"ics_count", len(cfg.ICS),
		"once", f.Once,
	)

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	l := loop.New()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = l.Run(loopCtx)
	}()

	a, err := wire(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer func() {
		a.shutdown()
		stopLoop()
		<-loopDone
		appLog.Info("clockcal exiting")
	}()

	if f.Once {
		return a.once(ctx, out)
	}
	return a.serve(ctx)
}

// wire builds the reactive graph on the loop.
func wire(ctx context.Context, cfg *config.Config, l *loop.Loop) (*app, error) {
	a := &app{cfg: cfg, loop: l}

	var watch watcher.Service
	if cfg.TimezoneFile != "" {
		w, err := watcher.New(watcher.Options{Dispatch: l, Debounce: cfg.WatchDebounce()})
		if err != nil {
			appLog.Warn("file watching unavailable; timezone changes need a restart", err)
		} else {
			a.watch = w
			watch = w
		}
	}

	sources := make([]ics.Source, 0, len(cfg.ICS))
	for _, c := range cfg.ICS {
		sources = append(sources, ics.Source{ID: c.SourceID(), URL: c.URL})
	}

	err := l.Call(ctx, func() {
		if cfg.TimezoneFile != "" {
			a.tz = timezone.NewFileTimezone(cfg.TimezoneFile, watch)
		} else {
			a.tz = timezone.NewStaticTimezone(cfg.Timezone)
		}
		tzProp := a.tz.Timezone()

		a.engine = engine.New(tzProp, engine.Options{
			Sources: sources,
			Fetcher: ics.NewFetcher(cfg.CacheDir),
			Post:    l,
		})
		a.planner = planner.NewRangePlanner(a.engine, tzProp, l, planner.Options{Delay: cfg.RebuildDelay()})
		a.planner.Range().Set(a.dayRange())
	})
	if err != nil {
		if a.watch != nil {
			_ = a.watch.Close()
		}
		return nil, fmt.Errorf("wire components: %w", err)
	}
	return a, nil
}

// location is the current timezone, or the configured fallback while the
// timezone file has not produced a value. Call on the loop.
func (a *app) location() *time.Location {
	name := a.tz.Timezone().Get()
	if name == "" {
		name = a.cfg.Timezone
	}
	return timezone.Location(name)
}

// dayRange is the configured horizon starting today. Call on the loop.
func (a *app) dayRange() model.DateRange {
	return planner.DayRange(time.Now(), a.cfg.HorizonDays, a.location())
}

func (a *app) rollover(ctx context.Context) error {
	return a.loop.Call(ctx, func() {
		r := a.dayRange()
		appLog.Info("rolling range over", "start", r.Start.Format(time.RFC3339), "end", r.End.Format(time.RFC3339))
		a.planner.Range().Set(r)
	})
}

func (a *app) serve(ctx context.Context) error {
	var loc *time.Location
	if err := a.loop.Call(ctx, func() { loc = a.location() }); err != nil {
		return err
	}

	sched, err := scheduler.New(scheduler.Spec{
		Refresh:  a.cfg.RefreshCron,
		Rollover: a.cfg.RolloverCron,
		Location: loc,
	}, scheduler.Jobs{
		Refresh:  a.engine.Refresh,
		Rollover: a.rollover,
	})
	if err != nil {
		return err
	}
	sched.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			appLog.Warn("scheduler did not stop cleanly", err)
		}
	}()

	go func() {
		if err := a.engine.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
			appLog.Warn("initial calendar refresh failed", err)
		}
	}()

	s := web.NewServer(a.cfg, a.loop, a.planner, a.tz)
	return web.StartServer(ctx, a.cfg, s)
}

// once refreshes the calendars, waits for the pending rebuild and prints the
// appointments of the current range.
func (a *app) once(ctx context.Context, out io.Writer) error {
	if err := a.engine.Refresh(ctx); err != nil {
		appLog.Warn("calendar refresh failed; printing what is available", err)
	}

	var (
		appts   []model.Appointment
		pending = true
	)
	for pending {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.cfg.RebuildDelay()):
		}
		err := a.loop.Call(ctx, func() {
			pending = a.planner.Pending()
			appts = a.planner.Appointments().Get()
		})
		if err != nil {
			return err
		}
	}

	for _, ap := range appts {
		when := ap.Start.Format("2006-01-02 15:04")
		if ap.AllDay {
			when = ap.Start.Format("2006-01-02") + " all-day"
		}
		if _, err := fmt.Fprintf(out, "%s  %s\n", when, ap.Summary); err != nil {
			return err
		}
	}
	return nil
}

// shutdown detaches the reactive graph on the loop and closes the watcher.
func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.loop.Call(ctx, func() {
		a.planner.Close()
		a.engine.Close()
		if c, ok := a.tz.(io.Closer); ok {
			if err := c.Close(); err != nil {
				appLog.Warn("failed to close timezone source", err)
			}
		}
	})
	if err != nil {
		appLog.Warn("loop unavailable during shutdown", err)
	}
	if a.watch != nil {
		if err := a.watch.Close(); err != nil {
			appLog.Warn("failed to close watcher", err)
		}
	}
}
