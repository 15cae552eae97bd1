package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kataday/internal/battery"
	"kataday/internal/clock"
	"kataday/internal/config"
	"kataday/internal/epd"
	"kataday/internal/input"
	"kataday/internal/kata"
	"kataday/internal/lifecycle"
	appLog "kataday/internal/log"
	"kataday/internal/model"
	"kataday/internal/store"
	"kataday/internal/upload"
)

type flagConfig struct {
	configPath string
	once       bool
	renderOnly bool
	dump       bool
}

func main() {
	appLog.Info("kataday starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("effective config",
		"timezone_offset", conf.TimezoneOffset,
		"wake_hour", conf.WakeHour,
		"cutoff_hour", conf.CutoffHour,
		"debounce_ms", conf.DebounceMs,
		"state_path", conf.StatePath,
		"recent_window", conf.RecentWindow,
		"battery_floor", conf.BatteryFloor,
		"once", flags.once,
		"render_only", flags.renderOnly,
	)

	clk, err := clock.NewSystemClock(conf.TimezoneOffset)
	if err != nil {
		appLog.Error("invalid timezone offset", err, "offset", conf.TimezoneOffset)
		os.Exit(1)
	}
	sched, err := clock.NewSchedule(conf.WakeHour, conf.CutoffHour, clk.Location())
	if err != nil {
		appLog.Error("invalid schedule", err)
		os.Exit(1)
	}

	selector, err := kata.NewSelector(conf.KataListPath)
	if err != nil {
		appLog.Error("failed to load kata list", err, "path", conf.KataListPath)
		os.Exit(1)
	}

	st := store.New(conf.StatePath)
	uploader := upload.New(conf.UploadURL)

	display := buildDisplay(conf, flags)
	in := buildInput(conf, flags)
	bat := battery.DefaultReader()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if flags.once {
		if err := runOnce(clk, st, selector, display); err != nil {
			appLog.Error("single-shot cycle failed", err)
			os.Exit(1)
		}
		appLog.Info("kataday exiting")
		return
	}

	ctl := lifecycle.New(clk, sched, st, in, display, selector, uploader, bat, lifecycle.Options{
		RecentWindow: conf.RecentWindow,
		BatteryFloor: conf.BatteryFloor,
	})

	err = ctl.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("lifecycle stopped", err)
		os.Exit(1)
	}

	// Leave the panel in deep sleep on the way out.
	if err := display.Sleep(); err != nil {
		appLog.Error("panel sleep on shutdown failed", err)
	}
	appLog.Info("kataday exiting")
}

// buildDisplay opens the SPI panel, or falls back to the no-hardware
// renderer when -render-only is set or the bus is absent. A missing panel
// degrades the display, never the day cycle.
func buildDisplay(conf *config.Config, flags flagConfig) lifecycle.Display {
	if flags.renderOnly {
		return newFileDisplay(flags.dump)
	}

	tp, err := epd.NewSPITransport(epd.SPIOpts{
		Port: conf.SPIPort,
		Hz:   conf.SPIHz,
		DC:   conf.Pins.DC,
		RST:  conf.Pins.RST,
		Busy: conf.Pins.Busy,
	})
	if err != nil {
		appLog.Warn("panel unavailable, rendering without hardware", "err", err)
		return newFileDisplay(flags.dump)
	}
	return newPanelDisplay(epd.New(tp))
}

// buildInput opens the confirmation button, or an inert input that only
// ever reaches the deadline when the GPIO is absent.
func buildInput(conf *config.Config, flags flagConfig) lifecycle.Input {
	if flags.renderOnly {
		return inertInput{}
	}
	pin, err := input.NewGPIOPin(conf.Pins.Button)
	if err != nil {
		appLog.Warn("button unavailable, confirmations disabled", "err", err, "pin", conf.Pins.Button)
		return inertInput{}
	}
	return input.NewHandler(pin, time.Duration(conf.DebounceMs)*time.Millisecond)
}

// runOnce performs a single morning render for today and exits: load or
// create today's record, draw it, leave the record open for the daemon run.
func runOnce(clk *clock.SystemClock, st *store.Store, sel *kata.Selector, disp lifecycle.Display) error {
	now := clk.Now()

	rec, err := st.Load()
	if err != nil {
		if !errors.Is(err, store.ErrCorrupt) {
			return err
		}
		appLog.Warn("persisted record corrupt, starting fresh day")
		rec = nil
	}
	if rec == nil || !rec.IsFor(now) {
		name, err := sel.Pick(nil)
		if err != nil {
			return err
		}
		rec = model.NewDailyRecord(now, name)
		if err := st.Save(rec); err != nil {
			return err
		}
		appLog.Info("new day", "date", rec.Date, "kata", name)
	}

	if err := disp.ShowDay(rec.KataName, rec.Confirmed); err != nil {
		return err
	}
	return disp.Sleep()
}

// inertInput satisfies the lifecycle input without hardware: it never
// confirms, only reaches the deadline.
type inertInput struct{}

func (inertInput) Arm()    {}
func (inertInput) Disarm() {}

func (inertInput) WaitForConfirmation(ctx context.Context, deadline time.Time) (time.Time, bool, error) {
	d := time.Until(deadline)
	if d <= 0 {
		return time.Time{}, false, nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return time.Time{}, false, nil
	case <-ctx.Done():
		return time.Time{}, false, ctx.Err()
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/kataday/config.yaml", "Path to config file")
	flag.BoolVar(&cfg.once, "once", false, "Run one render cycle for today and exit")
	flag.BoolVar(&cfg.renderOnly, "render-only", false, "Render only; do not touch display hardware")
	flag.BoolVar(&cfg.dump, "dump", false, "Dump debug artifacts (frame.bin, frame.png)")

	flag.Parse()

	return cfg
}
