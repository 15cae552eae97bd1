// Package lifecycle is the daily state machine that owns the process: wake
// at the morning hour, show the day's kata, hold the confirmation window
// open, finalize at the evening cutoff, hand the closed record to the
// uploader and sleep until the next morning.
//
// All collaborators are injected interfaces so transitions are testable in
// isolation with fake time, input and storage. The current DailyRecord is a
// single owned value passed through the transition methods, never ambient
// state.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"kataday/internal/battery"
	"kataday/internal/clock"
	appLog "kataday/internal/log"
	"kataday/internal/model"
	"kataday/internal/store"
)

// State of the daily cycle.
type State int

const (
	Sleeping State = iota
	WakingMorning
	DisplayingKata
	AwaitingConfirmation
	Finalizing
)

func (s State) String() string {
	switch s {
	case Sleeping:
		return "sleeping"
	case WakingMorning:
		return "waking_morning"
	case DisplayingKata:
		return "displaying_kata"
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	case Finalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Clock is the time source collaborator.
type Clock interface {
	Now() time.Time
	WaitUntil(ctx context.Context, t time.Time) error
	Check() error
}

// Scheduler computes the daily wake and cutoff times.
type Scheduler interface {
	NextWake(t time.Time) time.Time
	CutoffFor(t time.Time) time.Time
}

// Store persists the current day record.
type Store interface {
	Load() (*model.DailyRecord, error)
	Save(*model.DailyRecord) error
}

// Input is the armed confirmation button.
type Input interface {
	Arm()
	Disarm()
	// WaitForConfirmation resolves with a confirmation time, or ok=false
	// when the deadline passed first (exclusive cutoff; deadline wins
	// ties).
	WaitForConfirmation(ctx context.Context, deadline time.Time) (time.Time, bool, error)
}

// Display renders the day screen and puts the panel to sleep. A failed
// render must surface an error; the controller logs it and proceeds
// without the display rather than retrying, since a stuck bus will not
// resolve itself and retries waste battery.
type Display interface {
	ShowDay(kataName string, confirmed bool) error
	Sleep() error
}

// Selector picks the day's kata name.
type Selector interface {
	Pick(excludeRecent []string) (string, error)
}

// Uploader receives finalized records, fire-and-forget.
type Uploader interface {
	Submit(rec model.DailyRecord)
}

// Battery reports charge state; see Options.BatteryFloor.
type Battery interface {
	Read(ctx context.Context) (battery.Status, error)
}

// Options tune the controller.
type Options struct {
	// RecentWindow is how many past kata names are excluded when picking.
	RecentWindow int
	// BatteryFloor skips the morning render below this charge percentage.
	// 0 disables the check.
	BatteryFloor int
	// ClockRetry is the wait between ClockUnavailable re-checks.
	ClockRetry time.Duration
}

// Controller runs the daily cycle.
type Controller struct {
	clock    Clock
	sched    Scheduler
	store    Store
	input    Input
	display  Display
	selector Selector
	uploader Uploader
	battery  Battery
	opts     Options

	recent  []string
	pending clock.Event
}

// New wires a controller. battery may be nil when no gauge is present.
func New(clk Clock, sched Scheduler, st Store, in Input, disp Display, sel Selector, up Uploader, bat Battery, opts Options) *Controller {
	if opts.ClockRetry <= 0 {
		opts.ClockRetry = 30 * time.Second
	}
	return &Controller{
		clock:    clk,
		sched:    sched,
		store:    st,
		input:    in,
		display:  disp,
		selector: sel,
		uploader: up,
		battery:  bat,
		opts:     opts,
	}
}

// Run executes the daily cycle until ctx is canceled. The cycle has no
// other terminal state while powered.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.waitClockSync(ctx); err != nil {
		return err
	}

	st, rec := c.resume()
	appLog.Info("lifecycle: starting", "state", st, "has_record", rec != nil)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		switch st {
		case Sleeping:
			st, err = c.sleepUntilMorning(ctx)
		case WakingMorning:
			st, rec = c.wakeMorning(ctx)
		case DisplayingKata:
			st = c.displayKata(ctx, rec)
		case AwaitingConfirmation:
			st, err = c.awaitConfirmation(ctx, rec)
		case Finalizing:
			st = c.finalize(rec)
			rec = nil
		}
		if err != nil {
			return err
		}
	}
}

// resume derives the boot state from the persisted record and the current
// time. A record for today is resumed without re-selecting or re-rendering;
// a corrupt record forces a fresh day, never a confirmation guess.
func (c *Controller) resume() (State, *model.DailyRecord) {
	rec, err := c.store.Load()
	if err != nil {
		if errors.Is(err, store.ErrCorrupt) {
			appLog.Warn("lifecycle: persisted record corrupt, starting fresh day")
		} else {
			appLog.Error("lifecycle: load record failed", err)
		}
		rec = nil
	}

	now := c.clock.Now()
	if rec == nil || !rec.IsFor(now) {
		return WakingMorning, nil
	}

	c.remember(rec.KataName)

	if rec.Closed {
		return Sleeping, rec
	}
	if now.Before(c.sched.CutoffFor(now)) {
		return AwaitingConfirmation, rec
	}
	return Finalizing, rec
}

func (c *Controller) sleepUntilMorning(ctx context.Context) (State, error) {
	next := c.sched.NextWake(c.clock.Now())
	c.setPending(clock.Event{Kind: clock.MorningWake, At: next})
	if err := c.clock.WaitUntil(ctx, next); err != nil {
		return Sleeping, err
	}
	return WakingMorning, nil
}

// wakeMorning selects a new kata, creates and persists the fresh record.
func (c *Controller) wakeMorning(ctx context.Context) (State, *model.DailyRecord) {
	now := c.clock.Now()

	name, err := c.selector.Pick(c.recent)
	if err != nil {
		appLog.Error("lifecycle: kata selection failed", err)
		name = "kata"
	}
	rec := model.NewDailyRecord(now, name)
	if err := c.store.Save(rec); err != nil {
		appLog.Error("lifecycle: persist new record failed", err, "date", rec.Date)
	}
	c.remember(name)

	appLog.Info("lifecycle: new day", "date", rec.Date, "kata", name)
	return DisplayingKata, rec
}

// displayKata pushes the full-refresh frame. A DriverFault degrades: the
// day's logic continues with a stale or blank screen until the next
// scheduled render attempt.
func (c *Controller) displayKata(ctx context.Context, rec *model.DailyRecord) State {
	if c.renderBudgetOK(ctx) {
		if err := c.display.ShowDay(rec.KataName, rec.Confirmed); err != nil {
			appLog.Error("lifecycle: render failed, continuing without display", err, "date", rec.Date)
		}
	}
	return AwaitingConfirmation
}

// renderBudgetOK applies the battery floor to the morning render.
func (c *Controller) renderBudgetOK(ctx context.Context) bool {
	if c.battery == nil {
		return true
	}
	st, err := c.battery.Read(ctx)
	if err != nil {
		appLog.Warn("lifecycle: battery read failed", "err", err)
		return true
	}
	appLog.Info("lifecycle: battery", "percent", st.Percent, "voltage_mv", st.VoltageMv)
	if c.opts.BatteryFloor > 0 && st.Percent < c.opts.BatteryFloor {
		appLog.Warn("lifecycle: battery below floor, skipping render",
			"percent", st.Percent, "floor", c.opts.BatteryFloor)
		return false
	}
	return true
}

// awaitConfirmation arms the button and holds the window open until the
// evening cutoff. The first confirmation mutates and persists the record
// and redraws the indicator with a partial refresh; further edges are
// no-ops but the wait continues until the cutoff.
func (c *Controller) awaitConfirmation(ctx context.Context, rec *model.DailyRecord) (State, error) {
	cutoff := c.sched.CutoffFor(c.clock.Now())
	c.setPending(clock.Event{Kind: clock.ConfirmationDeadlineCheck, At: cutoff})

	c.input.Arm()
	defer c.input.Disarm()

	for {
		at, ok, err := c.input.WaitForConfirmation(ctx, cutoff)
		if err != nil {
			return AwaitingConfirmation, err
		}
		if !ok {
			return Finalizing, nil
		}
		if rec.Confirmed {
			// Already confirmed today; spurious edge.
			continue
		}

		t := at
		rec.Confirmed = true
		rec.ConfirmedAt = &t
		if err := c.store.Save(rec); err != nil {
			appLog.Error("lifecycle: persist confirmation failed", err, "date", rec.Date)
		}
		appLog.Info("lifecycle: kata confirmed", "date", rec.Date, "at", t.Format(time.RFC3339))

		if err := c.display.ShowDay(rec.KataName, true); err != nil {
			appLog.Error("lifecycle: indicator render failed", err, "date", rec.Date)
		}

		// Confirmation is terminal for the record; the remaining wait
		// only exists to reach the finalize time.
		c.setPending(clock.Event{Kind: clock.EveningFinalize, At: cutoff})
	}
}

// finalize closes the record, hands it to the uploader and puts the panel
// into its own deep sleep. Uploader failure never blocks sleep.
func (c *Controller) finalize(rec *model.DailyRecord) State {
	if rec == nil {
		return Sleeping
	}

	rec.Closed = true
	if err := c.store.Save(rec); err != nil {
		appLog.Error("lifecycle: persist closed record failed", err, "date", rec.Date)
	}
	c.uploader.Submit(*rec)
	appLog.Info("lifecycle: day finalized", "date", rec.Date, "confirmed", rec.Confirmed)

	if err := c.display.Sleep(); err != nil {
		appLog.Error("lifecycle: panel sleep failed", err)
	}
	return Sleeping
}

// waitClockSync defers all scheduling until the time source is
// synchronized. ClockUnavailable does not crash the state machine.
func (c *Controller) waitClockSync(ctx context.Context) error {
	for {
		err := c.clock.Check()
		if err == nil {
			return nil
		}
		if !errors.Is(err, clock.ErrClockUnavailable) {
			return err
		}
		appLog.Warn("lifecycle: clock not synchronized, deferring schedule",
			"retry", c.opts.ClockRetry)
		if err := c.clock.WaitUntil(ctx, c.clock.Now().Add(c.opts.ClockRetry)); err != nil {
			return err
		}
	}
}

// remember records a shown name in the recent-exclusion window.
func (c *Controller) remember(name string) {
	if name == "" {
		return
	}
	c.recent = append(c.recent, name)
	if w := c.opts.RecentWindow; w > 0 && len(c.recent) > w {
		c.recent = c.recent[len(c.recent)-w:]
	}
}

// setPending records the single pending schedule event.
func (c *Controller) setPending(ev clock.Event) {
	c.pending = ev
	appLog.Debug("lifecycle: next event", "kind", ev.Kind, "at", ev.At.Format(time.RFC3339))
}

// Pending returns the currently pending schedule event.
func (c *Controller) Pending() clock.Event {
	return c.pending
}
