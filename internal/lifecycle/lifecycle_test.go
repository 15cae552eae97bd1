package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"kataday/internal/battery"
	"kataday/internal/clock"
	"kataday/internal/model"
	"kataday/internal/store"
)

type fakeClock struct {
	now       time.Time
	checkErrs []error
	waits     []time.Time
	// failAfter makes WaitUntil return context.Canceled once this many
	// waits have happened, terminating a Run loop under test.
	failAfter int
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) WaitUntil(ctx context.Context, t time.Time) error {
	c.waits = append(c.waits, t)
	if c.failAfter > 0 && len(c.waits) >= c.failAfter {
		return context.Canceled
	}
	if t.After(c.now) {
		c.now = t
	}
	return nil
}

func (c *fakeClock) Check() error {
	if len(c.checkErrs) == 0 {
		return nil
	}
	err := c.checkErrs[0]
	c.checkErrs = c.checkErrs[1:]
	return err
}

type fakeStore struct {
	rec     *model.DailyRecord
	loadErr error
	saveErr error
	saves   int
}

func (s *fakeStore) Load() (*model.DailyRecord, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.rec == nil {
		return nil, nil
	}
	cp := *s.rec
	return &cp, nil
}

func (s *fakeStore) Save(rec *model.DailyRecord) error {
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	cp := *rec
	s.rec = &cp
	return nil
}

type waitResult struct {
	at  time.Time
	ok  bool
	err error
}

type fakeInput struct {
	armed   int
	disarms int
	script  []waitResult
}

func (in *fakeInput) Arm()    { in.armed++ }
func (in *fakeInput) Disarm() { in.disarms++ }

func (in *fakeInput) WaitForConfirmation(ctx context.Context, deadline time.Time) (time.Time, bool, error) {
	if len(in.script) == 0 {
		return time.Time{}, false, nil
	}
	r := in.script[0]
	in.script = in.script[1:]
	return r.at, r.ok, r.err
}

type showCall struct {
	name      string
	confirmed bool
}

type fakeDisplay struct {
	shows   []showCall
	showErr error
	slept   int
}

func (d *fakeDisplay) ShowDay(name string, confirmed bool) error {
	d.shows = append(d.shows, showCall{name, confirmed})
	return d.showErr
}

func (d *fakeDisplay) Sleep() error {
	d.slept++
	return nil
}

type fakeSelector struct {
	names    []string
	excludes [][]string
}

func (s *fakeSelector) Pick(exclude []string) (string, error) {
	s.excludes = append(s.excludes, append([]string(nil), exclude...))
	if len(s.names) == 0 {
		return "Heian Shodan", nil
	}
	name := s.names[0]
	if len(s.names) > 1 {
		s.names = s.names[1:]
	}
	return name, nil
}

type fakeUploader struct {
	submitted []model.DailyRecord
}

func (u *fakeUploader) Submit(rec model.DailyRecord) {
	u.submitted = append(u.submitted, rec)
}

type fakeBattery struct {
	status battery.Status
	err    error
}

func (b *fakeBattery) Read(ctx context.Context) (battery.Status, error) {
	return b.status, b.err
}

type harness struct {
	clk   *fakeClock
	sched *clock.Schedule
	store *fakeStore
	input *fakeInput
	disp  *fakeDisplay
	sel   *fakeSelector
	up    *fakeUploader
	bat   *fakeBattery
	ctl   *Controller
}

func newHarness(t *testing.T, now time.Time, opts Options) *harness {
	t.Helper()
	sched, err := clock.NewSchedule(7, 23, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		clk:   &fakeClock{now: now},
		sched: sched,
		store: &fakeStore{},
		input: &fakeInput{},
		disp:  &fakeDisplay{},
		sel:   &fakeSelector{},
		up:    &fakeUploader{},
		bat:   &fakeBattery{status: battery.Status{Percent: 100}},
	}
	h.ctl = New(h.clk, h.sched, h.store, h.input, h.disp, h.sel, h.up, h.bat, opts)
	return h
}

func day(hour, min int) time.Time {
	return time.Date(2026, 3, 14, hour, min, 0, 0, time.UTC)
}

func TestResumeFreshBoot(t *testing.T) {
	h := newHarness(t, day(8, 0), Options{})
	st, rec := h.ctl.resume()
	if st != WakingMorning || rec != nil {
		t.Fatalf("resume = %s/%v, want waking_morning/nil", st, rec)
	}
}

func TestResumeCorruptRecordStartsFresh(t *testing.T) {
	h := newHarness(t, day(8, 0), Options{})
	h.store.loadErr = fmt.Errorf("%w: checksum mismatch", store.ErrCorrupt)
	st, rec := h.ctl.resume()
	if st != WakingMorning || rec != nil {
		t.Fatalf("resume = %s/%v, want waking_morning/nil", st, rec)
	}
}

func TestResumeStaleRecordStartsNewDay(t *testing.T) {
	h := newHarness(t, day(8, 0), Options{})
	h.store.rec = &model.DailyRecord{Date: "2026-03-13", KataName: "Empi", Closed: true}
	st, rec := h.ctl.resume()
	if st != WakingMorning || rec != nil {
		t.Fatalf("resume = %s/%v, want waking_morning/nil", st, rec)
	}
}

func TestResumeClosedTodaySleeps(t *testing.T) {
	h := newHarness(t, day(23, 30), Options{})
	h.store.rec = &model.DailyRecord{Date: "2026-03-14", KataName: "Empi", Confirmed: true, Closed: true}
	st, _ := h.ctl.resume()
	if st != Sleeping {
		t.Fatalf("resume = %s, want sleeping", st)
	}
}

func TestResumeOpenTodayKeepsAwaiting(t *testing.T) {
	h := newHarness(t, day(12, 0), Options{RecentWindow: 7})
	h.store.rec = &model.DailyRecord{Date: "2026-03-14", KataName: "Jion"}
	st, rec := h.ctl.resume()
	if st != AwaitingConfirmation {
		t.Fatalf("resume = %s, want awaiting_confirmation", st)
	}
	if rec == nil || rec.KataName != "Jion" {
		t.Fatalf("resumed record = %+v", rec)
	}
	// The resumed name joins the recent-exclusion window.
	if len(h.ctl.recent) != 1 || h.ctl.recent[0] != "Jion" {
		t.Fatalf("recent = %v", h.ctl.recent)
	}
	// No re-render on resume: the panel already shows the frame.
	if len(h.disp.shows) != 0 {
		t.Fatalf("resume rendered %d frames", len(h.disp.shows))
	}
}

func TestResumeOpenTodayPastCutoffFinalizes(t *testing.T) {
	h := newHarness(t, day(23, 30), Options{})
	h.store.rec = &model.DailyRecord{Date: "2026-03-14", KataName: "Jion", Confirmed: true}
	st, rec := h.ctl.resume()
	if st != Finalizing {
		t.Fatalf("resume = %s, want finalizing", st)
	}
	if rec == nil || !rec.Confirmed {
		t.Fatalf("resumed record = %+v", rec)
	}
}

func TestWakeMorningCreatesAndPersistsRecord(t *testing.T) {
	h := newHarness(t, day(7, 0), Options{RecentWindow: 3})
	h.ctl.recent = []string{"Empi"}
	h.sel.names = []string{"Bassai Dai"}

	st, rec := h.ctl.wakeMorning(context.Background())
	if st != DisplayingKata {
		t.Fatalf("state = %s, want displaying_kata", st)
	}
	if rec.Date != "2026-03-14" || rec.KataName != "Bassai Dai" {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Confirmed || rec.Closed {
		t.Fatalf("new record must be open and unconfirmed: %+v", rec)
	}
	if h.store.rec == nil || h.store.rec.KataName != "Bassai Dai" {
		t.Fatalf("record not persisted: %+v", h.store.rec)
	}
	if len(h.sel.excludes) != 1 || len(h.sel.excludes[0]) != 1 || h.sel.excludes[0][0] != "Empi" {
		t.Fatalf("selector exclusions = %v", h.sel.excludes)
	}
	if len(h.ctl.recent) != 2 || h.ctl.recent[1] != "Bassai Dai" {
		t.Fatalf("recent = %v", h.ctl.recent)
	}
}

func TestRecentWindowIsBounded(t *testing.T) {
	h := newHarness(t, day(7, 0), Options{RecentWindow: 2})
	for _, n := range []string{"A", "B", "C", "D"} {
		h.ctl.remember(n)
	}
	if len(h.ctl.recent) != 2 || h.ctl.recent[0] != "C" || h.ctl.recent[1] != "D" {
		t.Fatalf("recent = %v, want [C D]", h.ctl.recent)
	}
}

func TestDisplayFaultDegradesWithoutStoppingTheDay(t *testing.T) {
	h := newHarness(t, day(7, 0), Options{})
	h.disp.showErr = errors.New("epd: driver fault: busy timeout")

	rec := model.NewDailyRecord(day(7, 0), "Kanku Dai")
	st := h.ctl.displayKata(context.Background(), rec)
	if st != AwaitingConfirmation {
		t.Fatalf("state after render fault = %s, want awaiting_confirmation", st)
	}
	if len(h.disp.shows) != 1 {
		t.Fatalf("render attempts = %d, want 1", len(h.disp.shows))
	}
}

func TestBatteryFloorSkipsRender(t *testing.T) {
	h := newHarness(t, day(7, 0), Options{BatteryFloor: 20})
	h.bat.status = battery.Status{Percent: 10}

	rec := model.NewDailyRecord(day(7, 0), "Kanku Dai")
	st := h.ctl.displayKata(context.Background(), rec)
	if st != AwaitingConfirmation {
		t.Fatalf("state = %s, want awaiting_confirmation", st)
	}
	if len(h.disp.shows) != 0 {
		t.Fatal("render ran despite battery below floor")
	}
}

func TestBatteryReadFailureDoesNotBlockRender(t *testing.T) {
	h := newHarness(t, day(7, 0), Options{BatteryFloor: 20})
	h.bat.err = errors.New("i2c: no such device")

	rec := model.NewDailyRecord(day(7, 0), "Kanku Dai")
	h.ctl.displayKata(context.Background(), rec)
	if len(h.disp.shows) != 1 {
		t.Fatal("render skipped on battery read failure")
	}
}

func TestConfirmationPersistsAndRedraws(t *testing.T) {
	h := newHarness(t, day(9, 0), Options{})
	at := day(10, 15)
	h.input.script = []waitResult{{at: at, ok: true}}

	rec := model.NewDailyRecord(day(7, 0), "Jion")
	st, err := h.ctl.awaitConfirmation(context.Background(), rec)
	if err != nil {
		t.Fatalf("awaitConfirmation: %v", err)
	}
	if st != Finalizing {
		t.Fatalf("state = %s, want finalizing", st)
	}
	if !rec.Confirmed || rec.ConfirmedAt == nil || !rec.ConfirmedAt.Equal(at) {
		t.Fatalf("record = %+v", rec)
	}
	if h.store.rec == nil || !h.store.rec.Confirmed {
		t.Fatalf("confirmation not persisted: %+v", h.store.rec)
	}
	if len(h.disp.shows) != 1 || !h.disp.shows[0].confirmed {
		t.Fatalf("indicator redraw = %v", h.disp.shows)
	}
	if h.input.armed != 1 || h.input.disarms != 1 {
		t.Fatalf("arm/disarm = %d/%d, want 1/1", h.input.armed, h.input.disarms)
	}
}

func TestSecondPressIsIgnored(t *testing.T) {
	h := newHarness(t, day(9, 0), Options{})
	first := day(10, 15)
	h.input.script = []waitResult{
		{at: first, ok: true},
		{at: day(11, 0), ok: true},
	}

	rec := model.NewDailyRecord(day(7, 0), "Jion")
	st, err := h.ctl.awaitConfirmation(context.Background(), rec)
	if err != nil || st != Finalizing {
		t.Fatalf("awaitConfirmation = %s/%v", st, err)
	}
	if !rec.ConfirmedAt.Equal(first) {
		t.Fatalf("ConfirmedAt = %v, want the first press %v", rec.ConfirmedAt, first)
	}
	if h.store.saves != 1 {
		t.Fatalf("saves = %d, want 1", h.store.saves)
	}
	if len(h.disp.shows) != 1 {
		t.Fatalf("redraws = %d, want 1", len(h.disp.shows))
	}
}

func TestDeadlineWithoutPressFinalizes(t *testing.T) {
	h := newHarness(t, day(9, 0), Options{})

	rec := model.NewDailyRecord(day(7, 0), "Jion")
	st, err := h.ctl.awaitConfirmation(context.Background(), rec)
	if err != nil || st != Finalizing {
		t.Fatalf("awaitConfirmation = %s/%v", st, err)
	}
	if rec.Confirmed || rec.ConfirmedAt != nil {
		t.Fatalf("record mutated without a press: %+v", rec)
	}
	if h.store.saves != 0 {
		t.Fatalf("saves = %d, want 0", h.store.saves)
	}
}

func TestFinalizeClosesUploadsAndSleepsPanel(t *testing.T) {
	h := newHarness(t, day(23, 0), Options{})

	at := day(10, 15)
	rec := &model.DailyRecord{Date: "2026-03-14", KataName: "Jion", Confirmed: true, ConfirmedAt: &at}
	st := h.ctl.finalize(rec)
	if st != Sleeping {
		t.Fatalf("state = %s, want sleeping", st)
	}
	if h.store.rec == nil || !h.store.rec.Closed {
		t.Fatalf("closed record not persisted: %+v", h.store.rec)
	}
	if len(h.up.submitted) != 1 {
		t.Fatalf("uploads = %d, want 1", len(h.up.submitted))
	}
	if got := h.up.submitted[0]; !got.Closed || !got.Confirmed || got.Date != "2026-03-14" {
		t.Fatalf("uploaded record = %+v", got)
	}
	if h.disp.slept != 1 {
		t.Fatalf("panel sleeps = %d, want 1", h.disp.slept)
	}
}

func TestFinalizeUnconfirmedDayStillUploads(t *testing.T) {
	h := newHarness(t, day(23, 0), Options{})

	rec := &model.DailyRecord{Date: "2026-03-14", KataName: "Jion"}
	h.ctl.finalize(rec)
	if len(h.up.submitted) != 1 || h.up.submitted[0].Confirmed {
		t.Fatalf("uploads = %v", h.up.submitted)
	}
}

func TestWaitClockSyncDefersUntilSynchronized(t *testing.T) {
	h := newHarness(t, day(7, 0), Options{ClockRetry: time.Minute})
	h.clk.checkErrs = []error{clock.ErrClockUnavailable, clock.ErrClockUnavailable, nil}

	if err := h.ctl.waitClockSync(context.Background()); err != nil {
		t.Fatalf("waitClockSync: %v", err)
	}
	if len(h.clk.waits) != 2 {
		t.Fatalf("retry waits = %d, want 2", len(h.clk.waits))
	}
}

// TestRunFullDay drives one complete cycle through the real Run loop:
// fresh boot, morning render, unconfirmed deadline, finalize, then the
// overnight wait terminates the test.
func TestRunFullDay(t *testing.T) {
	h := newHarness(t, day(8, 0), Options{})
	h.sel.names = []string{"Tekki Shodan"}
	// The first WaitUntil is the overnight sleep after finalizing.
	h.clk.failAfter = 1

	err := h.ctl.Run(context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}

	if len(h.disp.shows) != 1 || h.disp.shows[0] != (showCall{"Tekki Shodan", false}) {
		t.Fatalf("renders = %v", h.disp.shows)
	}
	if len(h.up.submitted) != 1 {
		t.Fatalf("uploads = %d, want 1", len(h.up.submitted))
	}
	got := h.up.submitted[0]
	if got.Date != "2026-03-14" || got.KataName != "Tekki Shodan" || !got.Closed || got.Confirmed {
		t.Fatalf("uploaded record = %+v", got)
	}
	if h.disp.slept != 1 {
		t.Fatalf("panel sleeps = %d, want 1", h.disp.slept)
	}
	// The pending event at shutdown is the next morning wake.
	ev := h.ctl.Pending()
	if ev.Kind != clock.MorningWake {
		t.Fatalf("pending event = %s, want morning_wake", ev.Kind)
	}
	want := time.Date(2026, 3, 15, 7, 0, 0, 0, time.UTC)
	if !ev.At.Equal(want) {
		t.Fatalf("pending wake = %v, want %v", ev.At, want)
	}
}

// TestRunConfirmedDay drives a day where the button is pressed once.
func TestRunConfirmedDay(t *testing.T) {
	h := newHarness(t, day(8, 0), Options{})
	h.sel.names = []string{"Kanku Dai"}
	at := day(9, 30)
	h.input.script = []waitResult{{at: at, ok: true}}
	h.clk.failAfter = 1

	err := h.ctl.Run(context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}

	if len(h.disp.shows) != 2 {
		t.Fatalf("renders = %v, want morning + indicator", h.disp.shows)
	}
	if h.disp.shows[0] != (showCall{"Kanku Dai", false}) || h.disp.shows[1] != (showCall{"Kanku Dai", true}) {
		t.Fatalf("renders = %v", h.disp.shows)
	}
	got := h.up.submitted
	if len(got) != 1 || !got[0].Confirmed || !got[0].Closed || !got[0].ConfirmedAt.Equal(at) {
		t.Fatalf("uploads = %+v", got)
	}
}
