// Package epd drives a 2.9" SSD1680 e-paper panel (128x296, 1bpp) over SPI
// plus the DC/RST/BUSY control lines.
//
// The controller is stateful and slow: commands issued out of order, or
// while the busy line is asserted, corrupt the panel image. The driver
// therefore keeps an explicit session state (uninitialized / ready / asleep
// / faulted) and refuses operations that do not match it, and every
// busy-producing command is followed by a bounded poll of the busy line.
// A busy timeout or bus error is a DriverFault: it indicates a wiring or
// protocol mismatch that will not self-correct, so it is fatal to the
// current operation and never retried here.
package epd

import (
	"errors"
	"fmt"
	"image"
	"time"
)

// Panel geometry.
const (
	Width       = 128
	Height      = 296
	BytesPerRow = Width / 8
	PlaneSize   = BytesPerRow * Height
)

// Bounds is the panel's pixel rectangle.
func Bounds() image.Rectangle {
	return image.Rect(0, 0, Width, Height)
}

var (
	// ErrDriverFault marks bus errors, busy timeouts and protocol desync.
	// The session must be re-initialized before further use.
	ErrDriverFault = errors.New("epd: driver fault")

	// ErrBadState is returned when an operation does not match the current
	// session state (e.g. rendering before Init or after DeepSleep).
	ErrBadState = errors.New("epd: invalid session state")
)

// State is the driver's session state.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateAsleep
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateAsleep:
		return "asleep"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Transport is the hardware boundary: the SPI bus plus the discrete control
// lines. NewSPITransport provides the periph.io implementation; tests use a
// recording fake.
type Transport interface {
	// Reset pulses the panel reset line, with the required settle delays.
	Reset()
	// SendCommand transmits one command byte with DC held low.
	SendCommand(cmd byte) error
	// SendData transmits parameter/image bytes with DC held high.
	SendData(data []byte) error
	// Busy reports the busy line level (true while the controller is
	// mid-operation and must not receive further commands).
	Busy() bool
}

// Driver sequences the SSD1680 command protocol over a Transport.
type Driver struct {
	tp Transport

	state      State
	lastUpdate byte // mode byte of the last display update, 0 before any

	busyTimeout  time.Duration
	pollInterval time.Duration
	sleep        func(time.Duration)
}

// New returns a Driver in the uninitialized state. Init must be called
// before any render.
func New(tp Transport) *Driver {
	return &Driver{
		tp:           tp,
		state:        StateUninitialized,
		busyTimeout:  5 * time.Second,
		pollInterval: 10 * time.Millisecond,
		sleep:        time.Sleep,
	}
}

// State returns the current session state.
func (d *Driver) State() State {
	return d.state
}

// Init resets the controller and runs the power-on command sequence. It may
// be called from any state, including faulted and asleep: a hardware reset
// is the only way out of deep sleep or a protocol desync.
func (d *Driver) Init() error {
	d.state = StateUninitialized
	d.lastUpdate = 0

	d.tp.Reset()
	if err := d.waitIdle("reset"); err != nil {
		return err
	}

	if err := d.command(cmdSWReset); err != nil {
		return err
	}
	d.sleep(10 * time.Millisecond)
	if err := d.waitIdle("sw reset"); err != nil {
		return err
	}

	// Gate line count (296) and scan order.
	if err := d.command(cmdDriverControl, 0x27, 0x01, 0x00); err != nil {
		return err
	}
	if err := d.command(cmdDataEntryMode, flagDataEntryIncYIncX); err != nil {
		return err
	}
	if err := d.setWindow(Bounds()); err != nil {
		return err
	}
	if err := d.setCounter(0, 0); err != nil {
		return err
	}
	if err := d.command(cmdBorderWaveform, flagBorderFollowLUT1); err != nil {
		return err
	}
	if err := d.command(cmdTempControl, flagInternalTempSensor); err != nil {
		return err
	}
	if err := d.waitIdle("temp sensor"); err != nil {
		return err
	}

	d.state = StateReady
	return nil
}

// RenderFull writes the whole plane to both image RAMs and runs the
// full-refresh update sequence. The full sequence flashes the panel to
// clear residual charge; it is mandatory at least once per day.
func (d *Driver) RenderFull(plane []byte) error {
	if err := d.requireReady("render full"); err != nil {
		return err
	}
	if len(plane) != PlaneSize {
		return fmt.Errorf("epd: invalid plane size %d, want %d", len(plane), PlaneSize)
	}

	if err := d.setWindow(Bounds()); err != nil {
		return err
	}

	// Both the "new" (0x24) and "old" (0x26) planes get the frame, so the
	// next partial update diffs against what is actually on glass.
	if err := d.setCounter(0, 0); err != nil {
		return err
	}
	if err := d.command(cmdWriteBWRAM); err != nil {
		return err
	}
	if err := d.data(plane); err != nil {
		return err
	}
	if err := d.setCounter(0, 0); err != nil {
		return err
	}
	if err := d.command(cmdWriteRedRAM); err != nil {
		return err
	}
	if err := d.data(plane); err != nil {
		return err
	}

	return d.update(flagUpdateFull)
}

// RenderPartial writes only the dirty rectangle of plane to the image RAM
// and runs the reduced-flicker partial update. The rectangle must be
// byte-aligned horizontally (x0 and x1 multiples of 8) and lie within the
// panel. Callers must only use it when the new content is a strict visual
// subset/superset of the old; unrelated content accumulates artifacts.
func (d *Driver) RenderPartial(plane []byte, dirty image.Rectangle) error {
	if err := d.requireReady("render partial"); err != nil {
		return err
	}
	if len(plane) != PlaneSize {
		return fmt.Errorf("epd: invalid plane size %d, want %d", len(plane), PlaneSize)
	}
	if !dirty.In(Bounds()) || dirty.Empty() {
		return fmt.Errorf("epd: dirty region %v outside panel %v", dirty, Bounds())
	}
	if dirty.Min.X%8 != 0 || dirty.Max.X%8 != 0 {
		return fmt.Errorf("epd: dirty region %v not byte-aligned", dirty)
	}

	if err := d.setWindow(dirty); err != nil {
		return err
	}
	if err := d.setCounter(dirty.Min.X, dirty.Min.Y); err != nil {
		return err
	}
	if err := d.command(cmdWriteBWRAM); err != nil {
		return err
	}

	x0 := dirty.Min.X / 8
	x1 := dirty.Max.X / 8
	window := make([]byte, 0, (x1-x0)*dirty.Dy())
	for y := dirty.Min.Y; y < dirty.Max.Y; y++ {
		window = append(window, plane[y*BytesPerRow+x0:y*BytesPerRow+x1]...)
	}
	if err := d.data(window); err != nil {
		return err
	}

	return d.update(flagUpdatePartial)
}

// DeepSleep issues the controller's own sleep command. The panel retains
// its image with zero holding current; any subsequent operation requires
// Init again (only a hardware reset exits deep sleep).
func (d *Driver) DeepSleep() error {
	if err := d.requireReady("deep sleep"); err != nil {
		return err
	}
	if err := d.command(cmdDeepSleepMode, flagDeepSleepEnter); err != nil {
		return err
	}
	// Busy stays asserted in deep sleep; do not wait on it.
	d.state = StateAsleep
	return nil
}

// update runs the display update sequence with the given mode byte and
// blocks until the busy line clears.
func (d *Driver) update(mode byte) error {
	if err := d.command(cmdDisplayUpdateCtrl2, mode); err != nil {
		return err
	}
	if err := d.command(cmdMasterActivate); err != nil {
		return err
	}
	// The controller needs a moment to assert busy after activation.
	d.sleep(d.pollInterval)
	if err := d.waitIdle("display update"); err != nil {
		return err
	}
	d.lastUpdate = mode
	return nil
}

// setWindow programs the RAM address window (0x44/0x45). X positions are in
// bytes; the end positions are inclusive.
func (d *Driver) setWindow(r image.Rectangle) error {
	if err := d.command(cmdSetRAMXWindow, byte(r.Min.X/8), byte((r.Max.X-1)/8)); err != nil {
		return err
	}
	y0, y1 := r.Min.Y, r.Max.Y-1
	return d.command(cmdSetRAMYWindow,
		byte(y0), byte(y0>>8),
		byte(y1), byte(y1>>8),
	)
}

// setCounter positions the RAM address counters (0x4E/0x4F).
func (d *Driver) setCounter(x, y int) error {
	if err := d.command(cmdSetRAMXCounter, byte(x/8)); err != nil {
		return err
	}
	return d.command(cmdSetRAMYCounter, byte(y), byte(y>>8))
}

func (d *Driver) command(c byte, params ...byte) error {
	if d.tp.Busy() {
		return d.fail("command", fmt.Errorf("busy line asserted before 0x%02X", c))
	}
	if err := d.tp.SendCommand(c); err != nil {
		return d.fail("command", err)
	}
	if len(params) > 0 {
		if err := d.tp.SendData(params); err != nil {
			return d.fail("command params", err)
		}
	}
	return nil
}

func (d *Driver) data(b []byte) error {
	if err := d.tp.SendData(b); err != nil {
		return d.fail("data", err)
	}
	return nil
}

// waitIdle polls the busy line until it clears or the timeout elapses.
// Exceeding the timeout is a DriverFault, not a retryable condition.
func (d *Driver) waitIdle(op string) error {
	deadline := time.Now().Add(d.busyTimeout)
	for d.tp.Busy() {
		if time.Now().After(deadline) {
			return d.fail(op, fmt.Errorf("busy timeout after %s", d.busyTimeout))
		}
		d.sleep(d.pollInterval)
	}
	return nil
}

func (d *Driver) requireReady(op string) error {
	if d.state != StateReady {
		return fmt.Errorf("%w: %s in state %s", ErrBadState, op, d.state)
	}
	return nil
}

func (d *Driver) fail(op string, err error) error {
	d.state = StateFaulted
	return fmt.Errorf("%w: %s: %v", ErrDriverFault, op, err)
}
