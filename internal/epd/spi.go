package epd

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// spidev transfers are capped by the kernel; stay under the usual 4k limit.
const maxChunk = 4096

// SPIOpts configures the hardware transport.
type SPIOpts struct {
	// Port is the periph.io SPI port name ("" for the system default,
	// typically /dev/spidev0.0 on a Raspberry Pi).
	Port string
	// Hz is the SPI clock frequency.
	Hz int64
	// DC, RST and Busy are periph.io GPIO names (e.g. "GPIO25").
	DC   string
	RST  string
	Busy string
}

// spiTransport is the periph.io-backed Transport.
type spiTransport struct {
	conn spi.Conn
	port spi.PortCloser

	dc   gpio.PinOut
	rst  gpio.PinOut
	busy gpio.PinIn
}

// NewSPITransport initializes periph.io, opens the SPI port and configures
// the control lines.
func NewSPITransport(o SPIOpts) (Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("epd: periph host init failed: %w", err)
	}

	port, err := spireg.Open(o.Port)
	if err != nil {
		return nil, fmt.Errorf("epd: failed to open SPI port: %w", err)
	}

	hz := o.Hz
	if hz <= 0 {
		hz = 2_000_000
	}
	conn, err := port.Connect(physic.Frequency(hz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("epd: failed to connect SPI: %w", err)
	}

	dc, err := gpioOut(o.DC, gpio.Low)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	rst, err := gpioOut(o.RST, gpio.High)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	busy, err := gpioIn(o.Busy)
	if err != nil {
		_ = port.Close()
		return nil, err
	}

	return &spiTransport{
		conn: conn,
		port: port,
		dc:   dc,
		rst:  rst,
		busy: busy,
	}, nil
}

func gpioOut(name string, level gpio.Level) (gpio.PinOut, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("epd: gpio %s not found", name)
	}
	if err := p.Out(level); err != nil {
		return nil, fmt.Errorf("epd: gpio %s Out failed: %w", name, err)
	}
	return p, nil
}

func gpioIn(name string) (gpio.PinIn, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("epd: gpio %s not found", name)
	}
	if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("epd: gpio %s In failed: %w", name, err)
	}
	return p, nil
}

// Reset pulses the reset line: high, low, high with settle delays.
func (t *spiTransport) Reset() {
	_ = t.rst.Out(gpio.High)
	time.Sleep(200 * time.Millisecond)
	_ = t.rst.Out(gpio.Low)
	time.Sleep(10 * time.Millisecond)
	_ = t.rst.Out(gpio.High)
	time.Sleep(200 * time.Millisecond)
}

func (t *spiTransport) SendCommand(cmd byte) error {
	if err := t.dc.Out(gpio.Low); err != nil {
		return err
	}
	return t.conn.Tx([]byte{cmd}, nil)
}

func (t *spiTransport) SendData(data []byte) error {
	if err := t.dc.Out(gpio.High); err != nil {
		return err
	}
	for len(data) > 0 {
		n := len(data)
		if n > maxChunk {
			n = maxChunk
		}
		if err := t.conn.Tx(data[:n], nil); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (t *spiTransport) Busy() bool {
	return t.busy.Read() == gpio.High
}

// Close releases the SPI port. GPIO pins need no explicit close.
func (t *spiTransport) Close() error {
	return t.port.Close()
}
