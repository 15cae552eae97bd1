package input

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// gpioPin adapts a periph.io GPIO to the Pin interface. The button pulls
// the line to ground, so pressed means reading low.
type gpioPin struct {
	pin gpio.PinIn
}

// NewGPIOPin opens the named GPIO with pull-up and both-edge detection.
func NewGPIOPin(name string) (Pin, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("input: periph host init failed: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("input: gpio %s not found", name)
	}
	if err := p.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("input: gpio %s In failed: %w", name, err)
	}
	return &gpioPin{pin: p}, nil
}

func (p *gpioPin) WaitForEdge(timeout time.Duration) bool {
	return p.pin.WaitForEdge(timeout)
}

func (p *gpioPin) Pressed() bool {
	return p.pin.Read() == gpio.Low
}
