package main

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"kataday/internal/epd"
	"kataday/internal/frame"
	appLog "kataday/internal/log"
)

// panelDisplay glues the compositor to the panel driver. The compositor
// recommends the refresh mode; the adapter owns driver re-initialization,
// because only it knows whether the glass still matches the last frame.
type panelDisplay struct {
	comp *frame.Compositor
	drv  *epd.Driver
}

func newPanelDisplay(drv *epd.Driver) *panelDisplay {
	return &panelDisplay{
		comp: frame.NewCompositor(),
		drv:  drv,
	}
}

func (p *panelDisplay) ShowDay(kataName string, confirmed bool) error {
	if p.drv.State() != epd.StateReady {
		if err := p.drv.Init(); err != nil {
			return err
		}
		// Re-init invalidates whatever was on the glass.
		p.comp.Reset()
	}

	fb := p.comp.RenderDayScreen(kataName, confirmed)
	appLog.Debug("display: rendering", "kata", kataName, "confirmed", confirmed, "mode", fb.Mode)

	if fb.Mode == frame.ModePartial {
		return p.drv.RenderPartial(fb.Plane, fb.Dirty)
	}
	return p.drv.RenderFull(fb.Plane)
}

func (p *panelDisplay) Sleep() error {
	if p.drv.State() != epd.StateReady {
		return nil
	}
	return p.drv.DeepSleep()
}

// fileDisplay renders frames without touching hardware. With dump enabled it
// writes the packed plane and a PNG preview next to the working directory,
// which is how frames are eyeballed off-device.
type fileDisplay struct {
	comp *frame.Compositor
	dump bool
}

func newFileDisplay(dump bool) *fileDisplay {
	return &fileDisplay{comp: frame.NewCompositor(), dump: dump}
}

func (f *fileDisplay) ShowDay(kataName string, confirmed bool) error {
	fb := f.comp.RenderDayScreen(kataName, confirmed)
	appLog.Info("display: rendered (no hardware)",
		"kata", kataName, "confirmed", confirmed, "mode", fb.Mode)
	if !f.dump {
		return nil
	}
	if err := os.WriteFile("frame.bin", fb.Plane, 0o644); err != nil {
		return fmt.Errorf("dump plane: %w", err)
	}
	if err := writePreview("frame.png", fb.Plane); err != nil {
		return fmt.Errorf("dump preview: %w", err)
	}
	appLog.Info("display: dumped frame", "plane", "frame.bin", "preview", "frame.png")
	return nil
}

func (f *fileDisplay) Sleep() error {
	return nil
}

// writePreview expands the packed 1bpp plane into a grayscale PNG.
func writePreview(path string, plane []byte) error {
	img := image.NewGray(epd.Bounds())
	for y := 0; y < epd.Height; y++ {
		for x := 0; x < epd.Width; x++ {
			v := uint8(0)
			if plane[y*epd.BytesPerRow+(x>>3)]&(0x80>>(x&7)) != 0 {
				v = 255
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	defer fh.Close()
	return png.Encode(fh, img)
}
