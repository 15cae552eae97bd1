// Package frame renders the day screen into a 1bpp plane matching the
// panel's addressable geometry, and recommends a refresh mode for it.
//
// Glyph rendering is deterministic: the same kata name and confirmation flag
// always produce an identical bit pattern, which is what makes the partial
// refresh of the indicator meaningful.
package frame

import (
	"image"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"kataday/internal/epd"
)

// RefreshMode recommends how the panel should display a frame.
type RefreshMode int

const (
	// ModeFull flashes the whole panel, clearing ghosting. Used whenever
	// the kata name changed.
	ModeFull RefreshMode = iota
	// ModePartial updates only the indicator rectangle with the
	// reduced-flicker waveform.
	ModePartial
)

func (m RefreshMode) String() string {
	if m == ModePartial {
		return "partial"
	}
	return "full"
}

// FrameBuffer is a packed 1bpp plane (MSB-first, bit 1 = white) plus the
// refresh mode it should be written with. The driver borrows it for the
// duration of a render call and never retains it.
type FrameBuffer struct {
	Plane []byte
	Mode  RefreshMode
	// Dirty is the indicator bounding rectangle when Mode is ModePartial.
	Dirty image.Rectangle
}

// Text layout. Face7x13 advances 7px per glyph; with a 5px margin that is
// 16 glyphs per line on the 128px axis.
const (
	marginX    = 5
	titleTop   = 24
	lineHeight = 16
	lineRunes  = 16
)

// indicatorRect is the fixed corner region of the confirmed/unconfirmed
// glyph. Byte-aligned horizontally so it is a valid partial-refresh window.
var indicatorRect = image.Rect(88, 256, 120, 288)

// IndicatorRect returns the indicator's bounding rectangle.
func IndicatorRect() image.Rectangle {
	return indicatorRect
}

// Compositor renders day screens and tracks the previously rendered content
// to recommend full vs partial refresh.
type Compositor struct {
	lastName string
	rendered bool
}

func NewCompositor() *Compositor {
	return &Compositor{}
}

// RenderDayScreen lays out the kata name as the primary glyph block and the
// confirmation indicator in the fixed corner region. The recommendation is
// ModeFull when the name differs from the previously rendered frame (or
// nothing was rendered yet), ModePartial otherwise.
func (c *Compositor) RenderDayScreen(kataName string, confirmed bool) *FrameBuffer {
	img := image1bit.NewVerticalLSB(epd.Bounds())

	// image1bit.On marks ink here; the packer turns it into a cleared
	// (black) panel bit.
	drawTitle(img, kataName)
	drawIndicator(img, confirmed)

	fb := &FrameBuffer{Plane: pack(img)}
	if !c.rendered || kataName != c.lastName {
		fb.Mode = ModeFull
	} else {
		fb.Mode = ModePartial
		fb.Dirty = indicatorRect
	}

	c.lastName = kataName
	c.rendered = true
	return fb
}

// Reset forgets the previously rendered frame, forcing the next
// recommendation to be ModeFull. Used after a driver re-init, when the
// glass content is no longer trusted.
func (c *Compositor) Reset() {
	c.rendered = false
	c.lastName = ""
}

func drawTitle(img *image1bit.VerticalLSB, name string) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(image1bit.On),
		Face: basicfont.Face7x13,
	}
	for i, line := range wrap(name, lineRunes) {
		d.Dot = fixed.P(marginX, titleTop+i*lineHeight)
		d.DrawString(line)
	}
}

// drawIndicator draws a filled square when confirmed, a hollow outline when
// not. Both variants cover identical outer bounds so the partial diff stays
// inside indicatorRect.
func drawIndicator(img *image1bit.VerticalLSB, confirmed bool) {
	r := indicatorRect.Inset(2)
	if confirmed {
		fillRect(img, r)
		return
	}
	const border = 3
	fillRect(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+border))
	fillRect(img, image.Rect(r.Min.X, r.Max.Y-border, r.Max.X, r.Max.Y))
	fillRect(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+border, r.Max.Y))
	fillRect(img, image.Rect(r.Max.X-border, r.Min.Y, r.Max.X, r.Max.Y))
}

func fillRect(img *image1bit.VerticalLSB, r image.Rectangle) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.Set(x, y, image1bit.On)
		}
	}
}

// wrap splits s into lines of at most width runes, breaking on spaces where
// possible. Deterministic by construction.
func wrap(s string, width int) []string {
	var lines []string
	for _, word := range strings.Fields(s) {
		runes := []rune(word)
		for len(runes) > width {
			lines = append(lines, string(runes[:width]))
			runes = runes[width:]
		}
		word = string(runes)
		if n := len(lines); n > 0 && len([]rune(lines[n-1]))+1+len([]rune(word)) <= width {
			lines[n-1] += " " + word
		} else {
			lines = append(lines, word)
		}
	}
	if len(lines) == 0 {
		lines = []string{""}
	}
	return lines
}

// pack converts the draw surface into the panel's horizontal MSB-first 1bpp
// layout:
//
//	byteIndex = y*BytesPerRow + (x >> 3)
//	mask      = 0x80 >> (x & 7)
//
// All bits start as 1 (white); ink pixels clear their bit.
func pack(img *image1bit.VerticalLSB) []byte {
	plane := make([]byte, epd.PlaneSize)
	for i := range plane {
		plane[i] = 0xFF
	}
	for y := 0; y < epd.Height; y++ {
		for x := 0; x < epd.Width; x++ {
			if img.At(x, y) == image1bit.On {
				plane[y*epd.BytesPerRow+(x>>3)] &^= 0x80 >> (x & 7)
			}
		}
	}
	return plane
}
