// Package turtle implements a Logo-style turtle graphics engine drawing
// onto a raster surface.
//
// The turtle lives in a centered coordinate system: the origin is the
// middle of the canvas and Y grows upward. Raster coordinates (origin
// top-left, Y down) are derived through a fixed affine transform so that
// drawing calls and user-visible positions never drift apart.
//
// Heading follows the Logo convention: 0 degrees points up (north) and
// angles increase clockwise. The heading is always kept in [0, 360).
package turtle

import (
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/fogleman/gg"
)

// Defaults applied by New and restored by Reset.
const (
	DefaultPenWidth = 1.0
	DefaultSpeed    = 6
)

// Turtle is a drawing cursor with position, heading, and pen state.
// All methods are safe for concurrent use; scripts and the animation
// driver may touch the same instance.
//
// A Turtle without a backing surface (see New) tracks state but draws
// nothing, so scripts that issue drawing commands before the canvas
// exists do not fail.
type Turtle struct {
	mu sync.Mutex

	dc     *gg.Context
	width  int
	height int

	x, y     float64 // centered coordinates
	heading  float64 // degrees, [0,360), 0 = north, clockwise
	penDown  bool
	penColor color.Color
	penWidth float64
	fill     color.Color
	bg       color.Color
	visible  bool
	speed    int

	filling  bool
	fillPath []rasterPoint
}

type rasterPoint struct {
	x, y float64
}

// New returns a turtle with no backing surface. Drawing commands update
// state only until AttachSurface is called.
func New() *Turtle {
	t := &Turtle{}
	t.applyDefaults()
	return t
}

// NewWithSurface returns a turtle drawing onto a fresh raster of the
// given dimensions, cleared to white.
func NewWithSurface(width, height int) *Turtle {
	t := New()
	t.AttachSurface(width, height)
	return t
}

// AttachSurface gives the turtle a raster to draw on, replacing any
// previous surface. The new surface is cleared to the background color.
func (t *Turtle) AttachSurface(width, height int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.width = width
	t.height = height
	t.dc = gg.NewContext(width, height)
	t.clearLocked()
}

func (t *Turtle) applyDefaults() {
	t.x = 0
	t.y = 0
	t.heading = 0
	t.penDown = true
	t.penColor = color.Black
	t.penWidth = DefaultPenWidth
	t.fill = color.Black
	t.bg = color.White
	t.visible = true
	t.speed = DefaultSpeed
	t.filling = false
	t.fillPath = nil
}

// Reset restores every field to its default and clears the surface.
func (t *Turtle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.applyDefaults()
	t.clearLocked()
}

func (t *Turtle) clearLocked() {
	if t.dc == nil {
		return
	}
	t.dc.SetColor(t.bg)
	t.dc.Clear()
}

// rasterOf converts centered coordinates to raster coordinates.
func (t *Turtle) rasterOf(x, y float64) (float64, float64) {
	return float64(t.width)/2 + x, float64(t.height)/2 - y
}

// centeredOf converts raster coordinates back to centered coordinates.
func (t *Turtle) centeredOf(rx, ry float64) (float64, float64) {
	return rx - float64(t.width)/2, float64(t.height)/2 - ry
}

// normalizeHeading folds an angle into [0, 360).
func normalizeHeading(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// Forward moves the turtle d units along its heading, stroking a line
// when the pen is down. Negative d moves backward.
func (t *Turtle) Forward(d float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.moveLocked(d)
}

// Backward moves the turtle d units opposite to its heading.
func (t *Turtle) Backward(d float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.moveLocked(-d)
}

func (t *Turtle) moveLocked(d float64) {
	// Heading 0 must point up on screen, so shift by -90 degrees before
	// projecting in raster space (raster Y grows downward).
	rad := gg.Radians(t.heading - 90)
	ox, oy := t.rasterOf(t.x, t.y)
	nx := ox + d*math.Cos(rad)
	ny := oy + d*math.Sin(rad)
	t.lineToLocked(ox, oy, nx, ny)
	t.x, t.y = t.centeredOf(nx, ny)
}

// lineToLocked strokes a segment in raster coordinates if the pen is
// down and extends the fill path if a fill is open.
func (t *Turtle) lineToLocked(ox, oy, nx, ny float64) {
	if t.filling {
		if len(t.fillPath) == 0 {
			t.fillPath = append(t.fillPath, rasterPoint{ox, oy})
		}
		t.fillPath = append(t.fillPath, rasterPoint{nx, ny})
	}
	if !t.penDown || t.dc == nil {
		return
	}
	t.dc.SetColor(t.penColor)
	t.dc.SetLineWidth(t.penWidth)
	t.dc.DrawLine(ox, oy, nx, ny)
	t.dc.Stroke()
}

// TurnLeft rotates the heading counterclockwise by deg.
func (t *Turtle) TurnLeft(deg float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.heading = normalizeHeading(t.heading - deg)
}

// TurnRight rotates the heading clockwise by deg.
func (t *Turtle) TurnRight(deg float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.heading = normalizeHeading(t.heading + deg)
}

// SetHeading sets the absolute heading in degrees.
func (t *Turtle) SetHeading(deg float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.heading = normalizeHeading(deg)
}

// PenUp lifts the pen; subsequent movement repositions without drawing.
func (t *Turtle) PenUp() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.penDown = false
}

// PenDown lowers the pen.
func (t *Turtle) PenDown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.penDown = true
}

// IsPenDown reports whether the pen is down.
func (t *Turtle) IsPenDown() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.penDown
}

// SetPenColor sets the stroke color. Accepts color names and #rrggbb
// hex strings; unknown values are ignored.
func (t *Turtle) SetPenColor(c string) {
	col, ok := ParseColor(c)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.penColor = col
}

// SetPenWidth sets the stroke width in pixels. Non-positive widths are
// ignored.
func (t *Turtle) SetPenWidth(w float64) {
	if w <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.penWidth = w
}

// SetFillColor sets the color used by EndFill and Dot.
func (t *Turtle) SetFillColor(c string) {
	col, ok := ParseColor(c)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fill = col
}

// Circle strokes a full circle of the given radius centered on the
// turtle's position. Heading and position are unchanged.
func (t *Turtle) Circle(r float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dc == nil || r <= 0 {
		return
	}
	rx, ry := t.rasterOf(t.x, t.y)
	t.dc.SetColor(t.penColor)
	t.dc.SetLineWidth(t.penWidth)
	t.dc.DrawCircle(rx, ry, r)
	t.dc.Stroke()
}

// Arc strokes a circular arc of radius r centered on the turtle's
// position, spanning extent degrees from the heading's perpendicular
// baseline. Heading advances by extent, matching Logo arc semantics;
// this is the one primitive where drawing mutates the heading.
func (t *Turtle) Arc(r, extent float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dc != nil && r > 0 && extent != 0 {
		rx, ry := t.rasterOf(t.x, t.y)
		start := gg.Radians(t.heading - 180)
		t.dc.SetColor(t.penColor)
		t.dc.SetLineWidth(t.penWidth)
		t.dc.DrawArc(rx, ry, r, start, start+gg.Radians(extent))
		t.dc.Stroke()
	}
	t.heading = normalizeHeading(t.heading + extent)
}

// Dot draws a filled circle of the given diameter at the turtle's
// position using the fill color.
func (t *Turtle) Dot(size float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dc == nil || size <= 0 {
		return
	}
	rx, ry := t.rasterOf(t.x, t.y)
	t.dc.SetColor(t.fill)
	t.dc.DrawCircle(rx, ry, size/2)
	t.dc.Fill()
}

// BeginFill opens a fill path at the current position. Movement between
// BeginFill and EndFill extends the path and still strokes segments
// while the pen is down.
func (t *Turtle) BeginFill() {
	t.mu.Lock()
	defer t.mu.Unlock()

	rx, ry := t.rasterOf(t.x, t.y)
	t.filling = true
	t.fillPath = []rasterPoint{{rx, ry}}
}

// EndFill closes the open path and fills it with the fill color. A stray
// EndFill without a matching BeginFill does nothing.
func (t *Turtle) EndFill() {
	t.mu.Lock()
	defer t.mu.Unlock()

	defer func() {
		t.filling = false
		t.fillPath = nil
	}()

	if !t.filling || t.dc == nil || len(t.fillPath) < 3 {
		return
	}
	t.dc.MoveTo(t.fillPath[0].x, t.fillPath[0].y)
	for _, p := range t.fillPath[1:] {
		t.dc.LineTo(p.x, p.y)
	}
	t.dc.ClosePath()
	t.dc.SetColor(t.fill)
	t.dc.Fill()
}

// Clear wipes the surface to the background color without moving the
// turtle or touching pen state.
func (t *Turtle) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLocked()
}

// SetBackground sets the background color and repaints the surface
// with it.
func (t *Turtle) SetBackground(c string) {
	col, ok := ParseColor(c)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bg = col
	t.clearLocked()
}

// Home moves the turtle to the origin and points it north, drawing on
// the way if the pen is down.
func (t *Turtle) Home() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gotoLocked(0, 0)
	t.heading = 0
}

// SetPosition moves the turtle to (x, y) in centered coordinates,
// drawing on the way if the pen is down. The same affine transform used
// internally applies, so X and Y round-trip exactly.
func (t *Turtle) SetPosition(x, y float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gotoLocked(x, y)
}

func (t *Turtle) gotoLocked(x, y float64) {
	ox, oy := t.rasterOf(t.x, t.y)
	nx, ny := t.rasterOf(x, y)
	t.lineToLocked(ox, oy, nx, ny)
	t.x, t.y = x, y
}

// ShowTurtle makes the cursor glyph visible.
func (t *Turtle) ShowTurtle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.visible = true
}

// HideTurtle hides the cursor glyph.
func (t *Turtle) HideTurtle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.visible = false
}

// Visible reports whether the cursor glyph is shown.
func (t *Turtle) Visible() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visible
}

// SetSpeed sets the animation speed, clamped to [0, 10]. 0 means
// instantaneous playback.
func (t *Turtle) SetSpeed(s int) {
	if s < 0 {
		s = 0
	}
	if s > 10 {
		s = 10
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.speed = s
}

// Speed returns the animation speed.
func (t *Turtle) Speed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speed
}

// X returns the turtle's X position in centered coordinates.
func (t *Turtle) X() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.x
}

// Y returns the turtle's Y position in centered coordinates.
func (t *Turtle) Y() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.y
}

// Heading returns the heading in degrees, always in [0, 360).
func (t *Turtle) Heading() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.heading
}

// Snapshot returns the current raster, or nil when no surface is
// attached. The cursor glyph is composited on top when visible.
func (t *Turtle) Snapshot() image.Image {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dc == nil {
		return nil
	}
	if !t.visible {
		return t.dc.Image()
	}

	// Draw the glyph on a copy so it never bakes into the drawing.
	overlay := gg.NewContextForImage(t.dc.Image())
	t.drawGlyph(overlay)
	return overlay.Image()
}

// drawGlyph renders the cursor as a small triangle pointing along the
// heading.
func (t *Turtle) drawGlyph(dc *gg.Context) {
	const size = 8.0
	rx, ry := t.rasterOf(t.x, t.y)
	tip := gg.Radians(t.heading - 90)

	dc.MoveTo(rx+size*math.Cos(tip), ry+size*math.Sin(tip))
	dc.LineTo(rx+size*math.Cos(tip+2.5), ry+size*math.Sin(tip+2.5))
	dc.LineTo(rx+size*math.Cos(tip-2.5), ry+size*math.Sin(tip-2.5))
	dc.ClosePath()
	dc.SetColor(t.penColor)
	dc.Fill()
}

// SavePNG writes the current snapshot to path. It is an error to save a
// turtle without a surface.
func (t *Turtle) SavePNG(path string) error {
	img := t.Snapshot()
	if img == nil {
		return errNoSurface
	}
	dc := gg.NewContextForImage(img)
	return dc.SavePNG(path)
}
