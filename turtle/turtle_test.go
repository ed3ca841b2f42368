package turtle

import (
	"image/color"
	"math"
	"testing"
)

const tol = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestHeadingAlwaysNormalized(t *testing.T) {
	tr := New()

	turns := []struct {
		left bool
		deg  float64
	}{
		{false, 90},
		{false, 450},
		{true, 30},
		{true, -765},
		{false, -1080.5},
		{true, 359.99},
		{false, 0},
		{true, 720},
	}

	for i, turn := range turns {
		if turn.left {
			tr.TurnLeft(turn.deg)
		} else {
			tr.TurnRight(turn.deg)
		}
		h := tr.Heading()
		if h < 0 || h >= 360 {
			t.Fatalf("after turn %d: heading %v out of [0,360)", i, h)
		}
	}

	tr.SetHeading(-90)
	if h := tr.Heading(); !almostEqual(h, 270) {
		t.Errorf("SetHeading(-90) = %v, want 270", h)
	}
	tr.SetHeading(725)
	if h := tr.Heading(); !almostEqual(h, 5) {
		t.Errorf("SetHeading(725) = %v, want 5", h)
	}
}

func TestSquareClosesLoop(t *testing.T) {
	for _, d := range []float64{1, 100, 37.5, 250} {
		tr := NewWithSurface(600, 600)
		for i := 0; i < 4; i++ {
			tr.Forward(d)
			tr.TurnRight(90)
		}
		if !almostEqual(tr.X(), 0) || !almostEqual(tr.Y(), 0) {
			t.Errorf("d=%v: ended at (%v, %v), want origin", d, tr.X(), tr.Y())
		}
		if !almostEqual(tr.Heading(), 0) {
			t.Errorf("d=%v: heading %v, want 0", d, tr.Heading())
		}
	}
}

func TestSetPositionRoundTrip(t *testing.T) {
	tr := NewWithSurface(401, 333)
	tr.PenUp()

	for _, pos := range [][2]float64{
		{0, 0}, {100, 50}, {-75.25, 33.125}, {-200, -166}, {0.001, -0.001},
	} {
		tr.SetPosition(pos[0], pos[1])
		if !almostEqual(tr.X(), pos[0]) || !almostEqual(tr.Y(), pos[1]) {
			t.Errorf("SetPosition(%v, %v) read back as (%v, %v)",
				pos[0], pos[1], tr.X(), tr.Y())
		}
	}
}

func TestForwardDirection(t *testing.T) {
	tr := New()

	// Heading 0 is north: forward increases Y.
	tr.Forward(10)
	if !almostEqual(tr.X(), 0) || !almostEqual(tr.Y(), 10) {
		t.Fatalf("north: got (%v, %v), want (0, 10)", tr.X(), tr.Y())
	}

	// Heading 90 is east: forward increases X.
	tr.SetHeading(90)
	tr.Forward(10)
	if !almostEqual(tr.X(), 10) || !almostEqual(tr.Y(), 10) {
		t.Fatalf("east: got (%v, %v), want (10, 10)", tr.X(), tr.Y())
	}

	tr.Backward(10)
	if !almostEqual(tr.X(), 0) || !almostEqual(tr.Y(), 10) {
		t.Fatalf("backward: got (%v, %v), want (0, 10)", tr.X(), tr.Y())
	}
}

func isInk(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r < 0x8000 && g < 0x8000 && b < 0x8000
}

func TestSquareDrawsFourSegments(t *testing.T) {
	tr := NewWithSurface(400, 400)
	tr.HideTurtle()
	tr.SetPenWidth(3) // avoid antialiasing ambiguity at pixel centers

	for i := 0; i < 4; i++ {
		tr.Forward(100)
		tr.TurnRight(90)
	}
	if !almostEqual(tr.Heading(), 0) {
		t.Fatalf("heading %v after square, want 0", tr.Heading())
	}

	img := tr.Snapshot()
	if img == nil {
		t.Fatal("no snapshot from surfaced turtle")
	}

	// Sample the midpoint of each side in raster coordinates.
	mids := [][2]float64{{0, 50}, {50, 100}, {100, 50}, {50, 0}}
	for _, m := range mids {
		rx := 200 + m[0]
		ry := 200 - m[1]
		if !isInk(img.At(int(rx), int(ry))) {
			t.Errorf("no ink at centered (%v, %v)", m[0], m[1])
		}
	}

	// The square interior must stay empty: only the outline was stroked.
	if isInk(img.At(250, 150)) {
		t.Error("unexpected ink inside the square")
	}
}

func TestPenUpMovesWithoutDrawing(t *testing.T) {
	tr := NewWithSurface(200, 200)
	tr.HideTurtle()
	tr.PenUp()
	tr.Forward(50)

	img := tr.Snapshot()
	if isInk(img.At(100, 75)) {
		t.Error("pen-up movement left ink")
	}
	if !almostEqual(tr.Y(), 50) {
		t.Errorf("pen-up movement did not reposition: y=%v", tr.Y())
	}
}

func TestDrawingWithoutSurfaceIsSafe(t *testing.T) {
	tr := New()

	// None of these may panic without a backing surface.
	tr.Forward(10)
	tr.Circle(5)
	tr.Arc(5, 90)
	tr.Dot(3)
	tr.BeginFill()
	tr.Forward(10)
	tr.EndFill()
	tr.Clear()
	tr.SetBackground("blue")

	if tr.Snapshot() != nil {
		t.Error("expected nil snapshot without surface")
	}
	if err := tr.SavePNG(t.TempDir() + "/none.png"); err == nil {
		t.Error("expected error saving without surface")
	}
}

func TestArcAdvancesHeading(t *testing.T) {
	tr := NewWithSurface(200, 200)
	tr.Arc(30, 90)
	if !almostEqual(tr.Heading(), 90) {
		t.Errorf("heading %v after 90 degree arc, want 90", tr.Heading())
	}
	tr.Arc(30, 300)
	if !almostEqual(tr.Heading(), 30) {
		t.Errorf("heading %v after wrapping arc, want 30", tr.Heading())
	}
}

func TestEndFillFillsInterior(t *testing.T) {
	tr := NewWithSurface(400, 400)
	tr.HideTurtle()
	tr.SetFillColor("red")

	tr.BeginFill()
	for i := 0; i < 4; i++ {
		tr.Forward(100)
		tr.TurnRight(90)
	}
	tr.EndFill()

	img := tr.Snapshot()
	// Interior point of the square (centered (50,50)).
	if !isInk(img.At(250, 150)) {
		t.Error("interior not filled")
	}
}

func TestResetRestoresDefaults(t *testing.T) {
	tr := NewWithSurface(200, 200)
	tr.SetPosition(30, -40)
	tr.SetHeading(123)
	tr.PenUp()
	tr.SetSpeed(0)
	tr.HideTurtle()

	tr.Reset()

	if tr.X() != 0 || tr.Y() != 0 || tr.Heading() != 0 {
		t.Errorf("position/heading not reset: (%v, %v) %v", tr.X(), tr.Y(), tr.Heading())
	}
	if !tr.IsPenDown() || !tr.Visible() || tr.Speed() != DefaultSpeed {
		t.Error("pen/visibility/speed not reset")
	}
}

func TestParseColor(t *testing.T) {
	if _, ok := ParseColor("nonsense"); ok {
		t.Error("accepted unknown color name")
	}
	c, ok := ParseColor("#FF0000")
	if !ok {
		t.Fatal("rejected #FF0000")
	}
	r, g, b, _ := c.RGBA()
	if r != 0xffff || g != 0 || b != 0 {
		t.Errorf("bad hex parse: %v %v %v", r, g, b)
	}
	if _, ok := ParseColor("#ab1"); !ok {
		t.Error("rejected short hex")
	}
	if _, ok := ParseColor(" Blue "); !ok {
		t.Error("rejected padded name")
	}
}
