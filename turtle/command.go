package turtle

import (
	"encoding/json"
	"fmt"
)

// Op identifies a turtle operation in a recorded command log.
type Op int

const (
	OpForward Op = iota
	OpBackward
	OpTurnLeft
	OpTurnRight
	OpSetHeading
	OpPenUp
	OpPenDown
	OpSetPenColor
	OpSetPenWidth
	OpSetFillColor
	OpCircle
	OpArc
	OpDot
	OpBeginFill
	OpEndFill
	OpClear
	OpSetBackground
	OpHome
	OpSetPosition
	OpShowTurtle
	OpHideTurtle
)

var opNames = map[Op]string{
	OpForward:       "forward",
	OpBackward:      "backward",
	OpTurnLeft:      "turn_left",
	OpTurnRight:     "turn_right",
	OpSetHeading:    "set_heading",
	OpPenUp:         "pen_up",
	OpPenDown:       "pen_down",
	OpSetPenColor:   "set_pen_color",
	OpSetPenWidth:   "set_pen_width",
	OpSetFillColor:  "set_fill_color",
	OpCircle:        "circle",
	OpArc:           "arc",
	OpDot:           "dot",
	OpBeginFill:     "begin_fill",
	OpEndFill:       "end_fill",
	OpClear:         "clear",
	OpSetBackground: "set_background",
	OpHome:          "home",
	OpSetPosition:   "set_position",
	OpShowTurtle:    "show_turtle",
	OpHideTurtle:    "hide_turtle",
}

var opByName = func() map[string]Op {
	m := make(map[string]Op, len(opNames))
	for op, name := range opNames {
		m[name] = op
	}
	return m
}()

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// MarshalJSON encodes the op by name so recorded logs stay readable and
// stable across releases.
func (o Op) MarshalJSON() ([]byte, error) {
	name, ok := opNames[o]
	if !ok {
		return nil, fmt.Errorf("turtle: unknown op %d", int(o))
	}
	return json.Marshal(name)
}

func (o *Op) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	op, ok := opByName[name]
	if !ok {
		return fmt.Errorf("turtle: unknown op %q", name)
	}
	*o = op
	return nil
}

// Command is one recorded turtle operation with its arguments. Storing
// a tagged variant instead of a closure keeps the log serializable and
// lets instant and animated playback share the same apply loop.
type Command struct {
	Op   Op        `json:"op"`
	Args []float64 `json:"args,omitempty"`
	Text string    `json:"text,omitempty"`
}

func (c Command) arg(i int) float64 {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return 0
}

// Apply executes the command against t.
func (c Command) Apply(t *Turtle) {
	switch c.Op {
	case OpForward:
		t.Forward(c.arg(0))
	case OpBackward:
		t.Backward(c.arg(0))
	case OpTurnLeft:
		t.TurnLeft(c.arg(0))
	case OpTurnRight:
		t.TurnRight(c.arg(0))
	case OpSetHeading:
		t.SetHeading(c.arg(0))
	case OpPenUp:
		t.PenUp()
	case OpPenDown:
		t.PenDown()
	case OpSetPenColor:
		t.SetPenColor(c.Text)
	case OpSetPenWidth:
		t.SetPenWidth(c.arg(0))
	case OpSetFillColor:
		t.SetFillColor(c.Text)
	case OpCircle:
		t.Circle(c.arg(0))
	case OpArc:
		t.Arc(c.arg(0), c.arg(1))
	case OpDot:
		t.Dot(c.arg(0))
	case OpBeginFill:
		t.BeginFill()
	case OpEndFill:
		t.EndFill()
	case OpClear:
		t.Clear()
	case OpSetBackground:
		t.SetBackground(c.Text)
	case OpHome:
		t.Home()
	case OpSetPosition:
		t.SetPosition(c.arg(0), c.arg(1))
	case OpShowTurtle:
		t.ShowTurtle()
	case OpHideTurtle:
		t.HideTurtle()
	}
}
