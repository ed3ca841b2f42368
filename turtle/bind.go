package turtle

import (
	"context"
	"fmt"
)

// Bindings exposes a turtle to a running script through named calls
// with loosely typed arguments, the shape the interpreter bridge
// delivers. Graphics reach scripts through this foreign-function
// surface only; no declarations are injected into user source.
//
// With a recorder attached, mutating calls are enqueued for later
// playback instead of drawn immediately. Read-backs always answer from
// the live turtle, so they reflect what has been replayed so far.
type Bindings struct {
	t   *Turtle
	rec *Sequencer
}

// Bind creates the call surface for t.
func Bind(t *Turtle) *Bindings {
	return &Bindings{t: t}
}

// Record diverts mutating calls into seq. Pass nil to draw directly
// again.
func (b *Bindings) Record(seq *Sequencer) {
	b.rec = seq
}

func floatArg(args map[string]any, key string) (float64, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("argument %q: expected number, got %T", key, v)
	}
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q: expected string, got %T", key, v)
	}
	return s, nil
}

// Call dispatches one foreign-function invocation by name. Unknown
// names and malformed arguments return errors; the bridge surfaces them
// to the script without stopping the host.
func (b *Bindings) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "turtle_forward":
		return b.dispatch1(OpForward, args, "distance")
	case "turtle_backward":
		return b.dispatch1(OpBackward, args, "distance")
	case "turtle_left":
		return b.dispatch1(OpTurnLeft, args, "angle")
	case "turtle_right":
		return b.dispatch1(OpTurnRight, args, "angle")
	case "turtle_set_heading":
		return b.dispatch1(OpSetHeading, args, "angle")
	case "turtle_pen_up":
		return b.dispatch0(OpPenUp)
	case "turtle_pen_down":
		return b.dispatch0(OpPenDown)
	case "turtle_pen_color":
		return b.dispatchText(OpSetPenColor, args)
	case "turtle_pen_width":
		return b.dispatch1(OpSetPenWidth, args, "width")
	case "turtle_fill_color":
		return b.dispatchText(OpSetFillColor, args)
	case "turtle_circle":
		return b.dispatch1(OpCircle, args, "radius")
	case "turtle_arc":
		r, err := floatArg(args, "radius")
		if err != nil {
			return nil, err
		}
		extent, err := floatArg(args, "extent")
		if err != nil {
			return nil, err
		}
		b.emit(Command{Op: OpArc, Args: []float64{r, extent}})
		return nil, nil
	case "turtle_dot":
		return b.dispatch1(OpDot, args, "size")
	case "turtle_begin_fill":
		return b.dispatch0(OpBeginFill)
	case "turtle_end_fill":
		return b.dispatch0(OpEndFill)
	case "turtle_clear":
		return b.dispatch0(OpClear)
	case "turtle_background":
		return b.dispatchText(OpSetBackground, args)
	case "turtle_home":
		return b.dispatch0(OpHome)
	case "turtle_goto":
		x, err := floatArg(args, "x")
		if err != nil {
			return nil, err
		}
		y, err := floatArg(args, "y")
		if err != nil {
			return nil, err
		}
		b.emit(Command{Op: OpSetPosition, Args: []float64{x, y}})
		return nil, nil
	case "turtle_show":
		return b.dispatch0(OpShowTurtle)
	case "turtle_hide":
		return b.dispatch0(OpHideTurtle)
	case "turtle_speed":
		v, err := floatArg(args, "speed")
		if err != nil {
			return nil, err
		}
		b.t.SetSpeed(int(v))
		return nil, nil
	case "turtle_xcor":
		return b.t.X(), nil
	case "turtle_ycor":
		return b.t.Y(), nil
	case "turtle_heading":
		return b.t.Heading(), nil
	default:
		return nil, fmt.Errorf("unknown function: %s", name)
	}
}

func (b *Bindings) dispatch0(op Op) (any, error) {
	b.emit(Command{Op: op})
	return nil, nil
}

func (b *Bindings) dispatch1(op Op, args map[string]any, key string) (any, error) {
	v, err := floatArg(args, key)
	if err != nil {
		return nil, err
	}
	b.emit(Command{Op: op, Args: []float64{v}})
	return nil, nil
}

func (b *Bindings) dispatchText(op Op, args map[string]any) (any, error) {
	s, err := stringArg(args, "color")
	if err != nil {
		return nil, err
	}
	b.emit(Command{Op: op, Text: s})
	return nil, nil
}

func (b *Bindings) emit(cmd Command) {
	if b.rec != nil {
		b.rec.Enqueue(cmd)
		return
	}
	cmd.Apply(b.t)
}
