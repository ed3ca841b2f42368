package turtle

import (
	"testing"
	"time"
)

func square(seq *Sequencer, side float64) {
	for i := 0; i < 4; i++ {
		seq.Enqueue(Command{Op: OpForward, Args: []float64{side}})
		seq.Enqueue(Command{Op: OpTurnRight, Args: []float64{90}})
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestDelayForSpeed(t *testing.T) {
	cases := []struct {
		speed int
		want  time.Duration
	}{
		{0, 0},
		{1, 460 * time.Millisecond},
		{5, 260 * time.Millisecond},
		{10, 10 * time.Millisecond},
		{99, 10 * time.Millisecond},
		{-3, 0},
	}
	for _, c := range cases {
		if got := DelayForSpeed(c.speed); got != c.want {
			t.Errorf("DelayForSpeed(%d) = %v, want %v", c.speed, got, c.want)
		}
	}
}

func TestPlayAllDrainsInstantly(t *testing.T) {
	tr := New()
	seq := NewSequencer(tr)
	square(seq, 50)

	done := false
	seq.OnComplete(func() { done = true })
	seq.PlayAll()

	if !done {
		t.Error("completion callback not fired")
	}
	if seq.State() != StateComplete {
		t.Errorf("state %v, want complete", seq.State())
	}
	if !almostEqual(tr.X(), 0) || !almostEqual(tr.Y(), 0) {
		t.Errorf("square did not close: (%v, %v)", tr.X(), tr.Y())
	}
}

func TestAsyncPlayback(t *testing.T) {
	tr := New()
	tr.SetSpeed(10) // 10ms cadence
	seq := NewSequencer(tr)
	square(seq, 10)

	completed := make(chan struct{})
	seq.OnComplete(func() { close(completed) })

	seq.Play()
	if seq.State() != StatePlaying {
		t.Fatalf("state %v after Play, want playing", seq.State())
	}

	// Play while playing must be a no-op.
	seq.Play()

	select {
	case <-completed:
	case <-time.After(5 * time.Second):
		t.Fatal("playback never completed")
	}
	if seq.State() != StateComplete {
		t.Errorf("state %v, want complete", seq.State())
	}
}

func TestPauseResume(t *testing.T) {
	tr := New()
	tr.SetSpeed(1) // long cadence so the pause lands mid-queue
	seq := NewSequencer(tr)
	for i := 0; i < 20; i++ {
		seq.Enqueue(Command{Op: OpTurnRight, Args: []float64{90}})
	}

	seq.Play()
	waitFor(t, func() bool { return seq.State() == StatePlaying }, "never started")
	seq.Pause()
	if seq.State() != StatePaused {
		t.Fatalf("state %v after Pause, want paused", seq.State())
	}

	tr.SetSpeed(10)
	completed := make(chan struct{})
	seq.OnComplete(func() { close(completed) })
	seq.Resume()

	select {
	case <-completed:
	case <-time.After(5 * time.Second):
		t.Fatal("did not complete after Resume")
	}
}

func TestStopReturnsToIdle(t *testing.T) {
	tr := New()
	tr.SetSpeed(1)
	seq := NewSequencer(tr)
	square(seq, 10)

	seq.Play()
	seq.Stop()
	if seq.State() != StateIdle {
		t.Errorf("state %v after Stop, want idle", seq.State())
	}
}

func TestResetRewindsCursor(t *testing.T) {
	tr := New()
	seq := NewSequencer(tr)
	seq.Enqueue(Command{Op: OpForward, Args: []float64{10}})
	seq.Enqueue(Command{Op: OpForward, Args: []float64{10}})

	seq.PlayAll()
	if !almostEqual(tr.Y(), 20) {
		t.Fatalf("y=%v after first pass", tr.Y())
	}

	seq.Reset()
	if seq.State() != StateIdle {
		t.Fatalf("state %v after Reset, want idle", seq.State())
	}
	if seq.Len() != 2 {
		t.Fatal("Reset cleared the queue")
	}

	seq.PlayAll()
	if !almostEqual(tr.Y(), 40) {
		t.Errorf("y=%v after replay, want 40", tr.Y())
	}
}

func TestClearEmptiesQueue(t *testing.T) {
	tr := New()
	seq := NewSequencer(tr)
	square(seq, 10)

	seq.Clear()
	if seq.Len() != 0 {
		t.Error("queue not emptied")
	}
	if seq.State() != StateIdle {
		t.Errorf("state %v after Clear, want idle", seq.State())
	}
}

func TestStepExecutesOneCommand(t *testing.T) {
	tr := New()
	seq := NewSequencer(tr)
	seq.Enqueue(Command{Op: OpForward, Args: []float64{5}})
	seq.Enqueue(Command{Op: OpForward, Args: []float64{5}})

	if drained := seq.Step(); drained {
		t.Error("drained after first of two commands")
	}
	if !almostEqual(tr.Y(), 5) {
		t.Errorf("y=%v after one step, want 5", tr.Y())
	}
	if drained := seq.Step(); !drained {
		t.Error("not drained after final command")
	}
	if drained := seq.Step(); !drained {
		t.Error("step on empty queue must report drained")
	}
}

func TestCommandLogRoundTrips(t *testing.T) {
	seq := NewSequencer(New())
	seq.Enqueue(Command{Op: OpSetPenColor, Text: "red"})
	seq.Enqueue(Command{Op: OpSetPosition, Args: []float64{10, -20}})

	cmds := seq.Commands()
	if len(cmds) != 2 {
		t.Fatalf("got %d commands", len(cmds))
	}
	if cmds[0].Op != OpSetPenColor || cmds[0].Text != "red" {
		t.Errorf("bad first command: %+v", cmds[0])
	}
	if cmds[1].Op.String() != "set_position" {
		t.Errorf("bad op name: %s", cmds[1].Op)
	}
}
