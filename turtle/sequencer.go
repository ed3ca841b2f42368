package turtle

import (
	"sync"
	"time"
)

// DelayForSpeed converts a turtle speed into the pause between animated
// commands: 510-50*speed milliseconds for speeds 1-10, zero for speed 0
// (instant).
func DelayForSpeed(speed int) time.Duration {
	if speed <= 0 {
		return 0
	}
	if speed > 10 {
		speed = 10
	}
	return time.Duration(510-50*speed) * time.Millisecond
}

// PlayState is the sequencer's playback state.
type PlayState int

const (
	StateIdle PlayState = iota
	StatePlaying
	StatePaused
	StateComplete
)

func (s PlayState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateComplete:
		return "complete"
	}
	return "unknown"
}

// Sequencer records turtle commands and replays them against a target
// turtle, either instantly or at a cadence derived from the turtle's
// speed. Recording decouples when a command was issued from when it is
// rendered, so a script can finish long before its drawing does.
type Sequencer struct {
	mu         sync.Mutex
	target     *Turtle
	queue      []Command
	cursor     int
	state      PlayState
	onComplete func()

	stop chan struct{} // closed to interrupt the current driver
	gen  int           // invalidates stale drivers
}

// NewSequencer returns a sequencer replaying onto target.
func NewSequencer(target *Turtle) *Sequencer {
	return &Sequencer{target: target}
}

// OnComplete registers a callback fired when playback drains the queue.
func (s *Sequencer) OnComplete(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = fn
}

// Enqueue appends a command without executing it.
func (s *Sequencer) Enqueue(cmd Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, cmd)
}

// Len returns the number of recorded commands.
func (s *Sequencer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// State returns the current playback state.
func (s *Sequencer) State() PlayState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Commands returns a copy of the recorded queue.
func (s *Sequencer) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Command, len(s.queue))
	copy(out, s.queue)
	return out
}

// PlayAll drains the queue synchronously, ignoring the speed delay.
// Any asynchronous playback in progress is interrupted first.
func (s *Sequencer) PlayAll() {
	s.mu.Lock()
	s.interruptLocked()
	s.state = StatePlaying
	s.mu.Unlock()

	for {
		s.mu.Lock()
		if s.cursor >= len(s.queue) {
			s.state = StateComplete
			cb := s.onComplete
			s.mu.Unlock()
			if cb != nil {
				cb()
			}
			return
		}
		cmd := s.queue[s.cursor]
		s.cursor++
		s.mu.Unlock()

		cmd.Apply(s.target)
	}
}

// Play begins or resumes asynchronous playback. Calling Play while
// already playing is a no-op, as is Play after the queue completed
// (Reset first).
func (s *Sequencer) Play() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StatePlaying || s.state == StateComplete {
		return
	}
	s.startDriverLocked()
}

// Pause suspends asynchronous playback between commands.
func (s *Sequencer) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePlaying {
		return
	}
	s.interruptLocked()
	s.state = StatePaused
}

// Resume continues playback after a Pause.
func (s *Sequencer) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePaused {
		return
	}
	s.startDriverLocked()
}

// Stop halts playback and returns to Idle. The queue and cursor are
// left as they are.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptLocked()
	s.state = StateIdle
}

// Reset rewinds the cursor to the start without clearing the recorded
// queue, returning to Idle.
func (s *Sequencer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptLocked()
	s.cursor = 0
	s.state = StateIdle
}

// Clear empties the queue and stops playback.
func (s *Sequencer) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptLocked()
	s.queue = nil
	s.cursor = 0
	s.state = StateIdle
}

// Step executes exactly one queued command if present, regardless of
// playback state, and reports whether the queue is now drained.
func (s *Sequencer) Step() (drained bool) {
	s.mu.Lock()
	if s.cursor >= len(s.queue) {
		s.mu.Unlock()
		return true
	}
	cmd := s.queue[s.cursor]
	s.cursor++
	drained = s.cursor >= len(s.queue)
	s.mu.Unlock()

	cmd.Apply(s.target)
	return drained
}

// interruptLocked invalidates the running driver, if any.
func (s *Sequencer) interruptLocked() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.gen++
}

// startDriverLocked transitions to Playing and launches the playback
// goroutine. The delay between commands is a cancellable timer so Pause
// and Stop take effect immediately rather than after the current wait.
func (s *Sequencer) startDriverLocked() {
	s.state = StatePlaying
	s.stop = make(chan struct{})
	s.gen++
	go s.drive(s.gen, s.stop)
}

func (s *Sequencer) drive(gen int, stop chan struct{}) {
	for {
		s.mu.Lock()
		if s.gen != gen || s.state != StatePlaying {
			s.mu.Unlock()
			return
		}
		if s.cursor >= len(s.queue) {
			s.state = StateComplete
			s.stop = nil
			cb := s.onComplete
			s.mu.Unlock()
			if cb != nil {
				cb()
			}
			return
		}
		cmd := s.queue[s.cursor]
		s.cursor++
		s.mu.Unlock()

		cmd.Apply(s.target)

		delay := DelayForSpeed(s.target.Speed())
		if delay == 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-stop:
			timer.Stop()
			return
		}
	}
}
