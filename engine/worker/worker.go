// Package worker runs executions in an isolated peer that owns its own
// interpreter client, so a hung computation can be killed for real
// without taking the controlling side down with it.
//
// All communication crosses the boundary as value-typed messages; no
// pointers into worker state leak out. Terminating a worker cancels
// its root context, which tears the wazero module down mid-flight, and
// the spawner is expected to start a replacement immediately.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/terrapinhq/terrapin/interp"
)

// ErrTerminated indicates a message sent to a worker that is already
// gone.
var ErrTerminated = errors.New("worker terminated")

// spawnTimeout caps how long Spawn waits for the peer's ready message.
const spawnTimeout = 45 * time.Second

// Session is the slice of the interpreter client the worker drives.
// *interp.Client satisfies it.
type Session interface {
	Evaluate(ctx context.Context, source string, opts interp.EvalOptions) interp.Result
	Compile(ctx context.Context, source, cacheKey string) (interp.CompileResult, error)
	Dispose() error
}

// Factory builds the worker's private session. The handlers deliver
// streamed output and asynchronous errors back across the boundary,
// and call relays foreign-function invocations (turtle commands) out
// as EventCommand messages so they are applied on the controlling
// side, never against shared state from the worker's goroutine. The
// context is the worker's life: when it ends, the session must die
// with it.
type Factory func(ctx context.Context, h interp.Handlers, call interp.CallHandler) (Session, error)

// EventType tags outbound messages.
type EventType int

const (
	EventReady EventType = iota
	EventOutput
	EventResult
	EventError
	EventCommand
)

type callReply struct {
	data any
	err  error
}

// Event is one outbound message from the worker.
type Event struct {
	Type   EventType
	Text   string             // EventOutput
	Result interp.Result      // EventResult
	Err    interp.ErrorDetail // EventError
	// Fatal marks errors that end the in-flight request (panics,
	// initialization failures) as opposed to errors a script surfaced
	// asynchronously while continuing to run.
	Fatal bool

	// EventCommand: one foreign-function call crossing the boundary.
	// The script inside the worker stays suspended until Reply.
	Name  string
	Args  map[string]any
	reply chan callReply
}

// Reply answers a command event with the value (or error) the
// suspended script should see.
func (ev Event) Reply(data any, err error) {
	if ev.reply == nil {
		return
	}
	select {
	case ev.reply <- callReply{data: data, err: err}:
	default:
	}
}

type commandKind int

const (
	cmdExecute commandKind = iota
	cmdCompile
	cmdDispose
)

type command struct {
	kind     commandKind
	source   string
	cacheKey string
	timeout  time.Duration
}

// Worker is a handle to the isolated peer.
type Worker struct {
	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan command
	events chan Event
	log    *zap.Logger
}

// Spawn starts a worker and blocks until its interpreter reported
// ready (including the interpreter's startup settling window) or
// failed to initialize.
func Spawn(factory Factory, log *zap.Logger) (*Worker, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		ctx:    ctx,
		cancel: cancel,
		cmds:   make(chan command),
		events: make(chan Event, 64),
		log:    log,
	}
	go w.loop(factory)

	deadline := time.NewTimer(spawnTimeout)
	defer deadline.Stop()
	for {
		select {
		case ev := <-w.events:
			switch ev.Type {
			case EventReady:
				return w, nil
			case EventCommand:
				// Bootstrap code has no controlling side to apply
				// commands yet.
				ev.Reply(nil, errors.New("host functions unavailable during startup"))
			case EventError:
				cancel()
				return nil, fmt.Errorf("worker init: %s", ev.Err.Error())
			default:
				cancel()
				return nil, fmt.Errorf("worker init: unexpected message %d", ev.Type)
			}
		case <-deadline.C:
			cancel()
			return nil, errors.New("worker init: timed out waiting for ready")
		}
	}
}

// Events is the worker's outbound message stream.
func (w *Worker) Events() <-chan Event {
	return w.events
}

// Execute asks the worker to evaluate source. The result arrives as an
// EventResult; output streams as EventOutput messages before it.
func (w *Worker) Execute(source string, timeout time.Duration) error {
	return w.send(command{kind: cmdExecute, source: source, timeout: timeout})
}

// Compile asks the worker to compile source, retaining it under
// cacheKey in the worker's private program cache.
func (w *Worker) Compile(source, cacheKey string) error {
	return w.send(command{kind: cmdCompile, source: source, cacheKey: cacheKey})
}

// Dispose shuts the worker down gracefully once queued work is done.
func (w *Worker) Dispose() {
	select {
	case w.cmds <- command{kind: cmdDispose}:
	case <-w.ctx.Done():
	}
}

// Terminate kills the worker and any in-progress computation for
// real. The worker cannot be reused afterward.
func (w *Worker) Terminate() {
	w.cancel()
}

func (w *Worker) send(cmd command) error {
	select {
	case w.cmds <- cmd:
		return nil
	case <-w.ctx.Done():
		return ErrTerminated
	}
}

func (w *Worker) emit(ev Event) {
	select {
	case w.events <- ev:
	case <-w.ctx.Done():
	}
}

func (w *Worker) loop(factory Factory) {
	// An uncaught panic becomes a message, never a silent death.
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("worker panic", zap.Any("panic", r))
			w.emit(Event{
				Type:  EventError,
				Fatal: true,
				Err: interp.ErrorDetail{
					Kind:    interp.KindExecutionError,
					Message: fmt.Sprintf("worker panic: %v", r),
				},
			})
		}
	}()

	// Foreign-function calls cross the boundary as EventCommand
	// messages; the invoking goroutine blocks here until the
	// controlling side replies or the worker dies.
	relay := func(ctx context.Context, name string, args map[string]any) (any, error) {
		reply := make(chan callReply, 1)
		select {
		case w.events <- Event{Type: EventCommand, Name: name, Args: args, reply: reply}:
		case <-w.ctx.Done():
			return nil, ErrTerminated
		}
		select {
		case r := <-reply:
			return r.data, r.err
		case <-w.ctx.Done():
			return nil, ErrTerminated
		}
	}

	sess, err := factory(w.ctx, interp.Handlers{
		OnOutput: func(text string) {
			w.emit(Event{Type: EventOutput, Text: text})
		},
		OnError: func(detail interp.ErrorDetail) {
			w.emit(Event{Type: EventError, Err: detail})
		},
	}, relay)
	if err != nil {
		w.emit(Event{
			Type:  EventError,
			Fatal: true,
			Err:   interp.Normalize(err, interp.KindInitializationError),
		})
		return
	}
	defer sess.Dispose()

	w.emit(Event{Type: EventReady})

	for {
		select {
		case <-w.ctx.Done():
			return
		case cmd := <-w.cmds:
			switch cmd.kind {
			case cmdExecute:
				res := sess.Evaluate(w.ctx, cmd.source, interp.EvalOptions{Timeout: cmd.timeout})
				w.emit(Event{Type: EventResult, Result: res})
			case cmdCompile:
				cr, err := sess.Compile(w.ctx, cmd.source, cmd.cacheKey)
				if err != nil {
					w.emit(Event{
						Type:  EventError,
						Fatal: true,
						Err:   interp.Normalize(err, interp.KindExecutionError),
					})
					continue
				}
				w.emit(Event{Type: EventResult, Result: interp.Result{
					Success: cr.Success,
					Errors:  cr.Errors,
				}})
			case cmdDispose:
				return
			}
		}
	}
}
