// Package engine orchestrates script executions: one at a time, under
// a timeout budget, with incremental output streaming, cooperative or
// hard cancellation, and a rolling performance aggregate.
//
// Two abandonment strategies exist. In direct mode the interpreter
// call cannot be preempted, so the engine stops waiting, bumps its
// generation counter, and drops anything the stale call produces
// later. In worker mode the isolated context is terminated for real
// and a replacement is spawned so the next run is ready immediately.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/terrapinhq/terrapin/engine/worker"
	"github.com/terrapinhq/terrapin/interp"
)

// Runner is the direct-mode execution backend. *interp.Client
// satisfies it.
type Runner interface {
	Evaluate(ctx context.Context, source string, opts interp.EvalOptions) interp.Result
}

// Request is one run of source text. At most one request is in flight
// per engine at a time.
type Request struct {
	SourceText string
	// Timeout caps the run; zero disables the budget.
	Timeout time.Duration
	// OutputSink receives each produced chunk as it arrives.
	OutputSink func(text string)
	// ErrorSink receives errors surfaced asynchronously, outside the
	// final result.
	ErrorSink func(detail interp.ErrorDetail)
	// UseWorker runs in the isolated context instead of the direct
	// client.
	UseWorker bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger attaches a zap logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithWorkerFactory enables isolated-context mode. The first worker is
// spawned lazily on the first UseWorker request.
func WithWorkerFactory(f worker.Factory) Option {
	return func(e *Engine) { e.factory = f }
}

// WithCallHandler sets the dispatcher for foreign-function calls
// relayed out of the isolated context (the turtle bindings,
// typically). Commands are applied here, on the controlling side,
// never inside the worker.
func WithCallHandler(h interp.CallHandler) Option {
	return func(e *Engine) { e.call = h }
}

// Engine drives executions against a Runner and, optionally, a pool of
// one isolated worker.
type Engine struct {
	runner  Runner
	factory worker.Factory
	call    interp.CallHandler
	log     *zap.Logger

	mu   sync.Mutex
	busy bool
	gen  uint64 // generation of the in-flight request

	sinkMu  sync.Mutex
	sinkGen uint64
	outSink func(string)
	errSink func(interp.ErrorDetail)

	stopMu sync.Mutex
	stopCh chan struct{}

	workerMu sync.Mutex
	w        *worker.Worker

	metrics Metrics
}

// New builds an engine over the given direct-mode runner.
func New(runner Runner, opts ...Option) *Engine {
	e := &Engine{runner: runner, log: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handlers returns the slots to wire into the direct-mode interpreter
// client at composition time. They only catch output produced outside
// an engine-driven run (bootstrap chatter); during a run the engine
// installs per-call sinks stamped with the run's generation.
func (e *Engine) Handlers() interp.Handlers {
	return interp.Handlers{
		OnOutput: e.forwardOutput,
		OnError:  e.forwardError,
	}
}

func (e *Engine) forwardOutput(text string) {
	e.sinkMu.Lock()
	sink := e.outSink
	e.sinkMu.Unlock()
	if sink != nil {
		sink(text)
	}
}

func (e *Engine) forwardError(detail interp.ErrorDetail) {
	e.sinkMu.Lock()
	sink := e.errSink
	e.sinkMu.Unlock()
	if sink != nil {
		sink(detail)
	}
}

// deliverOutput forwards a chunk only while the sinks still belong to
// the generation that produced it. A stale call emitting after its
// request was abandoned is dropped even if a newer request has its
// own sinks installed by then.
func (e *Engine) deliverOutput(gen uint64, text string) {
	e.sinkMu.Lock()
	sink := e.outSink
	if e.sinkGen != gen {
		sink = nil
	}
	e.sinkMu.Unlock()
	if sink != nil {
		sink(text)
	}
}

func (e *Engine) deliverError(gen uint64, detail interp.ErrorDetail) {
	e.sinkMu.Lock()
	sink := e.errSink
	if e.sinkGen != gen {
		sink = nil
	}
	e.sinkMu.Unlock()
	if sink != nil {
		sink(detail)
	}
}

func (e *Engine) setSinks(gen uint64, out func(string), errs func(interp.ErrorDetail)) {
	e.sinkMu.Lock()
	e.sinkGen = gen
	e.outSink = out
	e.errSink = errs
	e.sinkMu.Unlock()
}

// abandon drops the sinks for gen so anything the stale call produces
// later goes nowhere. A newer request's sinks are left alone.
func (e *Engine) abandon(gen uint64) {
	e.sinkMu.Lock()
	if e.sinkGen == gen {
		e.outSink = nil
		e.errSink = nil
	}
	e.sinkMu.Unlock()
}

// Execute runs one request to completion, never raising script
// failures as errors: they come back as data in the result. A call
// while another request is in flight returns an immediate
// "already executing" failure without touching the interpreter.
func (e *Engine) Execute(ctx context.Context, req Request) interp.Result {
	if req.UseWorker && e.factory == nil {
		return interp.Failure(interp.ErrorDetail{
			Kind:    interp.KindExecutionError,
			Message: "isolated context unavailable",
		}, 0)
	}

	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return interp.Failure(interp.ErrorDetail{
			Kind:    interp.KindExecutionError,
			Message: "already executing",
		}, 0)
	}
	e.busy = true
	e.gen++
	gen := e.gen
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.busy = false
		e.mu.Unlock()
	}()

	runID := xid.New().String()
	start := time.Now()
	log := e.log.With(zap.String("run", runID), zap.Uint64("generation", gen))

	e.setSinks(gen, req.OutputSink, req.ErrorSink)
	defer e.abandon(gen)

	stop := e.armStop()
	defer e.disarmStop()

	var timeC <-chan time.Time
	if req.Timeout > 0 {
		timer := time.NewTimer(req.Timeout)
		defer timer.Stop()
		timeC = timer.C
	}

	var res interp.Result
	var timedOut bool
	if req.UseWorker {
		res, timedOut = e.runWorker(ctx, req, gen, start, timeC, stop, log)
	} else {
		res, timedOut = e.runDirect(ctx, req, gen, start, timeC, stop, log)
	}

	// Wall time is the engine's own clock; the interpreter's opinion
	// is not trusted. Timeouts keep the synthesized budget value.
	if !timedOut {
		res.WallTimeMs = time.Since(start).Milliseconds()
	}
	e.metrics.record(res, timedOut)

	log.Info("execution finished",
		zap.Bool("success", res.Success),
		zap.Bool("timedOut", timedOut),
		zap.Int64("wallTimeMs", res.WallTimeMs))
	return res
}

func (e *Engine) runDirect(ctx context.Context, req Request, gen uint64, start time.Time,
	timeC <-chan time.Time, stop <-chan struct{}, log *zap.Logger) (interp.Result, bool) {

	done := make(chan interp.Result, 1)
	go func() {
		// Sinks are stamped with this run's generation so output a
		// stale call produces later never reaches a newer request.
		done <- e.runner.Evaluate(ctx, req.SourceText, interp.EvalOptions{
			OnOutput: func(text string) { e.deliverOutput(gen, text) },
			OnError:  func(detail interp.ErrorDetail) { e.deliverError(gen, detail) },
		})
	}()

	select {
	case res := <-done:
		return res, false
	case <-timeC:
		// The underlying call keeps running; it cannot be preempted.
		// Stop listening and let generation tagging discard whatever
		// it produces later.
		e.abandon(gen)
		log.Warn("direct execution abandoned on timeout",
			zap.Duration("budget", req.Timeout))
		return interp.TimeoutResult(req.Timeout), true
	case <-stop:
		e.abandon(gen)
		return interp.Failure(interp.ErrorDetail{
			Kind:    interp.KindExecutionError,
			Message: "stopped by user",
		}, time.Since(start)), false
	case <-ctx.Done():
		e.abandon(gen)
		return interp.Failure(interp.ErrorDetail{
			Kind:    interp.KindExecutionError,
			Message: ctx.Err().Error(),
		}, time.Since(start)), false
	}
}

func (e *Engine) runWorker(ctx context.Context, req Request, gen uint64, start time.Time,
	timeC <-chan time.Time, stop <-chan struct{}, log *zap.Logger) (interp.Result, bool) {

	w, err := e.ensureWorker()
	if err != nil {
		return interp.Failure(interp.Normalize(err, interp.KindInitializationError),
			time.Since(start)), false
	}

	if err := w.Execute(req.SourceText, 0); err != nil {
		return interp.Failure(interp.Normalize(err, interp.KindExecutionError),
			time.Since(start)), false
	}

	for {
		select {
		case ev := <-w.Events():
			switch ev.Type {
			case worker.EventOutput:
				e.deliverOutput(gen, ev.Text)
			case worker.EventCommand:
				// Relayed foreign-function call: applied here on the
				// controlling side, reply unblocks the script.
				ev.Reply(e.applyCommand(ctx, ev.Name, ev.Args))
			case worker.EventResult:
				return ev.Result, false
			case worker.EventError:
				if !ev.Fatal {
					e.deliverError(gen, ev.Err)
					continue
				}
				e.recycleWorker(w, log)
				return interp.Failure(ev.Err, time.Since(start)), false
			}
		case <-timeC:
			e.abandon(gen)
			e.recycleWorker(w, log)
			log.Warn("worker terminated on timeout", zap.Duration("budget", req.Timeout))
			return interp.TimeoutResult(req.Timeout), true
		case <-stop:
			e.abandon(gen)
			e.recycleWorker(w, log)
			return interp.Failure(interp.ErrorDetail{
				Kind:    interp.KindExecutionError,
				Message: "stopped by user",
			}, time.Since(start)), false
		case <-ctx.Done():
			e.abandon(gen)
			e.recycleWorker(w, log)
			return interp.Failure(interp.ErrorDetail{
				Kind:    interp.KindExecutionError,
				Message: ctx.Err().Error(),
			}, time.Since(start)), false
		}
	}
}

func (e *Engine) applyCommand(ctx context.Context, name string, args map[string]any) (any, error) {
	if e.call == nil {
		return nil, fmt.Errorf("unknown function: %s", name)
	}
	return e.call(ctx, name, args)
}

// ensureWorker returns the live worker, spawning one if needed.
func (e *Engine) ensureWorker() (*worker.Worker, error) {
	e.workerMu.Lock()
	defer e.workerMu.Unlock()

	if e.w != nil {
		return e.w, nil
	}
	w, err := worker.Spawn(e.factory, e.log.Named("worker"))
	if err != nil {
		return nil, err
	}
	e.w = w
	return w, nil
}

// recycleWorker kills the given worker and spawns a replacement so the
// next run is ready immediately.
func (e *Engine) recycleWorker(old *worker.Worker, log *zap.Logger) {
	e.workerMu.Lock()
	defer e.workerMu.Unlock()

	old.Terminate()
	if e.w == old {
		e.w = nil
	}
	w, err := worker.Spawn(e.factory, e.log.Named("worker"))
	if err != nil {
		log.Warn("worker respawn failed", zap.Error(err))
		return
	}
	e.w = w
}

// Stop cancels the in-flight request, if any. In worker mode the
// computation is killed for real; in direct mode it is abandoned and
// its late products are discarded by generation.
func (e *Engine) Stop() {
	e.stopMu.Lock()
	defer e.stopMu.Unlock()
	if e.stopCh != nil {
		close(e.stopCh)
		e.stopCh = nil
	}
}

func (e *Engine) armStop() <-chan struct{} {
	e.stopMu.Lock()
	defer e.stopMu.Unlock()
	e.stopCh = make(chan struct{})
	return e.stopCh
}

func (e *Engine) disarmStop() {
	e.stopMu.Lock()
	defer e.stopMu.Unlock()
	e.stopCh = nil
}

// Metrics returns a snapshot of the rolling aggregate.
func (e *Engine) Metrics() Snapshot {
	return e.metrics.Snapshot()
}

// ResetMetrics zeroes the aggregate.
func (e *Engine) ResetMetrics() {
	e.metrics.Reset()
}

// Close tears down the worker, if one is running. The direct-mode
// runner's lifecycle belongs to whoever built it.
func (e *Engine) Close() {
	e.workerMu.Lock()
	defer e.workerMu.Unlock()
	if e.w != nil {
		e.w.Terminate()
		e.w = nil
	}
}
