package interp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
)

// StartupSettleDelay is the fixed settling window after the module
// starts before its entry point is trusted to exist. The module's
// startup is asynchronous in a way that is not observable from the
// outside, so this delay is a required synchronization point. Tunable
// here, never scattered.
const StartupSettleDelay = 100 * time.Millisecond

// defaultInitTimeout caps how long Initialize waits for the ready
// signal before reporting an initialization error.
const defaultInitTimeout = 30 * time.Second

// Handlers are the callback slots wired at Initialize.
type Handlers struct {
	// OnOutput receives each produced text chunk, in order.
	OnOutput func(text string)
	// OnError receives errors surfaced asynchronously, outside the
	// final result.
	OnError func(detail ErrorDetail)
	// OnInput answers interactive input requests from the script.
	OnInput func() string
}

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	logger           *zap.Logger
	call             CallHandler
	initTimeout      time.Duration
	memoryLimitPages uint32
	cacheDir         string
}

// WithLogger attaches a zap logger. The default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *clientConfig) { c.logger = log }
}

// WithCallHandler wires the foreign-function dispatcher scripts reach
// through the call frames (the turtle bindings, typically).
func WithCallHandler(h CallHandler) Option {
	return func(c *clientConfig) { c.call = h }
}

// WithInitTimeout overrides how long Initialize waits for the ready
// signal.
func WithInitTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.initTimeout = d }
}

// WithMemoryLimit caps the module's memory in 64KB pages.
func WithMemoryLimit(pages uint32) Option {
	return func(c *clientConfig) { c.memoryLimitPages = pages }
}

// WithCompilationCacheDir enables a persistent wazero compilation
// cache for faster startup.
func WithCompilationCacheDir(dir string) Option {
	return func(c *clientConfig) { c.cacheDir = dir }
}

// Client hosts one interpreter instance and owns its compiled-program
// cache. Initialize must be called exactly once before any other
// operation; calling it twice builds a second bridge over the first.
type Client struct {
	profile *Profile
	cfg     clientConfig
	log     *zap.Logger

	runtime       wazero.Runtime
	cache         wazero.CompilationCache
	cancelRuntime context.CancelFunc

	stdin       *io.PipeWriter
	stdinReader *io.PipeReader
	stream      *streamWriter
	proto       *protocolHandler

	// sinkMu guards the per-call overrides an in-flight submit
	// installs over the Initialize handlers.
	sinkMu  sync.Mutex
	baseOut func(string)
	baseErr func(ErrorDetail)
	callOut func(string)
	callErr func(ErrorDetail)

	mu          sync.Mutex
	execMu      sync.Mutex
	initialized bool
	disposed    bool
	programs    map[string]string // cache key -> interpreter program id
}

// NewClient builds an uninitialized client for the given interpreter
// profile.
func NewClient(profile *Profile, opts ...Option) *Client {
	cfg := clientConfig{initTimeout: defaultInitTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	log := cfg.logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		profile:  profile,
		cfg:      cfg,
		log:      log,
		programs: make(map[string]string),
	}
}

// Initialize loads the interpreter binary, starts its session loop,
// and wires the handler slots. If the binary or its entry point is
// absent this is a fatal setup error; the caller falls back to a
// degraded no-execution mode rather than retrying.
func (c *Client) Initialize(ctx context.Context, h Handlers) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return ErrNotInitialized
	}

	binary, err := c.profile.Load()
	if err != nil {
		return err
	}

	rtCtx, cancel := context.WithCancel(context.Background())

	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if c.cfg.cacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(c.cfg.cacheDir)
		if err != nil {
			cancel()
			return fmt.Errorf("%w: compilation cache: %v", ErrInitialization, err)
		}
		c.cache = cache
		rtConfig = rtConfig.WithCompilationCache(cache)
	}
	if c.cfg.memoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(c.cfg.memoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(rtCtx, rtConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(rtCtx, rt); err != nil {
		rt.Close(rtCtx)
		cancel()
		return fmt.Errorf("%w: instantiate WASI: %v", ErrInitialization, err)
	}

	compiled, err := rt.CompileModule(rtCtx, binary)
	if err != nil {
		rt.Close(rtCtx)
		cancel()
		return fmt.Errorf("%w: compile %s: %v", ErrInitialization, c.profile.Name, err)
	}

	c.runtime = rt
	c.cancelRuntime = cancel

	c.baseOut = h.OnOutput
	c.baseErr = h.OnError

	c.stdinReader, c.stdin = io.Pipe()
	c.stream = &streamWriter{sink: c.deliverOutput}
	c.proto = newProtocolHandler(rtCtx, c.stdin)
	c.proto.call = c.cfg.call
	c.proto.onError = c.deliverError
	c.proto.onInput = h.OnInput
	c.proto.emit = c.deliverOutput

	moduleConfig := wazero.NewModuleConfig().
		WithStdout(c.stream).
		WithStderr(c.proto).
		WithStdin(c.stdinReader).
		WithArgs(c.profile.Args...).
		WithName("")
	for k, v := range c.profile.Env {
		moduleConfig = moduleConfig.WithEnv(k, v)
	}

	go func() {
		if _, err := rt.InstantiateModule(rtCtx, compiled, moduleConfig); err != nil {
			c.log.Warn("interpreter module exited", zap.Error(err))
		}
	}()

	select {
	case <-c.proto.Ready():
	case <-time.After(c.cfg.initTimeout):
		c.teardownLocked()
		return fmt.Errorf("%w: entry point did not come up within %v",
			ErrInitialization, c.cfg.initTimeout)
	case <-ctx.Done():
		c.teardownLocked()
		return fmt.Errorf("%w: %v", ErrInitialization, ctx.Err())
	}

	// The ready signal races the module's own export wiring; give it
	// the settling window before the first command.
	time.Sleep(StartupSettleDelay)

	if c.profile.Bootstrap != "" {
		if _, err := c.roundTrip(rtCtx, command{Type: "exec", Code: c.profile.Bootstrap}, 0); err != nil {
			c.teardownLocked()
			return fmt.Errorf("%w: bootstrap: %v", ErrInitialization, err)
		}
	}

	c.initialized = true
	c.log.Info("interpreter initialized", zap.String("profile", c.profile.Name))
	return nil
}

type command struct {
	Type string `json:"type"`
	Code string `json:"code,omitempty"`
	ID   string `json:"id,omitempty"`
}

// roundTrip sends one command and waits for its result frame. A zero
// timeout waits indefinitely (bounded by the runtime context).
func (c *Client) roundTrip(ctx context.Context, cmd command, timeout time.Duration) (wireResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c.proto.ResetExec()

	data, err := json.Marshal(cmd)
	if err != nil {
		return wireResult{}, fmt.Errorf("marshal command: %w", err)
	}
	if _, err := c.stdin.Write(append(data, '\n')); err != nil {
		return wireResult{}, fmt.Errorf("write command: %w", err)
	}

	select {
	case res := <-c.proto.Done():
		return res, nil
	case <-ctx.Done():
		return wireResult{}, ctx.Err()
	}
}

// deliverOutput routes a chunk to the in-flight call's sink when one
// is installed, else to the Initialize handler.
func (c *Client) deliverOutput(text string) {
	c.sinkMu.Lock()
	sink := c.callOut
	if sink == nil {
		sink = c.baseOut
	}
	c.sinkMu.Unlock()
	if sink != nil {
		sink(text)
	}
}

func (c *Client) deliverError(detail ErrorDetail) {
	c.sinkMu.Lock()
	sink := c.callErr
	if sink == nil {
		sink = c.baseErr
	}
	c.sinkMu.Unlock()
	if sink != nil {
		sink(detail)
	}
}

func (c *Client) setCallSinks(out func(string), errs func(ErrorDetail)) {
	c.sinkMu.Lock()
	c.callOut = out
	c.callErr = errs
	c.sinkMu.Unlock()
}

// Evaluate compiles and runs source in one step, returning the
// normalized result no matter how the interpreter signaled failure.
func (c *Client) Evaluate(ctx context.Context, source string, opts EvalOptions) Result {
	return c.submit(ctx, command{Type: "exec", Code: source}, opts)
}

// RunProgram executes a previously compiled program by id or cache
// key, with the same normalization contract as Evaluate.
func (c *Client) RunProgram(ctx context.Context, idOrKey string) Result {
	c.mu.Lock()
	id := idOrKey
	if mapped, ok := c.programs[idOrKey]; ok {
		id = mapped
	}
	c.mu.Unlock()
	return c.submit(ctx, command{Type: "run", ID: id}, EvalOptions{})
}

func (c *Client) submit(ctx context.Context, cmd command, opts EvalOptions) Result {
	c.execMu.Lock()
	defer c.execMu.Unlock()

	start := time.Now()

	c.mu.Lock()
	ready := c.initialized && !c.disposed
	c.mu.Unlock()
	if !ready {
		return Failure(ErrorDetail{
			Kind:    KindExecutionError,
			Message: ErrNotInitialized.Error(),
		}, time.Since(start))
	}

	c.setCallSinks(opts.OnOutput, opts.OnError)
	defer c.setCallSinks(nil, nil)

	c.stream.Reset()

	timeout := opts.Timeout
	res, err := c.roundTrip(ctx, cmd, timeout)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			if timeout <= 0 {
				timeout = elapsed
			}
			return TimeoutResult(timeout)
		}
		return Failure(Normalize(err, KindExecutionError), elapsed)
	}

	out := Result{
		Success:    res.Success,
		Output:     c.stream.String(),
		Warnings:   res.Warnings,
		WallTimeMs: elapsed.Milliseconds(),
	}
	if !res.Success {
		out.Errors = []ErrorDetail{normalizeRaw(res.Error, KindRuntimeError)}
	}
	return out
}

// Compile submits source for compilation only. With a cache key the
// compiled program is retained for a later RunProgram(key).
func (c *Client) Compile(ctx context.Context, source, cacheKey string) (CompileResult, error) {
	c.execMu.Lock()
	defer c.execMu.Unlock()

	c.mu.Lock()
	ready := c.initialized && !c.disposed
	c.mu.Unlock()
	if !ready {
		return CompileResult{}, ErrNotInitialized
	}

	res, err := c.roundTrip(ctx, command{Type: "compile", Code: source}, 0)
	if err != nil {
		return CompileResult{}, err
	}

	out := CompileResult{Success: res.Success, ProgramID: res.ID}
	if !res.Success {
		out.Errors = []ErrorDetail{normalizeRaw(res.Error, KindCompileError)}
		return out, nil
	}
	if cacheKey != "" {
		c.mu.Lock()
		c.programs[cacheKey] = res.ID
		c.mu.Unlock()
	}
	return out, nil
}

// Version queries the interpreter's version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	c.execMu.Lock()
	defer c.execMu.Unlock()

	c.mu.Lock()
	ready := c.initialized && !c.disposed
	c.mu.Unlock()
	if !ready {
		return "", ErrNotInitialized
	}

	res, err := c.roundTrip(ctx, command{Type: "version"}, 0)
	if err != nil {
		return "", err
	}
	return res.Version, nil
}

// Dispose releases the bridge and clears cached programs. Every
// operation after Dispose fails with ErrNotInitialized.
func (c *Client) Dispose() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return nil
	}
	c.disposed = true
	c.initialized = false
	c.programs = make(map[string]string)
	c.teardownLocked()
	return nil
}

func (c *Client) teardownLocked() {
	if c.stdinReader != nil {
		c.stdinReader.Close()
	}
	if c.stdin != nil {
		c.stdin.Close()
	}
	if c.cancelRuntime != nil {
		c.cancelRuntime()
	}
	if c.runtime != nil {
		c.runtime.Close(context.Background())
		c.runtime = nil
	}
	if c.cache != nil {
		c.cache.Close(context.Background())
		c.cache = nil
	}
}
