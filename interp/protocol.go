package interp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
)

// Wire framing. The interpreter writes frames on stderr between runs
// of ordinary text: a ready signal once its session loop is up, result
// frames when a command finishes, error frames for asynchronous
// failures, and call frames for host function invocations (turtle
// commands, input requests). Frame format: PREFIX + JSON + "\x00".
const (
	callPrefix   = "\x00TRRP:"
	resultPrefix = "\x00TRRP_RESULT:"
	errorPrefix  = "\x00TRRP_ERROR:"
	readySignal  = "\x00TRRP_READY\x00"
	frameSuffix  = "\x00"
)

// CallHandler dispatches one foreign-function call from the running
// script (turtle commands and friends).
type CallHandler func(ctx context.Context, name string, args map[string]any) (any, error)

type callRequest struct {
	Fn   string         `json:"fn"`
	Args map[string]any `json:"args"`
}

type callResponse struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// streamWriter forwards stdout chunks to the output sink in arrival
// order while keeping the full capture for the final result. No
// batching: interleaving with canvas draws is observable.
type streamWriter struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	sink func(string)
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.buf.Write(p)
	sink := w.sink
	w.mu.Unlock()

	if sink != nil && len(p) > 0 {
		sink(string(p))
	}
	return len(p), nil
}

func (w *streamWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func (w *streamWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Reset()
}

// protocolHandler intercepts the interpreter's stderr. Ordinary text
// passes through to the output stream; frames trigger host calls,
// completion signals, or async error delivery.
type protocolHandler struct {
	ctx     context.Context
	call    CallHandler
	onError func(ErrorDetail)
	onInput func() string
	emit    func(string)
	stdin   *io.PipeWriter

	mu      sync.Mutex
	writeMu sync.Mutex
	buf     bytes.Buffer
	ready   bool
	readyCh chan struct{}
	doneCh  chan wireResult
}

func newProtocolHandler(ctx context.Context, stdin *io.PipeWriter) *protocolHandler {
	return &protocolHandler{
		ctx:     ctx,
		stdin:   stdin,
		readyCh: make(chan struct{}),
		doneCh:  make(chan wireResult, 1),
	}
}

func (p *protocolHandler) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf.Write(data)
	p.drain()
	return len(data), nil
}

// drain consumes complete frames from the buffer, forwarding plain
// text in between. An incomplete frame tail stays buffered for the
// next Write.
func (p *protocolHandler) drain() {
	for {
		content := p.buf.String()
		idx := strings.IndexByte(content, 0)
		if idx == -1 {
			if content != "" {
				p.buf.Reset()
				p.emitText(content)
			}
			return
		}
		if idx > 0 {
			p.emitText(content[:idx])
			p.buf.Reset()
			p.buf.WriteString(content[idx:])
			content = p.buf.String()
		}

		consumed, handled := p.consumeFrame(content)
		if consumed == 0 {
			if handled {
				// Could still become a valid frame; wait for more bytes.
				return
			}
			// A NUL that starts no known frame is treated as text.
			p.buf.Reset()
			p.buf.WriteString(content[1:])
			p.emitText(content[:1])
			continue
		}
		p.buf.Reset()
		p.buf.WriteString(content[consumed:])
	}
}

// consumeFrame tries to parse one frame at the start of content.
// It returns the number of bytes consumed; consumed == 0 with
// handled == true means the prefix matches but the frame is not yet
// complete.
func (p *protocolHandler) consumeFrame(content string) (consumed int, handled bool) {
	if strings.HasPrefix(content, readySignal) {
		if !p.ready {
			p.ready = true
			close(p.readyCh)
		}
		return len(readySignal), true
	}

	for _, fr := range []struct {
		prefix string
		handle func(payload string)
	}{
		{resultPrefix, p.handleResult},
		{errorPrefix, p.handleError},
		{callPrefix, p.handleCall},
	} {
		if strings.HasPrefix(content, fr.prefix) {
			rest := content[len(fr.prefix):]
			end := strings.Index(rest, frameSuffix)
			if end == -1 {
				return 0, true
			}
			fr.handle(rest[:end])
			return len(fr.prefix) + end + len(frameSuffix), true
		}
		if strings.HasPrefix(fr.prefix, content) || strings.HasPrefix(readySignal, content) {
			// Entire buffer is a prefix of a frame marker.
			return 0, true
		}
	}
	return 0, false
}

func (p *protocolHandler) emitText(s string) {
	if p.emit != nil && s != "" {
		p.emit(s)
	}
}

func (p *protocolHandler) handleResult(payload string) {
	var res wireResult
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		res = wireResult{Success: false, Error: rawString("malformed result frame: " + err.Error())}
	}
	select {
	case p.doneCh <- res:
	default:
	}
}

func (p *protocolHandler) handleError(payload string) {
	detail := normalizeRaw([]byte(payload), KindRuntimeError)
	if p.onError != nil {
		// Deliver off the write path so a slow handler cannot stall
		// the interpreter's stderr.
		go p.onError(detail)
	}
}

func (p *protocolHandler) handleCall(payload string) {
	var req callRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		go p.respond(callResponse{Error: "invalid call format"})
		return
	}

	// Input requests suspend the script until the host answers.
	if req.Fn == "input" {
		go func() {
			if p.onInput == nil {
				p.respond(callResponse{Data: ""})
				return
			}
			p.respond(callResponse{Data: p.onInput()})
		}()
		return
	}

	go func() {
		if p.call == nil {
			p.respond(callResponse{Error: "unknown function: " + req.Fn})
			return
		}
		result, err := p.call(p.ctx, req.Fn, req.Args)
		if err != nil {
			p.respond(callResponse{Error: err.Error()})
			return
		}
		p.respond(callResponse{Data: result})
	}()
}

func (p *protocolHandler) respond(resp callResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		data = []byte(`{"error":"internal: failed to marshal response"}`)
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.stdin.Write(append(data, '\n'))
}

// Ready is closed once the interpreter signaled its session loop is up.
func (p *protocolHandler) Ready() <-chan struct{} {
	return p.readyCh
}

// Done yields the result frame for the in-flight command.
func (p *protocolHandler) Done() <-chan wireResult {
	return p.doneCh
}

// ResetExec discards any stale completion before a new command.
func (p *protocolHandler) ResetExec() {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.doneCh:
	default:
	}
	p.doneCh = make(chan wireResult, 1)
}

func rawString(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}
