package interp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

type protoFixture struct {
	p         *protocolHandler
	responses <-chan callResponse

	mu    sync.Mutex
	text  []string
	calls []callRequest
}

func newProtoFixture(t *testing.T) *protoFixture {
	t.Helper()

	stdinReader, stdinWriter := io.Pipe()
	f := &protoFixture{}

	responses := make(chan callResponse, 16)
	go func() {
		scanner := bufio.NewScanner(stdinReader)
		for scanner.Scan() {
			var resp callResponse
			if json.Unmarshal(scanner.Bytes(), &resp) == nil {
				responses <- resp
			}
		}
	}()
	f.responses = responses

	f.p = newProtocolHandler(context.Background(), stdinWriter)
	f.p.emit = func(s string) {
		f.mu.Lock()
		f.text = append(f.text, s)
		f.mu.Unlock()
	}
	f.p.call = func(ctx context.Context, name string, args map[string]any) (any, error) {
		f.mu.Lock()
		f.calls = append(f.calls, callRequest{Fn: name, Args: args})
		f.mu.Unlock()
		return "ok", nil
	}
	t.Cleanup(func() { stdinReader.Close(); stdinWriter.Close() })
	return f
}

func (f *protoFixture) plainText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.text, "")
}

func TestProtocolReadySignal(t *testing.T) {
	f := newProtoFixture(t)

	select {
	case <-f.p.Ready():
		t.Fatal("ready before signal")
	default:
	}

	f.p.Write([]byte("startup noise" + readySignal))

	select {
	case <-f.p.Ready():
	default:
		t.Fatal("ready not signaled")
	}
	if f.plainText() != "startup noise" {
		t.Errorf("text %q", f.plainText())
	}
}

func TestProtocolResultFrame(t *testing.T) {
	f := newProtoFixture(t)

	f.p.Write([]byte(resultPrefix + `{"success":true,"warnings":["w1"]}` + frameSuffix))

	select {
	case res := <-f.p.Done():
		if !res.Success || len(res.Warnings) != 1 {
			t.Errorf("bad result: %+v", res)
		}
	default:
		t.Fatal("no result delivered")
	}
}

func TestProtocolFrameSplitAcrossWrites(t *testing.T) {
	f := newProtoFixture(t)

	whole := resultPrefix + `{"success":false,"error":{"type":"RuntimeError","message":"div by zero","line":9}}` + frameSuffix
	for i := 0; i < len(whole); i += 5 {
		end := i + 5
		if end > len(whole) {
			end = len(whole)
		}
		f.p.Write([]byte(whole[i:end]))
	}

	select {
	case res := <-f.p.Done():
		d := normalizeRaw(res.Error, KindRuntimeError)
		if d.Kind != "RuntimeError" || d.Line != 9 {
			t.Errorf("bad error: %+v", d)
		}
	default:
		t.Fatal("no result after split writes")
	}
}

func TestProtocolInterleavedTextAndFrames(t *testing.T) {
	f := newProtoFixture(t)

	f.p.Write([]byte("A"))
	f.p.Write([]byte(callPrefix + `{"fn":"turtle_forward","args":{"distance":10}}` + frameSuffix))
	f.p.Write([]byte("B"))

	// The call handler runs async; wait for its response on stdin.
	select {
	case resp := <-f.responses:
		if resp.Data != "ok" {
			t.Errorf("response %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no call response")
	}

	if f.plainText() != "AB" {
		t.Errorf("text %q, want AB", f.plainText())
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) != 1 || f.calls[0].Fn != "turtle_forward" {
		t.Fatalf("calls %+v", f.calls)
	}
}

func TestProtocolInputRequest(t *testing.T) {
	f := newProtoFixture(t)
	f.p.onInput = func() string { return "Ada" }

	f.p.Write([]byte(callPrefix + `{"fn":"input"}` + frameSuffix))

	select {
	case resp := <-f.responses:
		if resp.Data != "Ada" {
			t.Errorf("input response %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no input response")
	}
}

func TestProtocolAsyncErrorFrame(t *testing.T) {
	f := newProtoFixture(t)

	got := make(chan ErrorDetail, 1)
	f.p.onError = func(d ErrorDetail) { got <- d }

	f.p.Write([]byte(errorPrefix + `{"type":"RuntimeError","message":"late failure"}` + frameSuffix))

	select {
	case d := <-got:
		if d.Kind != "RuntimeError" || d.Message != "late failure" {
			t.Errorf("detail %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("async error never delivered")
	}
}

func TestProtocolLoneNulIsText(t *testing.T) {
	f := newProtoFixture(t)
	f.p.Write([]byte("a\x00zb"))
	if f.plainText() != "a\x00zb" {
		t.Errorf("text %q", f.plainText())
	}
}

func TestProtocolResetExecDropsStaleResult(t *testing.T) {
	f := newProtoFixture(t)

	f.p.Write([]byte(resultPrefix + `{"success":true}` + frameSuffix))
	f.p.ResetExec()

	select {
	case <-f.p.Done():
		t.Fatal("stale result survived ResetExec")
	default:
	}
}

func TestStreamWriterForwardsInOrder(t *testing.T) {
	var chunks []string
	w := &streamWriter{sink: func(s string) { chunks = append(chunks, s) }}

	w.Write([]byte("A"))
	w.Write([]byte("B"))
	w.Write([]byte("C"))

	if strings.Join(chunks, "") != "ABC" {
		t.Errorf("chunks %v", chunks)
	}
	if w.String() != "ABC" {
		t.Errorf("capture %q", w.String())
	}

	w.Reset()
	if w.String() != "" {
		t.Error("reset did not clear capture")
	}
}
