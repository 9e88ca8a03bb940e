package ipc

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/presence-relay/relay/internal/logging"
	"github.com/presence-relay/relay/internal/rpc"
)

func init() {
	logging.ConfigureTests()
}

type sink struct {
	mu     sync.Mutex
	events []rpc.ActivityEvent
}

func (s *sink) Publish(ev rpc.ActivityEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *sink) waitFor(t *testing.T, n int) []rpc.ActivityEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		got := append([]rpc.ActivityEvent(nil), s.events...)
		s.mu.Unlock()
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d events, have %d", n, len(got))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type harness struct {
	client net.Conn
	sink   *sink
	done   chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{sink: &sink{}, done: make(chan struct{})}
	d := rpc.NewDispatcher(h.sink, nil)
	s := NewServer("test-ipc", 1, d)

	client, server := net.Pipe()
	h.client = client
	go func() {
		s.ServeConn(server)
		close(h.done)
	}()
	t.Cleanup(func() {
		client.Close()
		<-h.done
		d.Shutdown()
	})
	return h
}

func (h *harness) send(t *testing.T, op Opcode, payload string) {
	t.Helper()
	h.client.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := WriteFrame(h.client, Frame{Op: op, Payload: []byte(payload)}); err != nil {
		t.Fatalf("send %v: %v", op, err)
	}
}

func (h *harness) recv(t *testing.T) Frame {
	t.Helper()
	h.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	f, err := ReadFrame(h.client, DefaultMaxPayload)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	return f
}

func (h *harness) expectClose(t *testing.T, code int) {
	t.Helper()
	f := h.recv(t)
	if f.Op != OpClose {
		t.Fatalf("op = %v, want CLOSE", f.Op)
	}
	var p closePayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.Code != code {
		t.Fatalf("close code = %d, want %d", p.Code, code)
	}
	h.expectEOF(t)
}

func (h *harness) expectEOF(t *testing.T) {
	t.Helper()
	h.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := ReadFrame(h.client, DefaultMaxPayload); !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want EOF", err)
	}
}

func (h *harness) handshake(t *testing.T) {
	t.Helper()
	h.send(t, OpHandshake, `{"v":1,"client_id":"1234"}`)
	f := h.recv(t)
	var ready map[string]any
	if err := json.Unmarshal(f.Payload, &ready); err != nil {
		t.Fatal(err)
	}
	if f.Op != OpFrame || ready["cmd"] != "DISPATCH" || ready["evt"] != "READY" {
		t.Fatalf("READY = %v %s", f.Op, f.Payload)
	}
}

func TestHandshakeAndSetActivity(t *testing.T) {
	h := newHarness(t)
	h.handshake(t)

	h.send(t, OpFrame, `{"cmd":"SET_ACTIVITY","args":{"pid":55,"activity":{"state":"Playing"}},"nonce":"abc"}`)
	f := h.recv(t)
	var reply map[string]any
	if err := json.Unmarshal(f.Payload, &reply); err != nil {
		t.Fatal(err)
	}
	if reply["cmd"] != "SET_ACTIVITY" || reply["nonce"] != "abc" {
		t.Fatalf("reply = %v", reply)
	}
	data := reply["data"].(map[string]any)
	if data["application_id"] != "1234" || data["state"] != "Playing" {
		t.Fatalf("reply data = %v", data)
	}

	events := h.sink.waitFor(t, 1)
	if *events[0].PID != 55 {
		t.Fatalf("event pid = %v", events[0].PID)
	}

	h.client.Close()
	events = h.sink.waitFor(t, 2)
	stop := events[1]
	if stop.Activity != nil || stop.PID == nil || *stop.PID != 55 {
		t.Fatalf("stop on close = %+v", stop)
	}
}

func TestPingBeforeHandshake(t *testing.T) {
	h := newHarness(t)
	h.send(t, OpPing, `{"n":7}`)
	f := h.recv(t)
	if f.Op != OpPong || string(f.Payload) != `{"n":7}` {
		t.Fatalf("pong = %v %s", f.Op, f.Payload)
	}
}

func TestFrameBeforeHandshake(t *testing.T) {
	h := newHarness(t)
	h.send(t, OpFrame, `{"cmd":"SET_ACTIVITY","args":{}}`)
	h.expectClose(t, rpc.CloseAbnormal)
}

func TestHandshakeRejected(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		code    int
	}{
		{"bad version", `{"v":2,"client_id":"1"}`, rpc.ErrorInvalidVersion},
		{"no client id", `{"v":1}`, rpc.ErrorInvalidClientID},
		{"empty client id", `{"v":"1","client_id":""}`, rpc.ErrorInvalidClientID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.send(t, OpHandshake, tt.payload)
			h.expectClose(t, tt.code)
		})
	}
}

func TestDoubleHandshake(t *testing.T) {
	h := newHarness(t)
	h.handshake(t)
	h.send(t, OpHandshake, `{"v":1,"client_id":"1234"}`)
	h.expectClose(t, rpc.CloseAbnormal)

	events := h.sink.waitFor(t, 1)
	if events[0].Activity != nil {
		t.Fatalf("close from ready should emit a stop event, got %+v", events[0])
	}
}

func TestMalformedFrameDropped(t *testing.T) {
	h := newHarness(t)
	h.handshake(t)

	h.send(t, OpFrame, `{"cmd":`)
	h.send(t, OpFrame, `{"args":{}}`)
	h.send(t, OpPing, `"still here"`)
	f := h.recv(t)
	if f.Op != OpPong || string(f.Payload) != `"still here"` {
		t.Fatalf("connection did not survive malformed frames: %v %s", f.Op, f.Payload)
	}
}

func TestInvalidOpcodeDestroysConnection(t *testing.T) {
	h := newHarness(t)
	h.send(t, Opcode(12), `{}`)
	h.expectEOF(t)
}

func TestClientCloseBeforeReadyIsSilent(t *testing.T) {
	h := newHarness(t)
	h.send(t, OpClose, `{}`)
	h.expectEOF(t)
	<-h.done

	h.sink.mu.Lock()
	n := len(h.sink.events)
	h.sink.mu.Unlock()
	if n != 0 {
		t.Fatalf("close before handshake emitted %d events", n)
	}
}
