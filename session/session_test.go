package session

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/smnsjas/go-nvimcore/wire"
)

// testHost is a minimal in-process msgpack-RPC host on the far end of a
// net.Pipe. Request handlers return (result, errorPayload); handlers
// registered with handleAsync run in their own goroutine so responses
// can complete out of submission order.
type testHost struct {
	t     *testing.T
	conn  net.Conn
	codec *wire.Codec

	mu       sync.Mutex
	handlers map[string]func(args []any) (any, any)
	spawn    map[string]bool
	nextID   uint32
	pending  map[uint32]chan *wire.Message

	notifs chan *wire.Message
}

func startTestHost(t *testing.T) (net.Conn, *testHost) {
	t.Helper()

	clientConn, hostConn := net.Pipe()
	h := &testHost{
		t:        t,
		conn:     hostConn,
		codec:    wire.NewCodec(hostConn),
		handlers: make(map[string]func(args []any) (any, any)),
		spawn:    make(map[string]bool),
		pending:  make(map[uint32]chan *wire.Message),
		notifs:   make(chan *wire.Message, 64),
	}
	go h.loop()

	t.Cleanup(func() {
		_ = clientConn.Close()
		_ = hostConn.Close()
	})
	return clientConn, h
}

func (h *testHost) handle(name string, fn func(args []any) (any, any)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[name] = fn
}

func (h *testHost) handleAsync(name string, fn func(args []any) (any, any)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[name] = fn
	h.spawn[name] = true
}

func (h *testHost) loop() {
	for {
		msg, err := h.codec.ReadMessage()
		if err != nil {
			return
		}

		switch msg.Kind {
		case wire.KindRequest:
			h.mu.Lock()
			fn := h.handlers[msg.Method]
			async := h.spawn[msg.Method]
			h.mu.Unlock()

			respond := func() {
				if fn == nil {
					_ = h.codec.WriteResponse(msg.ID, fmt.Sprintf("unknown method %q", msg.Method), nil)
					return
				}
				result, errPayload := fn(msg.Args)
				_ = h.codec.WriteResponse(msg.ID, errPayload, result)
			}
			if async {
				go respond()
			} else {
				respond()
			}

		case wire.KindNotification:
			select {
			case h.notifs <- msg:
			default:
			}

		case wire.KindResponse:
			h.mu.Lock()
			ch := h.pending[msg.ID]
			delete(h.pending, msg.ID)
			h.mu.Unlock()
			if ch != nil {
				ch <- msg
			}
		}
	}
}

// request issues a host-originated request to the client and waits for
// the correlated response.
func (h *testHost) request(method string, args ...any) (*wire.Message, error) {
	ch := make(chan *wire.Message, 1)
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.pending[id] = ch
	h.mu.Unlock()

	if err := h.codec.WriteRequest(id, method, args); err != nil {
		return nil, err
	}
	select {
	case msg := <-ch:
		return msg, nil
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("timeout waiting for response to %q", method)
	}
}

func (h *testHost) notify(method string, args ...any) error {
	return h.codec.WriteNotification(method, args)
}

func (h *testHost) waitNotification(t *testing.T) *wire.Message {
	t.Helper()
	select {
	case msg := <-h.notifs:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for notification")
		return nil
	}
}

// waitState polls until the session reaches the wanted loop state.
func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("session never reached state %s (now %s)", want, s.State())
}

func goroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	// Header looks like "goroutine 123 [running]:".
	fields := bytes.Fields(buf)
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		panic(err)
	}
	return id
}

func TestRequestResponse(t *testing.T) {
	conn, host := startTestHost(t)
	host.handle("vim_eval", func(args []any) (any, any) {
		if len(args) != 1 || args[0] != "1+1" {
			return nil, []any{int64(1), "bad args"}
		}
		return int64(2), nil
	})

	s := New(wire.NewCodec(conn))
	got, err := s.Request("vim_eval", "1+1")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if got != int64(2) {
		t.Errorf("got %#v, want 2", got)
	}
}

func TestRequestHostError(t *testing.T) {
	conn, host := startTestHost(t)
	host.handle("vim_command", func(args []any) (any, any) {
		return nil, []any{int64(0), "E492: Not an editor command"}
	})

	s := New(wire.NewCodec(conn))
	_, err := s.Request("vim_command", "Nope")
	if err == nil {
		t.Fatal("expected host error")
	}

	var hostErr *HostError
	if !errors.As(err, &hostErr) {
		t.Fatalf("error is %T, want *HostError", err)
	}
	if hostErr.Message() != "E492: Not an editor command" {
		t.Errorf("unexpected message %q", hostErr.Message())
	}
	if errors.Is(err, ErrClosed) {
		t.Error("host error must not match ErrClosed")
	}
}

func TestConcurrentRequestsCorrelation(t *testing.T) {
	conn, host := startTestHost(t)
	// Async handler with jitter: responses complete out of submission
	// order, correlation must still route each to its own caller.
	host.handleAsync("echo", func(args []any) (any, any) {
		time.Sleep(time.Duration(args[0].(int64)%7) * time.Millisecond)
		return args[0], nil
	})

	s := New(wire.NewCodec(conn))

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := s.Request("echo", int64(i))
			if err != nil {
				errs <- fmt.Errorf("request %d: %w", i, err)
				return
			}
			if got != int64(i) {
				errs <- fmt.Errorf("request %d got %#v", i, got)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestNotifyFireAndForget(t *testing.T) {
	conn, host := startTestHost(t)
	s := New(wire.NewCodec(conn))

	// The host never responds to notifications; Notify must return
	// immediately anyway.
	done := make(chan error, 1)
	go func() { done <- s.Notify("noop", int64(1)) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Notify failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Notify blocked")
	}

	msg := host.waitNotification(t)
	if msg.Method != "noop" {
		t.Errorf("host saw method %q, want noop", msg.Method)
	}
}

func TestRequestConnectionClosed(t *testing.T) {
	conn, host := startTestHost(t)
	host.handleAsync("slow", func(args []any) (any, any) {
		_ = host.conn.Close()
		select {} // never responds
	})

	s := New(wire.NewCodec(conn))
	_, err := s.Request("slow")
	if err == nil {
		t.Fatal("expected connection-closed error, got success")
	}
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("error %v does not match ErrClosed", err)
	}
	var hostErr *HostError
	if errors.As(err, &hostErr) {
		t.Error("connection loss must not look like a host error")
	}

	// Every later operation fails the same way.
	<-s.Done()
	if _, err := s.Request("anything"); !errors.Is(err, ErrClosed) {
		t.Errorf("request after close: %v", err)
	}
	if err := s.Notify("anything"); !errors.Is(err, ErrClosed) {
		t.Errorf("notify after close: %v", err)
	}
}

func TestNextMessage(t *testing.T) {
	conn, host := startTestHost(t)
	s := New(wire.NewCodec(conn))

	if err := host.notify("queued_before", int64(1)); err != nil {
		t.Fatalf("notify failed: %v", err)
	}

	msg, err := s.NextMessage()
	if err != nil {
		t.Fatalf("NextMessage failed: %v", err)
	}
	if msg.Kind != wire.KindNotification || msg.Method != "queued_before" {
		t.Errorf("got %v %q", msg.Kind, msg.Method)
	}

	if err := host.notify("queued_last"); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	msg, err = s.NextMessage()
	if err != nil {
		t.Fatalf("NextMessage failed: %v", err)
	}
	if msg.Method != "queued_last" {
		t.Errorf("got %q, want queued_last", msg.Method)
	}

	_ = host.conn.Close()
	<-s.Done()
	if _, err := s.NextMessage(); !errors.Is(err, ErrClosed) {
		t.Errorf("NextMessage after close: %v", err)
	}
}

func TestPumpSurvivesMalformedInbound(t *testing.T) {
	conn, host := startTestHost(t)
	s := New(wire.NewCodec(conn))

	reported := make(chan error, 1)
	s.SetErrorHandler(func(err error) {
		select {
		case reported <- err:
		default:
		}
	})

	// A well-formed msgpack value that is not a message shape: a nil
	// (0xc0). The pump must report it and keep the stream alive.
	if _, err := host.conn.Write([]byte{0xc0}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := host.notify("after_garbage"); err != nil {
		t.Fatalf("notify failed: %v", err)
	}

	msg, err := s.NextMessage()
	if err != nil {
		t.Fatalf("NextMessage after malformed input: %v", err)
	}
	if msg.Method != "after_garbage" {
		t.Errorf("got %q, want after_garbage", msg.Method)
	}

	select {
	case err := <-reported:
		var decErr *wire.DecodeError
		if !errors.As(err, &decErr) {
			t.Errorf("reported %T (%v), want *wire.DecodeError", err, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("malformed message was not reported")
	}

	// Correlated traffic still works on the same stream.
	host.handle("ping", func([]any) (any, any) { return "pong", nil })
	got, err := s.Request("ping")
	if err != nil || got != "pong" {
		t.Errorf("Request after malformed input = %#v, %v", got, err)
	}
}

func TestNextMessageWhileRunning(t *testing.T) {
	conn, _ := startTestHost(t)
	s := New(wire.NewCodec(conn))

	runDone := make(chan error, 1)
	go func() { runDone <- s.Run(nil, func(string, []any) {}, nil) }()
	waitState(t, s, StateRunning)

	if _, err := s.NextMessage(); !errors.Is(err, ErrRunning) {
		t.Errorf("NextMessage during Run: %v, want ErrRunning", err)
	}

	s.Stop()
	if err := <-runDone; err != nil {
		t.Errorf("Run returned %v after Stop", err)
	}
}
