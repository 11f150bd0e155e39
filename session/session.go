package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/smnsjas/go-nvimcore/wire"
)

// Transport is the framed message stream the session drives. The wire
// package's Codec satisfies it; tests substitute their own.
//
// The session owns the read side exclusively (a single internal pump
// goroutine calls ReadMessage). The write methods must be safe for
// concurrent use.
type Transport interface {
	ReadMessage() (*wire.Message, error)
	WriteRequest(id uint32, method string, args []any) error
	WriteNotification(method string, args []any) error
	WriteResponse(id uint32, errVal, result any) error
	Close() error
}

// Logger is an optional interface for debug logging.
// If not set, no logging is performed.
type Logger interface {
	// Printf formats and logs a debug message.
	Printf(format string, v ...interface{})
}

// RequestHandler serves one inbound request. The returned value is
// encoded and sent back as the correlated response; a non-nil error
// becomes a host-visible error response instead.
type RequestHandler func(name string, args []any) (any, error)

// NotificationHandler serves one inbound notification. There is nothing
// to return and no response is sent.
type NotificationHandler func(name string, args []any)

// State represents the dispatch loop state.
type State int

const (
	// StateIdle means no dispatch loop is active.
	StateIdle State = iota
	// StateRunning means Run is consuming inbound messages and tasks.
	StateRunning
	// StateStopping means Stop was requested; the loop returns after the
	// in-flight message or task.
	StateStopping
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Session multiplexes a msgpack-RPC connection to a stateful host.
//
// Any number of goroutines may call Request concurrently; each blocks
// until its own correlated response arrives. At most one goroutine may
// drive Run (or NextMessage) at a time. Schedule is the only sanctioned
// way for other goroutines to inject work into the loop.
type Session struct {
	id uuid.UUID
	t  Transport

	mu       sync.Mutex
	nextID   uint32
	pending  map[uint32]chan *wire.Message
	state    State
	stopCh   chan struct{}
	closed   bool
	closeErr error

	inbound *messageQueue
	tasks   *taskQueue
	done    chan struct{}

	logMu      sync.RWMutex
	logger     Logger
	slogLogger *slog.Logger
	errHandler func(error)
}

// New creates a session over the transport and starts its reader pump.
// The pump runs until the transport ends; from then on every blocked and
// future call observes ErrClosed.
func New(t Transport) *Session {
	s := &Session{
		id:      uuid.New(),
		t:       t,
		pending: make(map[uint32]chan *wire.Message),
		inbound: newMessageQueue(),
		tasks:   newTaskQueue(),
		done:    make(chan struct{}),
	}
	go s.pump()
	return s
}

// ID returns the identifier of this session instance. It only exists for
// log and error correlation; the host knows nothing about it.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// State returns the current dispatch loop state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the transport has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close closes the transport. Blocked requests and an active loop return
// ErrClosed.
func (s *Session) Close() error {
	return s.t.Close()
}

// SetLogger sets the logger for debug logging.
// This is optional - if not set, no logging is performed.
func (s *Session) SetLogger(logger Logger) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	s.logger = logger
}

// SetSlogLogger routes debug logging to a structured slog logger. Both
// loggers may be set; each receives every message.
func (s *Session) SetSlogLogger(logger *slog.Logger) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	s.slogLogger = logger
}

// SetErrorHandler installs the error-reporting channel for failures that
// have no caller to return to: panicking deferred tasks, panicking
// notification handlers and malformed inbound messages.
func (s *Session) SetErrorHandler(fn func(error)) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	s.errHandler = fn
}

// Request sends a correlated request and blocks the calling goroutine
// until the response arrives. A failure reported by the host is returned
// as *HostError with the host's payload verbatim; transport loss while
// waiting is returned as ErrClosed.
func (s *Session) Request(name string, args ...any) (any, error) {
	ch := make(chan *wire.Message, 1)

	s.mu.Lock()
	if s.closed {
		err := s.closeErr
		s.mu.Unlock()
		return nil, err
	}
	s.nextID++
	id := s.nextID
	s.pending[id] = ch
	s.mu.Unlock()

	if err := s.t.WriteRequest(id, name, args); err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, fmt.Errorf("send request %q: %w", name, err)
	}

	msg, ok := <-ch
	if !ok {
		s.mu.Lock()
		err := s.closeErr
		s.mu.Unlock()
		return nil, err
	}
	if msg.Err != nil {
		return nil, &HostError{Payload: msg.Err}
	}
	return msg.Result, nil
}

// Notify sends a fire-and-forget notification. No response is awaited
// and a host-side failure is unobservable; only a local send failure is
// reported.
func (s *Session) Notify(name string, args ...any) error {
	s.mu.Lock()
	if s.closed {
		err := s.closeErr
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	if err := s.t.WriteNotification(name, args); err != nil {
		return fmt.Errorf("send notification %q: %w", name, err)
	}
	return nil
}

// NextMessage returns the next inbound request or notification, blocking
// until one arrives. It must not be used while Run is active. Messages
// queued before transport loss are still delivered, then ErrClosed.
func (s *Session) NextMessage() (*wire.Message, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil, ErrRunning
	}
	s.mu.Unlock()

	for {
		if msg, ok := s.inbound.pop(); ok {
			return msg, nil
		}
		select {
		case <-s.inbound.c:
		case <-s.done:
			if msg, ok := s.inbound.pop(); ok {
				return msg, nil
			}
			s.mu.Lock()
			err := s.closeErr
			s.mu.Unlock()
			return nil, err
		}
	}
}

// Run installs the handlers and consumes inbound messages and deferred
// tasks on the calling goroutine until Stop is called (nil return) or
// the transport ends (ErrClosed). Inbound messages are dispatched
// strictly in arrival order and deferred tasks strictly in submission
// order; ordering between the two streams is unspecified.
func (s *Session) Run(onRequest RequestHandler, onNotification NotificationHandler, onSetup func()) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrRunning
	}
	if s.closed {
		err := s.closeErr
		s.mu.Unlock()
		return err
	}
	s.state = StateRunning
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
	}()

	if onSetup != nil {
		onSetup()
	}

	for {
		if tk, ok := s.tasks.pop(); ok {
			s.runTask(tk)
		} else if msg, ok := s.inbound.pop(); ok {
			s.dispatch(msg, onRequest, onNotification)
		} else {
			select {
			case <-stopCh:
				return nil
			case <-s.tasks.c:
			case <-s.inbound.c:
			case <-s.done:
				s.mu.Lock()
				err := s.closeErr
				s.mu.Unlock()
				return err
			}
			continue
		}

		// Stop takes effect after the in-flight message or task.
		select {
		case <-stopCh:
			return nil
		default:
		}
	}
}

// Stop signals an active loop to return after the in-flight message or
// task. Calling it with no loop active is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return
	}
	s.state = StateStopping
	close(s.stopCh)
}

// Schedule queues fn to run on the loop goroutine. It is safe to call
// from any goroutine, never runs fn on the caller, never blocks, and
// wakes a loop blocked on transport input. Tasks run exactly once, FIFO
// among themselves. A panic inside fn is recovered, reported through the
// error handler together with the scheduling site, and does not take the
// loop down.
func (s *Session) Schedule(fn func()) {
	s.tasks.push(task{
		id:   uuid.New(),
		fn:   fn,
		site: callSite(2),
	})
}

// pump is the only reader of the transport. Responses are routed to the
// goroutine blocked on the matching request; requests and notifications
// are queued for the loop in arrival order.
func (s *Session) pump() {
	for {
		msg, err := s.t.ReadMessage()
		if err != nil {
			var decErr *wire.DecodeError
			if errors.As(err, &decErr) {
				// Stream is still aligned; contain the damage to this
				// message and keep serving.
				s.logf("dropping malformed inbound message: %v", err)
				s.reportError(decErr)
				continue
			}
			s.shutdown(err)
			return
		}

		switch msg.Kind {
		case wire.KindResponse:
			s.mu.Lock()
			ch, ok := s.pending[msg.ID]
			delete(s.pending, msg.ID)
			s.mu.Unlock()
			if !ok {
				s.logf("response for unknown msgid %d", msg.ID)
				continue
			}
			ch <- msg
		default:
			s.inbound.push(msg)
		}
	}
}

// shutdown records the close error, fails every pending request and
// wakes anything blocked on the session.
func (s *Session) shutdown(cause error) {
	err := closeError(cause)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closeErr = err
	pending := s.pending
	s.pending = make(map[uint32]chan *wire.Message)
	s.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	close(s.done)
	s.logf("session closed: %v", err)
}

// closeError normalizes a transport read failure so callers can always
// test errors.Is(err, ErrClosed). Expected end-of-stream conditions map
// to the bare sentinel; anything else keeps its cause.
func closeError(err error) error {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %v", ErrClosed, err)
}

func (s *Session) dispatch(msg *wire.Message, onRequest RequestHandler, onNotification NotificationHandler) {
	switch msg.Kind {
	case wire.KindRequest:
		result, err := s.invokeRequest(onRequest, msg)
		var writeErr error
		if err != nil {
			writeErr = s.t.WriteResponse(msg.ID, err.Error(), nil)
		} else {
			writeErr = s.t.WriteResponse(msg.ID, nil, result)
		}
		if writeErr != nil {
			s.logf("send response for %q (msgid %d): %v", msg.Method, msg.ID, writeErr)
		}
	case wire.KindNotification:
		s.invokeNotification(onNotification, msg)
	}
}

// invokeRequest turns a handler panic into an ordinary error so the
// host sees an error response instead of the loop dying.
func (s *Session) invokeRequest(h RequestHandler, msg *wire.Message) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logf("request handler for %q panicked: %v\n%s", msg.Method, r, debug.Stack())
			err = fmt.Errorf("request handler for %q panicked: %v", msg.Method, r)
		}
	}()

	if h == nil {
		return nil, fmt.Errorf("no request handler installed for %q", msg.Method)
	}
	return h(msg.Method, msg.Args)
}

func (s *Session) invokeNotification(h NotificationHandler, msg *wire.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.logf("notification handler for %q panicked: %v\n%s", msg.Method, r, debug.Stack())
			s.reportError(fmt.Errorf("notification handler for %q panicked: %v", msg.Method, r))
		}
	}()

	if h == nil {
		s.logf("dropping notification %q: no handler installed", msg.Method)
		return
	}
	h(msg.Method, msg.Args)
}

// runTask executes one deferred task on the loop goroutine. A panic is
// never silently dropped: it is logged and escalated to the error
// handler with the original scheduling site, but the loop survives.
func (s *Session) runTask(tk task) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("scheduled task %s panicked: %v\nscheduled at:\n%s", tk.id, r, tk.site)
			s.logf("%v", err)
			s.reportError(err)
		}
	}()
	tk.fn()
}

func (s *Session) reportError(err error) {
	s.logMu.RLock()
	h := s.errHandler
	s.logMu.RUnlock()

	if h != nil {
		h(err)
	}
}

// callSite captures a short stack of the scheduling site for
// diagnosability of deferred task failures.
func callSite(skip int) string {
	pcs := make([]uintptr, 5)
	n := runtime.Callers(skip+1, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		fr, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", fr.Function, fr.File, fr.Line)
		if !more {
			break
		}
	}
	return b.String()
}

// logf logs a debug message if a logger is configured.
func (s *Session) logf(format string, v ...interface{}) {
	s.logMu.RLock()
	logger := s.logger
	slogLogger := s.slogLogger
	s.logMu.RUnlock()

	if logger != nil {
		logger.Printf(format, v...)
	}
	if slogLogger != nil {
		slogLogger.Debug(fmt.Sprintf(format, v...), "session_id", s.id.String())
	}
}
