// Package session implements the msgpack-RPC session core: request and
// notification sending, response correlation, the inbound dispatch loop
// and the thread-safe scheduler.
//
// # Architecture
//
// A Session wraps a Transport (usually wire.Codec) and starts a single
// reader pump goroutine that owns the transport's read side for the life
// of the connection. The pump routes responses to the goroutines blocked
// in Request and queues host-originated requests and notifications, in
// arrival order, for the dispatch loop.
//
// # State Machine
//
// The dispatch loop follows this state transition:
//
//	Idle → Running → Stopping → Idle
//
//   - Idle: no loop active; NextMessage may be used to poll
//   - Running: Run is dispatching inbound messages and deferred tasks
//   - Stopping: Stop was requested; effective after the in-flight item
//
// Transport closure forces any state back to Idle; the close error is
// surfaced to Run if it is on the stack, otherwise to the next blocked
// Request.
//
// # Concurrency
//
// Request may be called from any number of goroutines; each sees exactly
// its own correlated result, even when the host answers out of order.
// Schedule is the only way for a foreign goroutine to inject work into
// the loop: it never runs the function on the caller, preserves FIFO
// order among tasks and wakes a loop blocked on transport input.
//
// # Usage
//
//	s := session.New(wire.NewCodec(conn))
//	res, err := s.Request("vim_eval", "1+1")
//
//	go s.Run(onRequest, onNotification, nil)
//	s.Schedule(func() { /* runs on the loop goroutine */ })
//	s.Stop()
package session
