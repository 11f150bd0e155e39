// Package nvimcore provides a pure Go client for the msgpack-RPC
// protocol spoken by Nvim-style hosts.
//
// The protocol layer is transport agnostic - consumers provide an
// io.ReadWriter for the underlying byte stream (the stdio pipes of an
// embedded host, a TCP connection, a unix socket), and the library
// handles framing, request correlation, and inbound dispatch.
//
// # Architecture
//
// The library is organized into layers:
//
//   - nvimcore: Connect/Dial entry points that wire the layers together
//   - api: Typed client surface - the Nvim facade, Buffer/Window/Tabpage
//     handles, and remote views over host collections
//   - session: Request/response correlation, the dispatch loop, and the
//     message-passing scheduler
//   - wire: msgpack-RPC codec - message envelopes and opaque typed
//     references
//
// # Basic Usage
//
//	conn, err := net.Dial("unix", addr)
//	if err != nil {
//	    return err
//	}
//	v, err := nvimcore.Connect(conn)
//	if err != nil {
//	    return err
//	}
//	defer v.Close()
//
//	result, err := v.Eval("2+2")
//
// To serve host-originated requests and notifications, run the
// dispatch loop:
//
//	err = v.RunLoop(onRequest, onNotification, nil)
//
// # Reference
//
// Protocol specification: https://github.com/msgpack-rpc/msgpack-rpc/blob/master/spec.md
package nvimcore

