// Package api provides the typed client surface over a msgpack-RPC
// session with an Nvim host: an Nvim facade, handle types for host
// entities, and remote views over host collections.
//
// # Handshake
//
// FromSession performs the vim_get_api_info exchange and learns which
// ext type tags the host uses for buffers, windows and tabpages. From
// then on every decoded reference with a registered tag surfaces as a
// Buffer, Window or Tabpage value; unregistered tags pass through as
// wire.Ext so they can be echoed back unchanged.
//
// # Handles
//
// Buffer, Window and Tabpage are plain values carrying only the host's
// identity payload. They compare with == and work as map keys: two
// handles obtained independently for the same host entity are equal.
// Handles cache nothing, so every method issues a request and a handle
// can go stale if the host deletes the entity; IsValid checks.
//
// # Collections
//
// RemoteMap and RemoteSequence are views over host-owned state (vars,
// options, the buffer list). They also cache nothing: each access
// re-queries the host, which makes concurrent mutation by other
// clients visible at the cost of a round trip per access.
//
// # Usage
//
//	v, err := api.FromSession(sess)
//	if err != nil {
//		log.Fatal(err)
//	}
//	buf, err := v.Current.Buffer()
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := buf.SetLine(0, "hello"); err != nil {
//		log.Fatal(err)
//	}
//
// Code running outside the dispatch loop hands work to it with
// AsyncCall, which also reports panics to the host's error stream with
// the call site that scheduled them.
package api
