package nvimcore

import (
	"fmt"
	"io"
	"net"

	"github.com/smnsjas/go-nvimcore/api"
	"github.com/smnsjas/go-nvimcore/session"
	"github.com/smnsjas/go-nvimcore/wire"
)

// Version is the library version.
const Version = "0.1.0"

// Connect wraps an established bidirectional byte stream (e.g. the
// stdio pipes of an embedded host, a TCP connection, a unix socket) in
// a session, runs the api handshake, and returns the typed client.
func Connect(rw io.ReadWriter, opts ...api.Option) (*api.Nvim, error) {
	s := session.New(wire.NewCodec(rw))
	v, err := api.FromSession(s, opts...)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return v, nil
}

// Dial connects to a host listening on a network address and runs the
// handshake. The network is anything net.Dial accepts; "tcp" and
// "unix" are the ones hosts commonly serve.
func Dial(network, address string, opts ...api.Option) (*api.Nvim, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}
	v, err := Connect(conn, opts...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return v, nil
}
