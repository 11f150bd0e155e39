package nvimcore

import (
	"net"
	"testing"

	"github.com/smnsjas/go-nvimcore/wire"
)

// serveHandshake answers vim_get_api_info on the host side of a pipe
// and then keeps serving vim_eval so the facade stays usable.
func serveHandshake(t *testing.T, ok bool) net.Conn {
	t.Helper()

	clientConn, hostConn := net.Pipe()
	codec := wire.NewCodec(hostConn)
	go func() {
		for {
			msg, err := codec.ReadMessage()
			if err != nil {
				return
			}
			if msg.Kind != wire.KindRequest {
				continue
			}
			switch msg.Method {
			case "vim_get_api_info":
				if !ok {
					_ = codec.WriteResponse(msg.ID, []any{int64(0), "no api info for you"}, nil)
					continue
				}
				metadata := map[string]any{
					"types": map[string]any{
						"Buffer":  map[string]any{"id": int64(0)},
						"Window":  map[string]any{"id": int64(1)},
						"Tabpage": map[string]any{"id": int64(2)},
					},
				}
				_ = codec.WriteResponse(msg.ID, nil, []any{int64(1), metadata})
			case "vim_eval":
				_ = codec.WriteResponse(msg.ID, nil, int64(4))
			default:
				_ = codec.WriteResponse(msg.ID, []any{int64(0), "unknown method"}, nil)
			}
		}
	}()

	t.Cleanup(func() {
		_ = clientConn.Close()
		_ = hostConn.Close()
	})
	return clientConn
}

func TestConnect(t *testing.T) {
	v, err := Connect(serveHandshake(t, true))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer v.Close()

	if v.ChannelID() != 1 {
		t.Errorf("channel id %d, want 1", v.ChannelID())
	}
	res, err := v.Eval("2+2")
	if err != nil || res != int64(4) {
		t.Errorf("Eval = %#v, %v", res, err)
	}
}

func TestConnectHandshakeFailure(t *testing.T) {
	if _, err := Connect(serveHandshake(t, false)); err == nil {
		t.Fatal("Connect succeeded against a host that refuses the handshake")
	}
}
