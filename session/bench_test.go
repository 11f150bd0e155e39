package session

import (
	"net"
	"sync"
	"testing"

	"github.com/smnsjas/go-nvimcore/wire"
)

// benchHost echoes every request inline, without the bookkeeping of the
// full testHost.
func startBenchHost(b *testing.B) net.Conn {
	b.Helper()

	clientConn, hostConn := net.Pipe()
	codec := wire.NewCodec(hostConn)
	go func() {
		for {
			msg, err := codec.ReadMessage()
			if err != nil {
				return
			}
			if msg.Kind == wire.KindRequest {
				_ = codec.WriteResponse(msg.ID, nil, msg.Args)
			}
		}
	}()

	b.Cleanup(func() {
		_ = clientConn.Close()
		_ = hostConn.Close()
	})
	return clientConn
}

func BenchmarkRequest(b *testing.B) {
	s := New(wire.NewCodec(startBenchHost(b)))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Request("echo", int64(i)); err != nil {
			b.Fatalf("request failed: %v", err)
		}
	}
}

func BenchmarkRequestParallel(b *testing.B) {
	s := New(wire.NewCodec(startBenchHost(b)))

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := s.Request("echo", int64(1)); err != nil {
				b.Errorf("request failed: %v", err)
				return
			}
		}
	})
}

func BenchmarkScheduleThroughput(b *testing.B) {
	s := New(wire.NewCodec(startBenchHost(b)))

	runDone := make(chan error, 1)
	go func() { runDone <- s.Run(nil, nil, nil) }()

	var wg sync.WaitGroup
	wg.Add(b.N)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Schedule(wg.Done)
	}
	wg.Wait()
	b.StopTimer()

	s.Stop()
	<-runDone
}
