// Command nvim-client is a smoke-test client: it embeds an nvim child
// process (or dials a running one), runs the api handshake, and drives
// a few requests to verify the stack end to end.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"

	"github.com/smnsjas/go-nvimcore"
	"github.com/smnsjas/go-nvimcore/api"
)

// ProcessPipes holds the stdin/stdout of a child process.
type ProcessPipes struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p *ProcessPipes) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

func (p *ProcessPipes) Write(b []byte) (int, error) {
	return p.stdin.Write(b)
}

func (p *ProcessPipes) Close() error {
	_ = p.stdin.Close()
	_ = p.stdout.Close()
	return p.cmd.Wait()
}

func startProcess(command string, args ...string) (*ProcessPipes, error) {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	return &ProcessPipes{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
	}, nil
}

func main() {
	nvimPath := flag.String("nvim", "nvim", "path to the nvim executable")
	addr := flag.String("addr", "", "dial a running host instead of embedding one (tcp host:port or unix socket path)")
	network := flag.String("network", "tcp", "network for -addr (tcp or unix)")
	flag.Parse()

	var v *api.Nvim
	var err error
	if *addr != "" {
		log.Printf("Dialing %s %s...", *network, *addr)
		v, err = nvimcore.Dial(*network, *addr)
		if err != nil {
			log.Fatalf("Dial failed: %v", err)
		}
	} else {
		log.Printf("Starting %s --embed...", *nvimPath)
		pipes, err := startProcess(*nvimPath, "--embed", "--headless")
		if err != nil {
			log.Fatalf("Failed to start nvim: %v", err)
		}
		defer pipes.Close()

		v, err = nvimcore.Connect(pipes)
		if err != nil {
			log.Fatalf("Handshake failed: %v", err)
		}
	}

	log.Printf("Connected, channel %d", v.ChannelID())

	result, err := v.Eval("2+2")
	if err != nil {
		log.Fatalf("Eval failed: %v", err)
	}
	log.Printf("eval 2+2 = %v", result)

	buf, err := v.Current.Buffer()
	if err != nil {
		log.Fatalf("Current.Buffer failed: %v", err)
	}
	if err := buf.SetLine(0, "hello from nvim-client"); err != nil {
		log.Fatalf("SetLine failed: %v", err)
	}
	line, err := v.Current.Line()
	if err != nil {
		log.Fatalf("Current.Line failed: %v", err)
	}
	log.Printf("current line: %q", line)

	buffers, err := v.Buffers.All()
	if err != nil {
		log.Fatalf("Buffers.All failed: %v", err)
	}
	log.Printf("%d buffer(s) open", len(buffers))

	if *addr == "" {
		log.Println("Quitting embedded host...")
		if err := v.Quit(""); err != nil {
			log.Fatalf("Quit failed: %v", err)
		}
	}
	log.Println("Client finished.")
}
