// Command rpcdial is a small headless CLI for driving calls through a
// rpccore.Client: flag-parsed subcommands, no terminal UI surface, only
// the one-shot request/response shape a CI job or a shell script wants.
// It wires an in-memory echo server so the binary is runnable standalone;
// a real deployment would instead dial rpccore/transport/h2 against a
// network address.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/sadopc/rpccore"
	"github.com/sadopc/rpccore/devtools"
	"github.com/sadopc/rpccore/reflection"
	"github.com/sadopc/rpccore/transport/inmem"
)

const echoService = "rpcdial.Echo"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "list" {
		listCmd()
		return
	}
	dialCmd()
}

func dialCmd() {
	fs := flag.NewFlagSet("dial", flag.ExitOnError)
	methodName := fs.String("method", "Say", "bare method name on "+echoService)
	body := fs.String("data", `{"message":"hello"}`, "JSON request body")
	timeout := fs.Duration("timeout", 10*time.Second, "call timeout")
	fs.Parse(os.Args[1:])

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	tr, stop := startEchoServer()
	defer stop()

	client := rpccore.NewClient(tr.Client(), rpccore.ClientConfig{})
	resp, err := devtools.InvokeUnaryJSON(ctx, client, echoService, *methodName, []byte(*body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "rpcdial: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(devtools.Pretty(resp))
	fmt.Println()
}

func listCmd() {
	server := newEchoServer()
	for _, svc := range reflection.Describe(server) {
		fmt.Printf("%s\n", svc.Name)
		for _, m := range svc.Methods {
			fmt.Printf("  %s (client-stream=%v server-stream=%v)\n", m.Name, m.IsClientStream, m.IsServerStream)
		}
	}
}

// newEchoServer registers the one demo method rpcdial drives: it echoes
// its JSON request body back verbatim under a "replied" wrapper.
func newEchoServer() *rpccore.Server {
	server := rpccore.NewServer(rpccore.ServerConfig{Logger: slog.Default()})
	rpccore.RegisterUnary(server, echoService, "Say", devtools.JSONCodec{},
		func(sc *rpccore.ServerContext, req devtools.JSONMessage) (devtools.JSONMessage, error) {
			return devtools.JSONMessage{Raw: append([]byte(`{"replied":`), append(req.Raw, '}')...)}, nil
		})
	return server
}

// startEchoServer wires newEchoServer up to an in-memory transport and
// starts serving on a background goroutine, returning a stop func that
// tears both down.
func startEchoServer() (*inmem.Transport, func()) {
	tr := inmem.New(4)
	server := newEchoServer()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		server.Serve(ctx, tr.Server())
		close(done)
	}()

	return tr, func() {
		cancel()
		tr.Server().Close()
		<-done
	}
}
