// Command patchpanel runs the TCP rendezvous relay: named peers register a
// control connection, callers reach them with an HTTP CONNECT tunnel, and
// patchpanel bridges the resulting stream until either side closes or a
// timeout fires.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"patchpanel/internal/patchlog"
	"patchpanel/internal/relay"
)

func main() {
	os.Exit(run())
}

func run() int {
	addr := ":8800"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	logger := patchlog.New(os.Stderr)
	logger.Printf("start patchpanel %s", addr)

	// The relay writes to sockets the peer may have already closed; ignore
	// SIGPIPE process-wide so those writes surface as an error return
	// instead of killing the process.
	signal.Ignore(syscall.SIGPIPE)

	r, err := relay.Listen(addr, logger)
	if err != nil {
		logger.Printf("listen failed: %v", err)
		return 1
	}
	defer r.Close()

	r.Run(context.Background())
	return 0
}
