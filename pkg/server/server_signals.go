package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/leptonai/oomanalyzer/pkg/log"
)

type ServerStopper interface {
	Stop()
}

var DefaultSignalsToHandle = []os.Signal{
	unix.SIGTERM,
	unix.SIGINT,
	unix.SIGUSR1,
	unix.SIGPIPE,
}

// HandleSignals stops srv and cancels the serve context on SIGTERM or
// SIGINT, then closes the returned channel. SIGUSR1 writes the goroutine
// stacks to a file under the temp dir and keeps serving.
func HandleSignals(cancel context.CancelFunc, signals <-chan os.Signal, srv ServerStopper) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for s := range signals {
			switch s {
			case unix.SIGPIPE:
				// logging here may raise SIGPIPE again
				continue

			case unix.SIGUSR1:
				dumpStacks(stackDumpFile())

			default:
				log.Logger.Warnw("received signal, stopping server", "signal", s)
				cancel()
				if srv != nil {
					srv.Stop()
				}
				return
			}
		}
	}()
	return done
}

func stackDumpFile() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("oomanalyzer.%d.stacks.log", os.Getpid()))
}

func dumpStacks(file string) {
	buf := make([]byte, 16384)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, 2*len(buf))
	}

	if err := os.WriteFile(file, buf, 0o644); err != nil {
		log.Logger.Errorw("failed to write goroutine stacks", "file", file, "error", err)
		return
	}
	log.Logger.Infow("goroutine stacks written", "file", file, "bytes", len(buf))
}
