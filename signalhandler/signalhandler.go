package signalhandler

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
)

// Context returns a context cancelled on SIGINT or SIGTERM. A second
// signal terminates the process.
func Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stopped := make(chan struct{})
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-stopped:
			return
		}
		select {
		case <-sigChan:
			os.Exit(1)
		case <-stopped:
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			signal.Stop(sigChan)
			close(stopped)
			cancel()
		})
	}
}

// GetOptimalProcs returns the number of concurrent feature extractions to
// run: three quarters of the CPUs, at least one.
func GetOptimalProcs() int {
	maxProcs := (runtime.NumCPU() * 3) / 4
	if maxProcs < 1 {
		maxProcs = 1
	}
	return maxProcs
}
