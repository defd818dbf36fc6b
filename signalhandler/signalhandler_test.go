package signalhandler

import (
	"context"
	"runtime"
	"syscall"
	"testing"
	"time"
)

func TestGetOptimalProcs(t *testing.T) {
	n := GetOptimalProcs()
	if n < 1 || n > runtime.NumCPU() {
		t.Fatalf("GetOptimalProcs() = %d with %d CPUs", n, runtime.NumCPU())
	}
}

func TestContext_CancelledBySignal(t *testing.T) {
	ctx, stop := Context(context.Background())
	defer stop()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("context not cancelled after SIGTERM")
	}
}

func TestContext_Stop(t *testing.T) {
	ctx, stop := Context(context.Background())
	stop()
	if ctx.Err() == nil {
		t.Fatalf("stop did not cancel the context")
	}
}
