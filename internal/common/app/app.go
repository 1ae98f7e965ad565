package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hepmr/hepmr/internal/common/mrcontext"
)

// CreateContextWithShutdown returns a context that will report done when SIGINT or SIGTERM is received.
// Cancelling this context is how a whole run is cancelled: the processor stops consuming results and the
// worker pool releases its workers and batch jobs.
func CreateContextWithShutdown() *mrcontext.Context {
	ctx, _ := createContextWithSignals(mrcontext.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}

func createContextWithSignals(parent *mrcontext.Context, signals ...os.Signal) (*mrcontext.Context, context.CancelFunc) {
	ctx, cancel := mrcontext.WithCancel(parent)
	c := make(chan os.Signal, 1)
	signal.Notify(c, signals...)
	go func() {
		defer signal.Stop(c)
		select {
		case sig := <-c:
			ctx.Log.Warnf("Received %s, cancelling", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
