package app

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hepmr/hepmr/internal/common/mrcontext"
)

func TestCreateContextWithSignals_CancelledOnSignal(t *testing.T) {
	ctx, cancel := createContextWithSignals(mrcontext.Background(), syscall.SIGUSR1)
	defer cancel()

	assert.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context was not cancelled by signal")
	}
}

func TestCreateContextWithSignals_CancelStopsWatcher(t *testing.T) {
	ctx, cancel := createContextWithSignals(mrcontext.Background(), syscall.SIGUSR2)
	cancel()
	<-ctx.Done()
	assert.Error(t, ctx.Err())
}
