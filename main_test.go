package main

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/khaledhikmat/vs-batch/service/lgr"
)

func TestWatchSignals_CancelsOnSignal(t *testing.T) {
	closer := lgr.Configure(lgr.Options{Level: "error"})
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)

	done := make(chan struct{})
	go func() {
		watchSignals(ctx, sigChan, cancel)
		close(done)
	}()

	sigChan <- syscall.SIGTERM
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("signal watcher did not return")
	}
	require.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestWatchSignals_ReturnsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)

	done := make(chan struct{})
	go func() {
		watchSignals(ctx, sigChan, func() {})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("signal watcher did not return")
	}
	require.Empty(t, sigChan)
}
