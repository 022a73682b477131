package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDrain_WorkersFinish(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	runDone := make(chan error, 1)
	runDone <- context.Canceled

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.True(t, drain(ctx, runDone, logger))
	assert.Empty(t, buf.String())
}

func TestDrain_WorkerError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	runDone := make(chan error, 1)
	runDone <- errors.New("resume pending tasks: disk full")

	assert.True(t, drain(context.Background(), runDone, logger))
	assert.Contains(t, buf.String(), "disk full")
}

func TestDrain_TimeoutKeepsStoresOpen(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	// Run never returns: a worker is stuck inside a write.
	runDone := make(chan error)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.False(t, drain(ctx, runDone, logger))
	assert.Contains(t, buf.String(), "resumed on next start")
}
