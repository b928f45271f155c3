package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ThatMovieGuyOriginal/helparr-sub000/internal/config"
)

func TestNew_RequiresHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := New(config.DefaultConfig(), logger, nil)
	require.Error(t, err)
}

func TestServer_RunStopsOnContextCancel(t *testing.T) {
	cfg := config.DefaultConfig()
	// Port 0 lets the kernel pick a free port for the test listener.
	cfg.Server.Listen.Port = 0

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(cfg, logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.True(t, errors.Is(err, context.Canceled))
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down after cancellation")
	}
}
