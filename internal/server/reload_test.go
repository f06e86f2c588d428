package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/driftwatch/internal/config"
	"github.com/ppiankov/driftwatch/internal/engine"
)

func TestReloaderMissingPath(t *testing.T) {
	eng, err := engine.New(config.Default())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	defer eng.Close()

	r, err := NewReloader(eng, filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("NewReloader: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestReloaderAppliesConfigChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("drift:\n  window_size: 50\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	eng, err := engine.New(config.Default())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	defer eng.Close()

	r, err := NewReloader(eng, path)
	if err != nil {
		t.Fatalf("NewReloader: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	if err := os.WriteFile(path, []byte("drift:\n  window_size: 7\n"), 0600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		if eng.Config().Detect.WindowSize == 7 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("reload not applied, window_size = %d", eng.Config().Detect.WindowSize)
		case <-time.After(100 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
