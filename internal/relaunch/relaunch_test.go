package relaunch

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRestartReplacesImageWithSameArgs(t *testing.T) {
	var (
		gotPath string
		gotArgv []string
		gotEnv  []string
		flushed bool
	)
	e := New(nil, WithArgs([]string{"serve", "--config", "kioskd.yaml"}), WithBeforeRestart(func() { flushed = true }))
	e.executable = func() (string, error) { return "/opt/kioskd/kioskd", nil }
	e.environ = func() []string { return []string{"PATH=/bin", GenerationEnv + "=2"} }
	e.replace = func(path string, argv []string, env []string) error {
		gotPath, gotArgv, gotEnv = path, argv, env
		return nil
	}

	if err := e.Restart(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !flushed {
		t.Fatalf("expected before-restart hook to run")
	}
	if gotPath != "/opt/kioskd/kioskd" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if diff := cmp.Diff([]string{"/opt/kioskd/kioskd", "serve", "--config", "kioskd.yaml"}, gotArgv); diff != "" {
		t.Fatalf("unexpected argv (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"PATH=/bin", GenerationEnv + "=3"}, gotEnv); diff != "" {
		t.Fatalf("unexpected env (-want +got):\n%s", diff)
	}
}

func TestRestartSurfacesReplaceError(t *testing.T) {
	e := New(nil, WithArgs(nil))
	e.executable = func() (string, error) { return "/opt/kioskd/kioskd", nil }
	e.replace = func(string, []string, []string) error { return errors.New("exec format error") }

	err := e.Restart(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestRestartHonoursCancelledContext(t *testing.T) {
	e := New(nil)
	called := false
	e.replace = func(string, []string, []string) error { called = true; return nil }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Restart(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Fatalf("replace should not run after cancellation")
	}
}

func TestNextGenerationStartsAtOne(t *testing.T) {
	got := nextGeneration([]string{"HOME=/root", GenerationEnv + "=bogus"})
	if diff := cmp.Diff([]string{"HOME=/root", GenerationEnv + "=1"}, got); diff != "" {
		t.Fatalf("unexpected env (-want +got):\n%s", diff)
	}
}
