package cli

import (
	"bytes"
	stdcontext "context"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	apihttp "github.com/Paintersrp/kioskd/internal/api/http"
	"github.com/Paintersrp/kioskd/internal/config"
)

func TestRunDaemonStopsHelpersOnTerminate(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	orig := newAPIServer
	newAPIServer = func(cfg apihttp.Config) (*apihttp.Server, error) {
		cfg.Listener = ln
		return apihttp.NewServer(cfg)
	}
	t.Cleanup(func() { newAPIServer = orig })

	restarter := &fakeRestarter{}
	d := buildTestDaemon(t, restarter)

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetContext(stdcontext.Background())

	signals := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- runDaemon(cmd, d, "", signals)
	}()

	client := newAPIClient(ln.Addr().String(), nil)
	require.Eventually(t, func() bool {
		_, err := client.HelperAction(stdcontext.Background(), config.HelperInputBlocker, "start")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	require.True(t, d.supervisor.IsRunning(config.HelperInputBlocker))

	signals <- syscall.SIGTERM

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("runDaemon did not return after SIGTERM")
	}

	require.False(t, d.supervisor.IsRunning(config.HelperInputBlocker))
	require.Zero(t, restarter.calls.Load())
	require.Contains(t, out.String(), "Control API listening on "+ln.Addr().String())

	_, err = client.Status(stdcontext.Background())
	require.Error(t, err, "control API must be closed once runDaemon returns")
}

func TestLateHelperEventsAfterRunDaemonReturns(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	orig := newAPIServer
	newAPIServer = func(cfg apihttp.Config) (*apihttp.Server, error) {
		cfg.Listener = ln
		return apihttp.NewServer(cfg)
	}
	t.Cleanup(func() { newAPIServer = orig })

	d := buildTestDaemon(t, &fakeRestarter{})
	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetContext(stdcontext.Background())

	signals := make(chan os.Signal, 1)
	signals <- syscall.SIGTERM
	require.NoError(t, runDaemon(cmd, d, "", signals))

	// A handler that outlived the server still reports through the supervisor.
	d.supervisor.Reopen()
	require.NotPanics(t, func() {
		require.NoError(t, d.supervisor.Start(stdcontext.Background(), config.HelperInputBlocker))
		require.NoError(t, d.supervisor.Stop(stdcontext.Background(), config.HelperInputBlocker))
	})
	require.Len(t, d.events, 2)
}

func TestRunDaemonExitsAfterTerminatingClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	orig := newAPIServer
	newAPIServer = func(cfg apihttp.Config) (*apihttp.Server, error) {
		cfg.Listener = ln
		return apihttp.NewServer(cfg)
	}
	t.Cleanup(func() { newAPIServer = orig })

	restarter := &fakeRestarter{}
	d := buildTestDaemon(t, restarter)
	writeSettings(t, d, `{"relaunchOnClose": false}`)

	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetContext(stdcontext.Background())

	done := make(chan error, 1)
	go func() {
		done <- runDaemon(cmd, d, "", nil)
	}()

	client := newAPIClient(ln.Addr().String(), nil)
	require.Eventually(t, func() bool {
		_, err := client.Close(stdcontext.Background())
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("runDaemon did not return after a terminating close")
	}
	require.Zero(t, restarter.calls.Load())
}
