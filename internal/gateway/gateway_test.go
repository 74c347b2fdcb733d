package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedRunner(out string, err error) Runner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte(out), err
	}
}

func TestDiscoverUsesPlatformCommand(t *testing.T) {
	var gotName string
	var gotArgs []string
	d := New(WithGOOS("linux"), WithRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotName, gotArgs = name, args
		return []byte(linuxIPRoute), nil
	}))

	addr, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Equal(t, "192.168.0.254", addr)
	require.Equal(t, "ip", gotName)
	require.Equal(t, []string{"route", "show", "default"}, gotArgs)
}

func TestDiscoverWindowsOutput(t *testing.T) {
	d := New(WithGOOS("windows"), WithRunner(fixedRunner(windowsIPConfig, nil)))
	addr, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Equal(t, "192.168.1.1", addr)
}

func TestDiscoverUnsupportedPlatform(t *testing.T) {
	d := New(WithGOOS("plan9"), WithRunner(func(context.Context, string, ...string) ([]byte, error) {
		t.Fatalf("runner must not be called on unsupported platforms")
		return nil, nil
	}))

	_, err := d.Discover(context.Background())
	var unsupported *UnsupportedPlatformError
	require.ErrorAs(t, err, &unsupported)
	require.Equal(t, "plan9", unsupported.GOOS)
	require.True(t, errors.Is(err, ErrUnsupportedPlatform))
}

func TestDiscoverNotFound(t *testing.T) {
	tests := map[string]Runner{
		"empty output":   fixedRunner("", nil),
		"no marker":      fixedRunner("Windows IP Configuration\n", nil),
		"command failed": fixedRunner("", errors.New("exit status 1")),
	}
	for name, run := range tests {
		t.Run(name, func(t *testing.T) {
			d := New(WithGOOS("windows"), WithRunner(run))
			_, err := d.Discover(context.Background())
			var nf *NotFoundError
			require.ErrorAs(t, err, &nf)
			require.Equal(t, "windows", nf.Platform)
			require.True(t, errors.Is(err, ErrNotFound))
			require.NotEmpty(t, nf.Reason)
		})
	}
}

func TestDiscoverNotFoundNamesStrategyFamily(t *testing.T) {
	d := New(WithGOOS("darwin"), WithRunner(fixedRunner("route: writing to routing socket: not in table\n", nil)))
	_, err := d.Discover(context.Background())
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "bsd", nf.Platform)
	require.Contains(t, err.Error(), "not found on bsd")
	require.Contains(t, nf.Reason, "route -n get default")
}

func TestDiscoverTimeout(t *testing.T) {
	d := New(WithGOOS("linux"), WithTimeout(20*time.Millisecond), WithRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	_, err := d.Discover(context.Background())
	require.True(t, errors.Is(err, ErrNotFound))
	require.Contains(t, err.Error(), "timed out")
}
