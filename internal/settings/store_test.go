package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nested", FileName), nil)

	doc, err := store.Load()
	require.NoError(t, err)
	require.True(t, doc.RelaunchOnClose())
	require.Equal(t, "{}", string(doc.Bytes()))
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("{oops"), 0o600))

	_, err := NewStore(path, nil).Load()
	require.True(t, errors.Is(err, ErrMalformed))
}

func TestReadModifyWritePreservesUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"username":"admin","timerDuration":180,"relaunchOnClose":true}`), 0o600))
	store := NewStore(path, nil)

	_, err := store.Update(func(doc Document) (Document, error) {
		return doc.Set(KeyRelaunchOnClose, false)
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, `{"username":"admin","timerDuration":180,"relaunchOnClose":false}`, string(data))

	reloaded, err := store.Load()
	require.NoError(t, err)
	require.False(t, reloaded.RelaunchOnClose())
}

func TestUpdateRefusesMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0o600))

	_, err := NewStore(path, nil).Update(func(doc Document) (Document, error) {
		t.Fatalf("update callback should not run for malformed file")
		return doc, nil
	})
	require.True(t, errors.Is(err, ErrMalformed))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "nope", string(data))
}

func TestSaveRawCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app", FileName)
	store := NewStore(path, nil)

	require.NoError(t, store.SaveRaw([]byte(`{"alwaysOnTop":false}`)))
	doc, err := store.Load()
	require.NoError(t, err)
	require.False(t, doc.AlwaysOnTop())

	require.Error(t, store.SaveRaw([]byte(`[]`)))
}

func TestLoadMigratedStripsLegacyServerIP(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"serverIp":"10.0.0.5","warningTime":60}`), 0o600))
	store := NewStore(path, nil)

	doc, err := store.LoadMigrated()
	require.NoError(t, err)
	require.False(t, doc.Has("serverIp"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.JSONEq(t, `{"warningTime":60}`, string(data))
}

func TestWatchNotifiesOnWrite(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, FileName), nil)

	ctx, cancel := context.WithCancel(context.Background())
	changes, err := store.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o600))
	require.NoError(t, store.SaveRaw([]byte(`{"relaunchOnClose":false}`)))

	select {
	case _, ok := <-changes:
		require.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for settings change notification")
	}

	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-changes:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("watch channel not closed after cancel")
		}
	}
}
