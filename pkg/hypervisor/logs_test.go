package hypervisor

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javanstorm/vmctl/internal/testutil"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLatestLog(t *testing.T) {
	dir := t.TempDir()
	older := LogFileName("vm1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := LogFileName("vm1", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	other := LogFileName("vm10", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	for _, name := range []string{newer, older, other, "vm1-notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	got, err := LatestLog(dir, "vm1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, newer), got)
}

func TestLatestLogMissing(t *testing.T) {
	_, err := LatestLog(filepath.Join(t.TempDir(), "nope"), "vm1")
	assert.ErrorIs(t, err, ErrNoLogsFound)

	_, err = LatestLog(t.TempDir(), "vm1")
	assert.ErrorIs(t, err, ErrNoLogsFound)
}

func TestFollow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vm1.log")
	require.NoError(t, os.WriteFile(path, []byte("booting\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out syncBuffer
	done := make(chan error, 1)
	go func() {
		done <- Follow(ctx, path, &out)
	}()

	require.True(t, testutil.WaitFor(t, 2*time.Second, func() bool {
		return out.String() == "booting\n"
	}))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("login:\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.True(t, testutil.WaitFor(t, 2*time.Second, func() bool {
		return out.String() == "booting\nlogin:\n"
	}))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Follow did not return after cancellation")
	}
}

func TestFollowMissingFile(t *testing.T) {
	err := Follow(context.Background(), filepath.Join(t.TempDir(), "missing.log"), &syncBuffer{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
