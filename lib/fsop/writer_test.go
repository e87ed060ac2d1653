package fsop_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nextpyp/procbridge/lib/fsop"
	"github.com/stretchr/testify/require"
)

func TestWriterAppliesChunksInOrderDespiteArrivalOrder(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	w, err := fsop.NewWriter(path, false)
	require.NoError(t, err)

	// P6: chunk 2 arrives (goroutine starts) before chunk 1, but must not be
	// written to the file until chunk 1 has applied.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		w.Chunk(1, []byte("first-"))
	}()
	go func() {
		defer wg.Done()
		w.Chunk(2, []byte("second"))
	}()
	wg.Wait()

	require.NoError(t, w.Close(3))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "first-second", string(data))
}

func TestWriterAppendMode(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(path, []byte("existing-"), 0o644))

	w, err := fsop.NewWriter(path, true)
	require.NoError(t, err)
	w.Chunk(1, []byte("appended"))
	require.NoError(t, w.Close(2))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "existing-appended", string(data))
}

func TestTableTracksWritersByRequestID(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	table := fsop.NewTable()
	w, err := fsop.NewWriter(path, false)
	require.NoError(t, err)
	table.Open(42, w)

	found, ok := table.Find(42)
	require.True(t, ok)
	require.Same(t, w, found)

	_, ok = table.Find(99)
	require.False(t, ok)

	table.Remove(42)
	_, ok = table.Find(42)
	require.False(t, ok)
}
