// Package fsop implements the filesystem operations behind every
// UserProcessor request: reading, streamed writing, permission changes,
// deletion, directory listing and copying, renaming, symlinking, stat, and
// uid resolution, all performed under the calling user's own identity.
package fsop

import (
	"fmt"
	"os"
	"sync"
)

// Writer resequences the Chunks of one streamed WriteFile request so they
// land in the file in strictly ascending order regardless of which goroutine
// finishes decoding first, and latches the first write error so every Chunk
// after it is dropped without trying to touch the file again.
//
// The original dispatcher spun on tokio::task::yield_now() waiting for its
// turn; a condition variable gets the same ordering without the busy loop.
type Writer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	file     *os.File
	sequence uint32
	err      error
}

// NewWriter opens path for writing, truncating unless append is set.
func NewWriter(path string, append bool) (*Writer, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, err
	}
	w := &Writer{file: f, sequence: 1}
	w.cond = sync.NewCond(&w.mu)
	return w, nil
}

// Chunk blocks until sequence is next in line, then writes data — unless an
// earlier chunk already latched a write error, in which case it returns
// immediately without touching the file. The first error any chunk
// encounters here is latched for Close to report.
func (w *Writer) Chunk(sequence uint32, data []byte) {
	w.mu.Lock()
	for w.sequence < sequence && w.err == nil {
		w.cond.Wait()
	}
	defer func() {
		w.sequence++
		w.cond.Broadcast()
		w.mu.Unlock()
	}()

	if w.err != nil {
		return
	}
	if _, err := w.file.Write(data); err != nil {
		w.err = fmt.Errorf("write %s: %w", w.file.Name(), err)
	}
}

// Close waits for every chunk up to sequence to have applied, then closes
// the underlying file. It returns the first latched write error, if any,
// which the caller reports as an ErrorResponse instead of a normal Closed
// response.
func (w *Writer) Close(sequence uint32) error {
	w.mu.Lock()
	for w.sequence < sequence && w.err == nil {
		w.cond.Wait()
	}
	err := w.err
	w.mu.Unlock()

	if cerr := w.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Table tracks in-flight streamed writes by the client's own request id —
// the same id is reused across a write's Open, Chunk, and Close phases.
type Table struct {
	mu      sync.Mutex
	writers map[uint32]*Writer
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{writers: make(map[uint32]*Writer)}
}

// Open registers a fresh Writer under requestID, replacing the wire
// protocol's file_writers.insert.
func (t *Table) Open(requestID uint32, w *Writer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writers[requestID] = w
}

// Find returns the Writer registered for requestID, if any.
func (t *Table) Find(requestID uint32) (*Writer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.writers[requestID]
	return w, ok
}

// Remove forgets requestID's Writer, once its Close phase has run.
func (t *Table) Remove(requestID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.writers, requestID)
}
