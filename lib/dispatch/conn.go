// Package dispatch runs the per-connection accept/read/dispatch loop shared
// by HostProcessor and UserProcessor: a sequential frame reader spawns one
// goroutine per request so concurrent requests on the same connection make
// progress independently, while writes are serialized through a single
// mutex-guarded connection handle.
package dispatch

import (
	"net"
	"sync"

	"github.com/nextpyp/procbridge/lib/wire"
)

// Conn is one accepted connection. Reads happen sequentially against the
// underlying net.Conn from the dispatch loop; writes may be issued
// concurrently by request-handling goroutines and are serialized here.
type Conn struct {
	id            string
	conn          net.Conn
	maxFrameBytes uint32 // 0 means wire.MaxFrameLen

	writeMu sync.Mutex
}

// NewConn wraps an accepted connection, tagging it with id for logging.
func NewConn(id string, conn net.Conn) *Conn {
	return &Conn{id: id, conn: conn}
}

// ID returns the connection's correlation id.
func (c *Conn) ID() string { return c.id }

// Reader exposes the underlying connection for the sequential read loop.
func (c *Conn) Reader() net.Conn { return c.conn }

// SetMaxFrameBytes caps the payload size Loop will accept from this
// connection, overriding wire.MaxFrameLen. Intended to be called once,
// right after NewConn, with the daemon's configured MAX_FRAME_BYTES.
func (c *Conn) SetMaxFrameBytes(n uint32) { c.maxFrameBytes = n }

func (c *Conn) readLimit() uint32 {
	if c.maxFrameBytes == 0 {
		return wire.MaxFrameLen
	}
	return c.maxFrameBytes
}

// WriteFrame writes one length-framed payload, safe for concurrent use by
// multiple in-flight request handlers.
func (c *Conn) WriteFrame(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteFrame(c.conn, payload)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}
