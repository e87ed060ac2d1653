package dispatch

import (
	"context"
	"errors"
	"io"

	"github.com/nextpyp/procbridge/lib/wire"
)

// Decoder parses one frame payload into a request, returning the client's
// own request id even on failure where recoverable (mirrors the original
// protocol's "use 0 and hope for the best" fallback when the id itself
// couldn't be read).
type Decoder[Req any] func(payload []byte) (id uint32, req Req, err error)

// Handler processes one decoded request against conn, writing whatever
// responses it produces (possibly several, for streamed replies) via
// conn.WriteFrame.
type Handler[Req any] func(ctx context.Context, conn *Conn, id uint32, req Req)

// DecodeErrorFunc reports a request that failed to decode; reason is a
// human-readable summary suitable for an error response.
type DecodeErrorFunc func(conn *Conn, id uint32, reason string)

// Loop runs the sequential read / concurrent-handle dispatch loop for one
// connection until the peer closes the connection, a read error occurs, or
// ctx is canceled. Each successfully decoded request is handled in its own
// goroutine so a slow or streaming request never blocks later requests on
// the same connection.
func Loop[Req any](ctx context.Context, conn *Conn, decode Decoder[Req], handle Handler[Req], onDecodeError DecodeErrorFunc) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		payload, err := wire.ReadFrameLimit(conn.Reader(), conn.readLimit())
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		id, req, decErr := decode(payload)
		if decErr != nil {
			onDecodeError(conn, id, decErr.Error())
			continue
		}

		go handle(ctx, conn, id, req)
	}
}
