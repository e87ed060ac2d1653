package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
)

// ConnHandler drives one accepted connection to completion.
type ConnHandler func(ctx context.Context, conn *Conn)

// Server accepts connections on a net.Listener (a unix socket in practice)
// and hands each to a ConnHandler in its own goroutine, with exponential
// backoff on transient accept errors so a persistent failure doesn't spin
// the CPU.
type Server struct {
	Listener net.Listener
	Logger   *slog.Logger
	Handle   ConnHandler

	// MaxFrameBytes caps each connection's accepted frame payload size; 0
	// falls back to wire.MaxFrameLen.
	MaxFrameBytes uint32
}

// Serve accepts connections until Accept fails with a net.Error that is not a
// timeout, such as the listener being closed. ctx is only consulted after Accept
// returns an error, so canceling ctx alone does not stop a Serve blocked in
// Accept; closing the listener does. It always returns a non-nil error:
// ctx.Err() if ctx was canceled by then, otherwise the accept error.
func (s *Server) Serve(ctx context.Context) error {
	backoff := 10 * time.Millisecond
	const maxBackoff = 2 * time.Second

	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			var netErr net.Error
			if errors.As(err, &netErr) && !netErr.Timeout() {
				return err
			}

			s.logger().Warn("accept error, backing off", "error", err, "backoff", backoff)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = 10 * time.Millisecond
		id := uuid.NewString()
		c := NewConn(id, conn)
		c.SetMaxFrameBytes(s.MaxFrameBytes)
		s.logger().Debug("connection open", "conn", id)

		go func() {
			defer func() {
				c.Close()
				s.logger().Debug("connection closed", "conn", id)
			}()
			s.Handle(ctx, c)
		}()
	}
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
