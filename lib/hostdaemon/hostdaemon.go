// Package hostdaemon implements HostProcessor's request dispatch: the
// connection-level logic that decodes hostproto requests, drives
// lib/procsup, and writes responses back over a lib/dispatch connection.
// It is kept separate from cmd/hostprocessor so the dispatch logic can be
// driven directly in tests without going through process startup.
package hostdaemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/nextpyp/procbridge/lib/dispatch"
	"github.com/nextpyp/procbridge/lib/hostproto"
	"github.com/nextpyp/procbridge/lib/identity"
	"github.com/nextpyp/procbridge/lib/logger"
	"github.com/nextpyp/procbridge/lib/procsup"
)

// Daemon holds the state shared by every connection a HostProcessor serves:
// one Supervisor tracks every child process regardless of which connection
// spawned it, so Status/Kill/WriteStdin/CloseStdin on a different connection
// than Exec still reach the right child.
type Daemon struct {
	sup    *procsup.Supervisor
	logger *slog.Logger
}

// New builds a Daemon around an existing Supervisor.
func New(sup *procsup.Supervisor, logger *slog.Logger) *Daemon {
	return &Daemon{sup: sup, logger: logger}
}

func decodeRequest(payload []byte) (uint32, hostproto.Request, error) {
	env, decErr := hostproto.DecodeRequest(payload)
	if decErr != nil {
		id := uint32(0)
		if decErr.RequestID != nil {
			id = *decErr.RequestID
		}
		return id, nil, decErr
	}
	return env.ID, env.Request, nil
}

// HandleConn drives one connection's dispatch loop until it ends.
func (d *Daemon) HandleConn(ctx context.Context, conn *dispatch.Conn) {
	connLogger := d.logger.With("conn", conn.ID())
	ctx = logger.AddToContext(ctx, connLogger)

	// next_request_id is a purely-internal monotonic counter used only to
	// correlate log lines for a connection's requests; it is never sent on
	// the wire, which carries the client's own request id instead.
	var nextRequestID atomic.Uint64

	onDecodeError := func(conn *dispatch.Conn, id uint32, reason string) {
		connLogger.Warn("failed to decode request", "request_id", id, "reason", reason)
		writeResponse(conn, id, hostproto.ErrorResponse{Reason: reason})
	}

	handle := func(ctx context.Context, conn *dispatch.Conn, id uint32, req hostproto.Request) {
		internalID := nextRequestID.Add(1)
		reqLogger := connLogger.With("request_id", id, "seq", internalID)
		d.dispatch(logger.AddToContext(ctx, reqLogger), conn, id, req)
	}

	if err := dispatch.Loop(ctx, conn, decodeRequest, handle, onDecodeError); err != nil {
		connLogger.Debug("connection loop ended", "err", err)
	}
}

func (d *Daemon) dispatch(ctx context.Context, conn *dispatch.Conn, id uint32, req hostproto.Request) {
	log := logger.FromContext(ctx)

	switch r := req.(type) {
	case hostproto.PingRequest:
		writeResponse(conn, id, hostproto.PongResponse{})

	case hostproto.ExecRequest:
		d.dispatchExec(conn, id, r)

	case hostproto.StatusRequest:
		writeResponse(conn, id, hostproto.StatusResponse{Running: d.sup.IsRunning(r.Pid)})

	case hostproto.WriteStdinRequest:
		// Fire-and-forget: the wire protocol carries no acknowledgement for
		// this request, matching a streamed stdin's normal write-and-move-on
		// usage. Failures are logged, not reported to the peer.
		if err := d.sup.WriteStdin(r.Pid, r.Chunk); err != nil {
			log.Warn("write stdin failed", "pid", r.Pid, "err", err)
		}

	case hostproto.CloseStdinRequest:
		if err := d.sup.CloseStdin(r.Pid); err != nil {
			log.Warn("close stdin failed", "pid", r.Pid, "err", err)
		}

	case hostproto.KillRequest:
		if err := d.sup.Kill(r.Pid, r.Signal, r.ProcessGroup); err != nil {
			log.Warn("kill failed", "pid", r.Pid, "signal", r.Signal, "process_group", r.ProcessGroup, "err", err)
		}

	case hostproto.UsernameRequest:
		name, ok := identity.Username(r.Uid)
		if !ok {
			writeResponse(conn, id, hostproto.UsernameResponse{Name: nil})
			return
		}
		writeResponse(conn, id, hostproto.UsernameResponse{Name: &name})

	case hostproto.UidRequest:
		uid, ok := identity.Uid(r.Username)
		if !ok {
			writeResponse(conn, id, hostproto.UidResponse{Uid: nil})
			return
		}
		writeResponse(conn, id, hostproto.UidResponse{Uid: &uid})

	case hostproto.GroupnameRequest:
		name, ok := identity.Groupname(r.Gid)
		if !ok {
			writeResponse(conn, id, hostproto.GroupnameResponse{Name: nil})
			return
		}
		writeResponse(conn, id, hostproto.GroupnameResponse{Name: &name})

	case hostproto.GidRequest:
		gid, ok := identity.Gid(r.Groupname)
		if !ok {
			writeResponse(conn, id, hostproto.GidResponse{Gid: nil})
			return
		}
		writeResponse(conn, id, hostproto.GidResponse{Gid: &gid})

	case hostproto.GidsRequest:
		gids, ok := identity.Gids(r.Uid)
		if !ok {
			writeResponse(conn, id, hostproto.GidsResponse{Gids: nil})
			return
		}
		writeResponse(conn, id, hostproto.GidsResponse{Gids: gids})

	default:
		writeResponse(conn, id, hostproto.ErrorResponse{Reason: fmt.Sprintf("unhandled request type: %T", req)})
	}
}

// dispatchExec spawns the child and streams its lifecycle back as Exec and
// ProcessEvent responses, all tagged with the Exec request's own id. Exec
// blocks until the child exits, so it always runs on its own goroutine
// (lib/dispatch.Loop already gives every request one) to avoid starving
// other requests on the same connection.
func (d *Daemon) dispatchExec(conn *dispatch.Conn, id uint32, req hostproto.ExecRequest) {
	hooks := procsup.ExecHooks{
		OnSpawned: func(pid uint32) {
			writeResponse(conn, id, hostproto.ExecResponse{Success: true, Pid: pid})
		},
		OnSpawnFailed: func(reason string) {
			writeResponse(conn, id, hostproto.ExecResponse{Success: false, Reason: reason})
		},
		OnConsole: func(kind hostproto.ConsoleKind, chunk []byte) {
			writeResponse(conn, id, hostproto.ProcessEvent{IsConsole: true, Kind: kind, Chunk: chunk})
		},
		OnFin: func(exitCode *int32) {
			writeResponse(conn, id, hostproto.ProcessEvent{IsConsole: false, ExitCode: exitCode})
		},
	}
	d.sup.Exec(id, req, hooks)
}

func writeResponse(conn *dispatch.Conn, id uint32, resp hostproto.Response) {
	env := hostproto.ResponseEnvelope{ID: id, Response: resp}
	if err := conn.WriteFrame(env.Encode()); err != nil {
		slog.Debug("failed to write response frame", "conn", conn.ID(), "request_id", id, "err", err)
	}
}
