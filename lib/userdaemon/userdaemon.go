// Package userdaemon implements UserProcessor's request dispatch: the
// connection-level logic that decodes userproto requests, drives
// lib/fsop, and writes responses back over a lib/dispatch connection. It is
// kept separate from cmd/userprocessor so the dispatch logic can be driven
// directly in tests without going through process startup.
package userdaemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/nextpyp/procbridge/lib/dispatch"
	"github.com/nextpyp/procbridge/lib/fsop"
	"github.com/nextpyp/procbridge/lib/logger"
	"github.com/nextpyp/procbridge/lib/userproto"
)

// Daemon holds the state shared by every connection a UserProcessor serves:
// a table of in-progress WriteFile writers, keyed by the client's own
// request id across its Open/Chunk/Close phases (a write never spans
// connections in practice, but the table is connection-agnostic like the
// original's).
type Daemon struct {
	writers *fsop.Table
	logger  *slog.Logger
}

// New builds a Daemon with a fresh writer table.
func New(logger *slog.Logger) *Daemon {
	return &Daemon{writers: fsop.NewTable(), logger: logger}
}

func decodeRequest(payload []byte) (uint32, userproto.Request, error) {
	env, decErr := userproto.DecodeRequest(payload)
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

	var nextRequestID atomic.Uint64

	onDecodeError := func(conn *dispatch.Conn, id uint32, reason string) {
		connLogger.Warn("failed to decode request", "request_id", id, "reason", reason)
		writeResponse(conn, id, userproto.ErrorResponse{Reason: reason})
	}

	handle := func(ctx context.Context, conn *dispatch.Conn, id uint32, req userproto.Request) {
		internalID := nextRequestID.Add(1)
		reqLogger := connLogger.With("request_id", id, "seq", internalID)
		d.dispatch(logger.AddToContext(ctx, reqLogger), conn, id, req)
	}

	if err := dispatch.Loop(ctx, conn, decodeRequest, handle, onDecodeError); err != nil {
		connLogger.Debug("connection loop ended", "err", err)
	}
}

func (d *Daemon) dispatch(ctx context.Context, conn *dispatch.Conn, id uint32, req userproto.Request) {
	switch r := req.(type) {
	case userproto.PingRequest:
		writeResponse(conn, id, userproto.PongResponse{})

	case userproto.UidsRequest:
		uid, euid, suid, err := fsop.Uids()
		if err != nil {
			writeResponse(conn, id, userproto.ErrorResponse{Reason: err.Error()})
			return
		}
		writeResponse(conn, id, userproto.UidsResponse{Uid: uid, Euid: euid, Suid: suid})

	case userproto.ReadFileRequest:
		d.dispatchReadFile(conn, id, r.Path)

	case userproto.WriteFileRequest:
		d.dispatchWriteFile(conn, id, r)

	case userproto.ChmodRequest:
		if err := fsop.Chmod(r.Path, r.Ops); err != nil {
			writeResponse(conn, id, userproto.ErrorResponse{Reason: err.Error()})
			return
		}
		writeResponse(conn, id, userproto.ChmodResponse{})

	case userproto.DeleteFileRequest:
		if err := fsop.DeleteFile(r.Path); err != nil {
			writeResponse(conn, id, userproto.ErrorResponse{Reason: err.Error()})
			return
		}
		writeResponse(conn, id, userproto.DeleteFileResponse{})

	case userproto.CreateFolderRequest:
		if err := fsop.CreateFolder(r.Path); err != nil {
			writeResponse(conn, id, userproto.ErrorResponse{Reason: err.Error()})
			return
		}
		writeResponse(conn, id, userproto.CreateFolderResponse{})

	case userproto.DeleteFolderRequest:
		if err := fsop.DeleteFolder(r.Path); err != nil {
			writeResponse(conn, id, userproto.ErrorResponse{Reason: err.Error()})
			return
		}
		writeResponse(conn, id, userproto.DeleteFolderResponse{})

	case userproto.ListFolderRequest:
		d.dispatchListFolder(conn, id, r.Path)

	case userproto.CopyFolderRequest:
		if err := fsop.CopyFolder(r.Src, r.Dst); err != nil {
			writeResponse(conn, id, userproto.ErrorResponse{Reason: err.Error()})
			return
		}
		writeResponse(conn, id, userproto.CopyFolderResponse{})

	case userproto.StatRequest:
		result, err := fsop.Stat(r.Path)
		if err != nil {
			writeResponse(conn, id, userproto.ErrorResponse{Reason: err.Error()})
			return
		}
		writeResponse(conn, id, userproto.StatResponse{
			Kind:        result.Kind,
			Size:        result.Size,
			SymlinkKind: result.SymlinkKind,
			SymlinkSize: result.SymlinkSize,
		})

	case userproto.RenameRequest:
		if err := fsop.Rename(r.Src, r.Dst); err != nil {
			writeResponse(conn, id, userproto.ErrorResponse{Reason: err.Error()})
			return
		}
		writeResponse(conn, id, userproto.RenameResponse{})

	case userproto.SymlinkRequest:
		if err := fsop.Symlink(r.Path, r.Link); err != nil {
			writeResponse(conn, id, userproto.ErrorResponse{Reason: err.Error()})
			return
		}
		writeResponse(conn, id, userproto.SymlinkResponse{})

	default:
		writeResponse(conn, id, userproto.ErrorResponse{Reason: fmt.Sprintf("unhandled request type: %T", req)})
	}
}

// dispatchReadFile streams Open/Chunk/Close frames for path. A failure
// before streaming starts (file missing, unreadable metadata) yields a
// plain ErrorResponse instead of an Open frame; a failure mid-stream (a
// later chunk read failing) aborts with an ErrorResponse and no Close frame,
// matching the original's or_respond_error-then-return short-circuit.
func (d *Daemon) dispatchReadFile(conn *dispatch.Conn, id uint32, path string) {
	opened := false
	hooks := fsop.ReadHooks{
		OnOpen: func(totalBytes uint64) {
			opened = true
			writeResponse(conn, id, userproto.ReadFileResponse{Op: userproto.ReadFileOpen, Bytes: totalBytes})
		},
		OnChunk: func(sequence uint32, data []byte) {
			writeResponse(conn, id, userproto.ReadFileResponse{Op: userproto.ReadFileChunk, Sequence: sequence, Data: data})
		},
	}
	sequence, err := fsop.ReadFile(path, hooks)
	if err != nil {
		writeResponse(conn, id, userproto.ErrorResponse{Reason: err.Error()})
		return
	}
	if !opened {
		return
	}
	writeResponse(conn, id, userproto.ReadFileResponse{Op: userproto.ReadFileClose, Sequence: sequence})
}

// dispatchListFolder streams a folder's listing through ReadFile's exact
// frame shape — the wire protocol reuses ReadFile's Open/Chunk/Close tags
// for ListFolder rather than defining its own.
func (d *Daemon) dispatchListFolder(conn *dispatch.Conn, id uint32, path string) {
	opened := false
	hooks := fsop.ReadHooks{
		OnOpen: func(totalBytes uint64) {
			opened = true
			writeResponse(conn, id, userproto.ReadFileResponse{Op: userproto.ReadFileOpen, Bytes: totalBytes})
		},
		OnChunk: func(sequence uint32, data []byte) {
			writeResponse(conn, id, userproto.ReadFileResponse{Op: userproto.ReadFileChunk, Sequence: sequence, Data: data})
		},
	}
	sequence, err := fsop.ListFolder(path, hooks)
	if err != nil {
		writeResponse(conn, id, userproto.ErrorResponse{Reason: err.Error()})
		return
	}
	if !opened {
		return
	}
	writeResponse(conn, id, userproto.ReadFileResponse{Op: userproto.ReadFileClose, Sequence: sequence})
}

// dispatchWriteFile advances the 3-phase streamed write keyed by the
// client's own request id: Open creates the Writer and replies Opened;
// Chunk resequences and writes but never replies (nothing out there waiting
// for an ack mid-stream); Close resequences, tears down the Writer, and
// reports either Closed or the first latched write error.
func (d *Daemon) dispatchWriteFile(conn *dispatch.Conn, id uint32, req userproto.WriteFileRequest) {
	switch req.Op {
	case userproto.WriteFileOpen:
		w, err := fsop.NewWriter(req.Path, req.Append)
		if err != nil {
			writeResponse(conn, id, userproto.ErrorResponse{Reason: fmt.Sprintf("failed to create file for writing: %v\n\tpath: %s", err, req.Path)})
			return
		}
		d.writers.Open(id, w)
		writeResponse(conn, id, userproto.WriteFileResponse{Opened: true})

	case userproto.WriteFileChunk:
		w, ok := d.writers.Find(id)
		if !ok {
			return
		}
		w.Chunk(req.Sequence, req.Data)

	case userproto.WriteFileClose:
		w, ok := d.writers.Find(id)
		if !ok {
			writeResponse(conn, id, userproto.ErrorResponse{Reason: "no file open for writing"})
			return
		}
		err := w.Close(req.Sequence)
		d.writers.Remove(id)
		if err != nil {
			writeResponse(conn, id, userproto.ErrorResponse{Reason: err.Error()})
			return
		}
		writeResponse(conn, id, userproto.WriteFileResponse{Opened: false})
	}
}

func writeResponse(conn *dispatch.Conn, id uint32, resp userproto.Response) {
	env := userproto.ResponseEnvelope{ID: id, Response: resp}
	if err := conn.WriteFrame(env.Encode()); err != nil {
		slog.Debug("failed to write response frame", "conn", conn.ID(), "request_id", id, "err", err)
	}
}
