package e2e

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nextpyp/procbridge/lib/dispatch"
	"github.com/nextpyp/procbridge/lib/userdaemon"
	"github.com/nextpyp/procbridge/lib/userproto"
	"github.com/nextpyp/procbridge/lib/wire"
)

// userHarness serves userdaemon over an in-process unix socket for the
// lifetime of one test, mirroring the shape of a real UserProcessor without
// going through process startup (no setuid/root-refusal dance to fake).
type userHarness struct {
	t    *testing.T
	conn net.Conn
	id   uint32
	dir  string // scratch directory the test's filesystem ops run against
}

func newUserHarness(t *testing.T) *userHarness {
	t.Helper()
	sockDir := t.TempDir()
	sockPath := filepath.Join(sockDir, "user.sock")

	ln, err := net.Listen("unix", sockPath)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := userdaemon.New(logger)
	srv := &dispatch.Server{Listener: ln, Logger: logger, Handle: d.HandleConn}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = ln.Close()
	})

	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))
	t.Cleanup(func() { _ = conn.Close() })

	return &userHarness{t: t, conn: conn, dir: t.TempDir()}
}

func (h *userHarness) path(name string) string {
	return filepath.Join(h.dir, name)
}

func (h *userHarness) send(req userproto.Request) uint32 {
	h.t.Helper()
	h.id++
	env := userproto.RequestEnvelope{ID: h.id, Request: req}
	require.NoError(h.t, wire.WriteFrame(h.conn, env.Encode()))
	return h.id
}

func (h *userHarness) recv() userproto.ResponseEnvelope {
	h.t.Helper()
	payload, err := wire.ReadFrame(h.conn)
	require.NoError(h.t, err)
	env, err := userproto.DecodeResponse(payload)
	require.NoError(h.t, err)
	return env
}

// writeFile drives a full Open/Chunk/Close WriteFile exchange and returns
// once Closed is confirmed.
func (h *userHarness) writeFile(path string, data []byte, appendMode bool) {
	h.t.Helper()
	id := h.send(userproto.WriteFileRequest{Op: userproto.WriteFileOpen, Path: path, Append: appendMode})
	openResp := h.recv()
	require.Equal(h.t, id, openResp.ID)
	wf, ok := openResp.Response.(userproto.WriteFileResponse)
	require.True(h.t, ok)
	require.True(h.t, wf.Opened)

	h.idSend(id, userproto.WriteFileRequest{Op: userproto.WriteFileChunk, Sequence: 1, Data: data})

	h.idSend(id, userproto.WriteFileRequest{Op: userproto.WriteFileClose, Sequence: 2})
	closeResp := h.recv()
	require.Equal(h.t, id, closeResp.ID)
	wf2, ok := closeResp.Response.(userproto.WriteFileResponse)
	require.True(h.t, ok)
	require.False(h.t, wf2.Opened)
}

// idSend writes a request reusing an existing request id, matching the
// shared-id-across-phases requirement of the WriteFile exchange.
func (h *userHarness) idSend(id uint32, req userproto.Request) {
	h.t.Helper()
	env := userproto.RequestEnvelope{ID: id, Request: req}
	require.NoError(h.t, wire.WriteFrame(h.conn, env.Encode()))
}

func TestUserProcessorPing(t *testing.T) {
	h := newUserHarness(t)
	id := h.send(userproto.PingRequest{})
	resp := h.recv()
	require.Equal(t, id, resp.ID)
	require.IsType(t, userproto.PongResponse{}, resp.Response)
}

func TestUserProcessorUids(t *testing.T) {
	h := newUserHarness(t)
	id := h.send(userproto.UidsRequest{})
	resp := h.recv()
	require.Equal(t, id, resp.ID)
	uids, ok := resp.Response.(userproto.UidsResponse)
	require.True(t, ok)
	require.Equal(t, uint32(os.Getuid()), uids.Uid)
}

func TestUserProcessorWriteThenReadFile(t *testing.T) {
	h := newUserHarness(t)
	path := h.path("greeting.txt")
	want := []byte("hello from the other side")

	h.writeFile(path, want, false)

	id := h.send(userproto.ReadFileRequest{Path: path})
	openResp := h.recv()
	require.Equal(t, id, openResp.ID)
	open, ok := openResp.Response.(userproto.ReadFileResponse)
	require.True(t, ok)
	require.Equal(t, userproto.ReadFileOpen, open.Op)
	require.Equal(t, uint64(len(want)), open.Bytes)

	var got bytes.Buffer
	var lastSeq uint32
	for {
		resp := h.recv()
		require.Equal(t, id, resp.ID)
		frame, ok := resp.Response.(userproto.ReadFileResponse)
		require.True(t, ok)
		if frame.Op == userproto.ReadFileClose {
			lastSeq = frame.Sequence
			break
		}
		require.Equal(t, userproto.ReadFileChunk, frame.Op)
		got.Write(frame.Data)
	}
	require.Equal(t, want, got.Bytes())
	require.Equal(t, uint32(2), lastSeq, "close sequence is one past the last emitted chunk's")
}

func TestUserProcessorAppendWrite(t *testing.T) {
	h := newUserHarness(t)
	path := h.path("log.txt")
	h.writeFile(path, []byte("first\n"), false)
	h.writeFile(path, []byte("second\n"), true)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "first\nsecond\n", string(got))
}

func TestUserProcessorStatAndChmod(t *testing.T) {
	h := newUserHarness(t)
	path := h.path("perms.txt")
	h.writeFile(path, []byte("x"), false)

	id := h.send(userproto.StatRequest{Path: path})
	resp := h.recv()
	require.Equal(t, id, resp.ID)
	stat, ok := resp.Response.(userproto.StatResponse)
	require.True(t, ok)
	require.Equal(t, userproto.StatFile, stat.Kind)
	require.Equal(t, uint64(1), stat.Size)

	chmodID := h.send(userproto.ChmodRequest{
		Path: path,
		Ops: []userproto.ChmodOp{
			{Value: false, Bits: []userproto.ChmodBit{userproto.BitGroupRead, userproto.BitOtherRead}},
		},
	})
	chmodResp := h.recv()
	require.Equal(t, chmodID, chmodResp.ID)
	require.IsType(t, userproto.ChmodResponse{}, chmodResp.Response)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Zero(t, info.Mode().Perm()&0o044)
}

func TestUserProcessorFolderLifecycle(t *testing.T) {
	h := newUserHarness(t)
	dir := h.path("sub")

	id := h.send(userproto.CreateFolderRequest{Path: dir})
	resp := h.recv()
	require.Equal(t, id, resp.ID)
	require.IsType(t, userproto.CreateFolderResponse{}, resp.Response)

	h.writeFile(filepath.Join(dir, "a.txt"), []byte("a"), false)
	h.writeFile(filepath.Join(dir, "b.txt"), []byte("bb"), false)

	listID := h.send(userproto.ListFolderRequest{Path: dir})
	openResp := h.recv()
	require.Equal(t, listID, openResp.ID)
	open, ok := openResp.Response.(userproto.ReadFileResponse)
	require.True(t, ok)
	require.Equal(t, userproto.ReadFileOpen, open.Op)

	var entries bytes.Buffer
	for {
		resp := h.recv()
		frame := resp.Response.(userproto.ReadFileResponse)
		if frame.Op == userproto.ReadFileClose {
			break
		}
		entries.Write(frame.Data)
	}
	require.Contains(t, entries.String(), "a.txt")
	require.Contains(t, entries.String(), "b.txt")

	copyDst := h.path("sub-copy")
	copyID := h.send(userproto.CopyFolderRequest{Src: dir, Dst: copyDst})
	copyResp := h.recv()
	require.Equal(t, copyID, copyResp.ID)
	require.IsType(t, userproto.CopyFolderResponse{}, copyResp.Response)
	copiedContent, err := os.ReadFile(filepath.Join(copyDst, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "a", string(copiedContent))

	delID := h.send(userproto.DeleteFolderRequest{Path: copyDst})
	delResp := h.recv()
	require.Equal(t, delID, delResp.ID)
	require.IsType(t, userproto.DeleteFolderResponse{}, delResp.Response)
	_, err = os.Stat(copyDst)
	require.True(t, os.IsNotExist(err))
}

func TestUserProcessorRenameAndSymlinkAndDelete(t *testing.T) {
	h := newUserHarness(t)
	src := h.path("old.txt")
	dst := h.path("new.txt")
	h.writeFile(src, []byte("data"), false)

	renID := h.send(userproto.RenameRequest{Src: src, Dst: dst})
	renResp := h.recv()
	require.Equal(t, renID, renResp.ID)
	require.IsType(t, userproto.RenameResponse{}, renResp.Response)
	_, err := os.Stat(dst)
	require.NoError(t, err)

	link := h.path("link.txt")
	symID := h.send(userproto.SymlinkRequest{Path: dst, Link: link})
	symResp := h.recv()
	require.Equal(t, symID, symResp.ID)
	require.IsType(t, userproto.SymlinkResponse{}, symResp.Response)

	statID := h.send(userproto.StatRequest{Path: link})
	statResp := h.recv()
	stat := statResp.Response.(userproto.StatResponse)
	require.Equal(t, statID, statResp.ID)
	require.Equal(t, userproto.StatSymlink, stat.Kind)
	require.Equal(t, userproto.SymlinkStatFile, stat.SymlinkKind)

	delID := h.send(userproto.DeleteFileRequest{Path: link})
	delResp := h.recv()
	require.Equal(t, delID, delResp.ID)
	require.IsType(t, userproto.DeleteFileResponse{}, delResp.Response)
	_, err = os.Lstat(link)
	require.True(t, os.IsNotExist(err))
}

func TestUserProcessorStatNotFound(t *testing.T) {
	h := newUserHarness(t)
	id := h.send(userproto.StatRequest{Path: h.path("does-not-exist")})
	resp := h.recv()
	require.Equal(t, id, resp.ID)
	stat, ok := resp.Response.(userproto.StatResponse)
	require.True(t, ok)
	require.Equal(t, userproto.StatNotFound, stat.Kind)
}

func TestUserProcessorReadMissingFileYieldsError(t *testing.T) {
	h := newUserHarness(t)
	id := h.send(userproto.ReadFileRequest{Path: h.path("nope.txt")})
	resp := h.recv()
	require.Equal(t, id, resp.ID)
	require.IsType(t, userproto.ErrorResponse{}, resp.Response)
}
