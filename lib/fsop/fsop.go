package fsop

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/nextpyp/procbridge/lib/userproto"
)

const chunkSize = 4 * 1024

// Uids reports the calling process's real, effective, and saved uid —
// UserProcessor runs setuid, so all three usually agree once it has dropped
// privilege, but the wire protocol reports all three regardless.
func Uids() (uid, euid, suid uint32, err error) {
	var ruid, e, s int
	if err := unix.Getresuid(&ruid, &e, &s); err != nil {
		return 0, 0, 0, fmt.Errorf("getresuid: %w", err)
	}
	return uint32(ruid), uint32(e), uint32(s), nil
}

// ReadHooks reports the streamed phases of a ReadFile or ListFolder back to
// the caller, which turns them into wire frames.
type ReadHooks struct {
	OnOpen  func(totalBytes uint64)
	OnChunk func(sequence uint32, data []byte)
}

// ReadFile streams path's contents through hooks in 4KB chunks and returns
// the sequence number for the Close frame, one past the last chunk's.
func ReadFile(path string, hooks ReadHooks) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open file %w\n\tpath: %s", err, path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to read metadata for file %w\n\tpath: %s", err, path)
	}
	hooks.OnOpen(uint64(info.Size()))

	return streamReader(f, hooks.OnChunk, func(err error) error {
		return fmt.Errorf("failed to read chunk: %w\n\tpath: %s", err, path)
	})
}

// streamReader mirrors the original's read loop exactly: sequence increments
// before each read, a zero-byte read ends the loop without emitting a chunk,
// and the final sequence value (one past the last emitted chunk) is what the
// Close frame reports.
func streamReader(r io.Reader, onChunk func(sequence uint32, data []byte), wrapErr func(error) error) (uint32, error) {
	buf := make([]byte, chunkSize)
	var sequence uint32
	for {
		sequence++
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onChunk(sequence, chunk)
		}
		if err != nil {
			if err == io.EOF {
				return sequence, nil
			}
			return 0, wrapErr(err)
		}
		if n == 0 {
			return sequence, nil
		}
	}
}

// ListFolder lists path's entries, encodes them with a userproto.DirListWriter,
// and streams the resulting buffer through hooks exactly like ReadFile —
// ListFolder reuses ReadFile's frame shape on the wire.
func ListFolder(path string, hooks ReadHooks) (uint32, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read folder: %w\n\tpath: %s", err, path)
	}

	w := userproto.NewDirListWriter()
	for _, entry := range entries {
		ty := entry.Type()
		w.Write(userproto.FileEntry{
			Name: entry.Name(),
			Kind: fileKindOf(ty),
		})
	}
	list := w.Close()
	hooks.OnOpen(uint64(len(list)))

	return streamReader(bytesReader(list), hooks.OnChunk, func(err error) error {
		return fmt.Errorf("failed to write list: %w", err)
	})
}

func bytesReader(b []byte) io.Reader {
	return &sliceReader{b: b}
}

// sliceReader is a trivial io.Reader over an in-memory buffer — reading from
// it can't fail, matching the original's in-memory Cursor.
type sliceReader struct {
	b   []byte
	pos int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}

func fileKindOf(ty fs.FileMode) userproto.FileKind {
	switch {
	case ty.IsRegular():
		return userproto.FileRegular
	case ty.IsDir():
		return userproto.FileDir
	case ty&fs.ModeSymlink != 0:
		return userproto.FileSymlink
	case ty&fs.ModeNamedPipe != 0:
		return userproto.FileFifo
	case ty&fs.ModeSocket != 0:
		return userproto.FileSocket
	case ty&fs.ModeDevice != 0 && ty&fs.ModeCharDevice != 0:
		return userproto.FileCharDev
	case ty&fs.ModeDevice != 0:
		return userproto.FileBlockDev
	default:
		return userproto.FileUnknown
	}
}

// chmodBitPos mirrors ChmodBit's POSIX mode bit positions (other/group/user x
// execute/write/read, then sticky, setgid, setuid).
var chmodBitPos = map[userproto.ChmodBit]uint{
	userproto.BitOtherExecute: 0,
	userproto.BitOtherWrite:   1,
	userproto.BitOtherRead:    2,
	userproto.BitGroupExecute: 3,
	userproto.BitGroupWrite:   4,
	userproto.BitGroupRead:    5,
	userproto.BitUserExecute:  6,
	userproto.BitUserWrite:    7,
	userproto.BitUserRead:     8,
	userproto.BitSticky:       9,
	userproto.BitSetGid:       10,
	userproto.BitSetUid:       11,
}

// Chmod applies ops left-to-right onto path's current POSIX mode bits.
func Chmod(path string, ops []userproto.ChmodOp) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to read file permissions: %w\n\tpath: %s", err, path)
	}
	// os.FileMode's sticky/setuid/setgid bits don't line up with POSIX mode
	// numerically, so rebuild the raw mode from the bit positions directly.
	mode := rawMode(info.Mode())

	for _, op := range ops {
		for _, bit := range op.Bits {
			pos, ok := chmodBitPos[bit]
			if !ok {
				continue
			}
			if op.Value {
				mode |= 1 << pos
			} else {
				mode &^= 1 << pos
			}
		}
	}

	if err := unix.Chmod(path, mode); err != nil {
		return fmt.Errorf("failed to write file permissions: %w\n\tpath: %s", err, path)
	}
	return nil
}

// rawMode reconstructs the POSIX mode word (including setuid/setgid/sticky)
// from a fs.FileMode, since os.FileMode's high bits use its own encoding.
func rawMode(m fs.FileMode) uint32 {
	mode := uint32(m.Perm())
	if m&fs.ModeSetuid != 0 {
		mode |= 1 << 11
	}
	if m&fs.ModeSetgid != 0 {
		mode |= 1 << 10
	}
	if m&fs.ModeSticky != 0 {
		mode |= 1 << 9
	}
	return mode
}

// DeleteFile removes path. It uses Lstat rather than a following existence
// check, so a broken (dangling) symlink is still deletable — Stat would
// report "not found" for one and this would silently no-op otherwise.
func DeleteFile(path string) error {
	if _, err := os.Lstat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to delete file: %w\n\tpath: %s", err, path)
		}
	}
	return nil
}

// CreateFolder makes path and any missing parents.
func CreateFolder(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create folder: %w\n\tpath: %s", err, path)
	}
	return nil
}

// DeleteFolder removes path and its contents, following symlinks to check
// existence first (unlike DeleteFile, a dangling path here is just a no-op).
func DeleteFolder(path string) error {
	if _, err := os.Stat(path); err == nil {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to delete folder: %w\n\tpath: %s", err, path)
		}
	}
	return nil
}

// CopyFolder recursively copies src to dst. Sub-directories recurse;
// anything else — including a symlink — is copied by following it, landing
// its target's content as a new regular file at the destination. A dangling
// symlink, or a symlink to a directory (which is not recursed into and cannot
// be copied as a file), fails the whole call with its copy error.
func CopyFolder(src, dst string) error {
	if err := copyDirAll(src, dst); err != nil {
		return fmt.Errorf("failed to copy folder: %w\n\tfrom: %s\n\t  to: %s", err, src, dst)
	}
	return nil
}

func copyDirAll(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("failed to create folder: %s: %w", dst, err)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("failed to read folder: %s: %w", src, err)
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.Type().IsDir() {
			if err := copyDirAll(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFileFollowingSymlinks(srcPath, dstPath); err != nil {
			return fmt.Errorf("failed to copy file:\n\tfrom: %s\n\t  to: %s: %w", srcPath, dstPath, err)
		}
	}
	return nil
}

func copyFileFollowingSymlinks(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return nil
}

// StatResult mirrors userproto.StatResponse without the wire encoding.
type StatResult struct {
	Kind        userproto.StatKind
	Size        uint64
	SymlinkKind userproto.SymlinkStatKind
	SymlinkSize uint64
}

// Stat reports path's kind via Lstat, and for a symlink, also the kind its
// target dereferences to (P10).
func Stat(path string) (StatResult, error) {
	lstat, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return StatResult{Kind: userproto.StatNotFound}, nil
		}
		return StatResult{}, fmt.Errorf("failed to call lstat: %w\n\tpath: %s", err, path)
	}

	if lstat.Mode()&os.ModeSymlink != 0 {
		stat, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return StatResult{Kind: userproto.StatSymlink, SymlinkKind: userproto.SymlinkStatNotFound}, nil
			}
			return StatResult{}, fmt.Errorf("failed to call stat: %w\n\tpath: %s", err, path)
		}
		switch {
		case stat.Mode().IsRegular():
			return StatResult{Kind: userproto.StatSymlink, SymlinkKind: userproto.SymlinkStatFile, SymlinkSize: uint64(stat.Size())}, nil
		case stat.IsDir():
			return StatResult{Kind: userproto.StatSymlink, SymlinkKind: userproto.SymlinkStatDir}, nil
		default:
			return StatResult{Kind: userproto.StatSymlink, SymlinkKind: userproto.SymlinkStatOther}, nil
		}
	}

	switch {
	case lstat.Mode().IsRegular():
		return StatResult{Kind: userproto.StatFile, Size: uint64(lstat.Size())}, nil
	case lstat.IsDir():
		return StatResult{Kind: userproto.StatDir}, nil
	default:
		return StatResult{Kind: userproto.StatOther}, nil
	}
}

// Rename moves src to dst.
func Rename(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to rename: %w\n\tsrc: %s\n\tdst: %s", err, src, dst)
	}
	return nil
}

// Symlink creates a symlink at link pointing to path, creating path's parent
// directories first. Note the direction: path is the link's target, not the
// link's own location — easy to invert by mistake since os.Symlink's
// (oldname, newname) pairing matches Rust's symlink(original, link) exactly.
func Symlink(path, link string) error {
	if parent := filepath.Dir(path); parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return fmt.Errorf("failed to create parent folders of symlink: %w\n\tpath: %s\n\tlink: %s", err, path, link)
		}
	}
	if err := os.Symlink(path, link); err != nil {
		return fmt.Errorf("failed to symlink: %w\n\tpath: %s\n\tlink: %s", err, path, link)
	}
	return nil
}
