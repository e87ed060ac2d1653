package userproto

import (
	"fmt"

	"github.com/nextpyp/procbridge/lib/wire"
)

// FileKind classifies a directory entry's file type (P2).
type FileKind uint8

const (
	FileUnknown   FileKind = 0
	FileRegular   FileKind = 1
	FileDir       FileKind = 2
	FileSymlink   FileKind = 3
	FileFifo      FileKind = 4
	FileSocket    FileKind = 5
	FileBlockDev  FileKind = 6
	FileCharDev   FileKind = 7
)

const dirListEOF uint8 = 0xFF

// FileEntry is one listed directory entry.
type FileEntry struct {
	Name string
	Kind FileKind
}

// DirListWriter builds the [kind u8][name utf8]... 0xFF-terminated byte
// stream that ListFolder streams back reusing ReadFile's frame shape.
type DirListWriter struct {
	enc *wire.Encoder
}

// NewDirListWriter returns an empty DirListWriter.
func NewDirListWriter() *DirListWriter {
	return &DirListWriter{enc: wire.NewEncoder()}
}

// Write appends one entry.
func (w *DirListWriter) Write(entry FileEntry) {
	w.enc.U8(uint8(entry.Kind))
	w.enc.UTF8(entry.Name)
}

// Close appends the EOF marker and returns the finished byte stream.
func (w *DirListWriter) Close() []byte {
	w.enc.U8(dirListEOF)
	return w.enc.Bytes()
}

// DirListReader sequentially parses a byte stream produced by DirListWriter.
type DirListReader struct {
	dec *wire.Decoder
}

// NewDirListReader wraps buf for sequential reading.
func NewDirListReader(buf []byte) *DirListReader {
	return &DirListReader{dec: wire.NewDecoder(buf)}
}

// Next returns the next entry, or (FileEntry{}, false, nil) at the EOF marker.
func (r *DirListReader) Next() (FileEntry, bool, error) {
	kindID, err := r.dec.U8()
	if err != nil {
		return FileEntry{}, false, fmt.Errorf("read entry kind: %w", err)
	}
	if kindID == dirListEOF {
		return FileEntry{}, false, nil
	}

	name, err := r.dec.UTF8()
	if err != nil {
		return FileEntry{}, false, fmt.Errorf("read entry name: %w", err)
	}

	kind := FileKind(kindID)
	switch kind {
	case FileRegular, FileDir, FileSymlink, FileFifo, FileSocket, FileBlockDev, FileCharDev:
	default:
		kind = FileUnknown
	}

	return FileEntry{Name: name, Kind: kind}, true, nil
}

// ReadAllEntries drains every entry from buf up to and including the EOF marker.
func ReadAllEntries(buf []byte) ([]FileEntry, error) {
	r := NewDirListReader(buf)
	var entries []FileEntry
	for {
		entry, ok, err := r.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return entries, nil
		}
		entries = append(entries, entry)
	}
}
