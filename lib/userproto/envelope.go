// Package userproto defines UserProcessor's wire protocol: filesystem
// request/response tagged unions and their codecs against lib/wire.
package userproto

import (
	"fmt"

	"github.com/nextpyp/procbridge/lib/wire"
)

// RequestEnvelope is {request_id, body} for a UserProcessor request.
type RequestEnvelope struct {
	ID      uint32
	Request Request
}

// ResponseEnvelope is {request_id, body} for a UserProcessor response.
type ResponseEnvelope struct {
	ID       uint32
	Response Response
}

// Request is the UserProcessor request tagged union.
type Request interface {
	requestTag() uint32
}

const (
	tagReqPing         uint32 = 1
	tagReqUids         uint32 = 2
	tagReqReadFile     uint32 = 3
	tagReqWriteFile    uint32 = 4
	tagReqChmod        uint32 = 5
	tagReqDeleteFile   uint32 = 6
	tagReqCreateFolder uint32 = 7
	tagReqDeleteFolder uint32 = 8
	tagReqListFolder   uint32 = 9
	tagReqCopyFolder   uint32 = 10
	tagReqStat         uint32 = 11
	tagReqRename       uint32 = 12
	tagReqSymlink      uint32 = 13
)

type PingRequest struct{}

func (PingRequest) requestTag() uint32 { return tagReqPing }

// UidsRequest queries the real/effective/saved uid of the daemon process.
type UidsRequest struct{}

func (UidsRequest) requestTag() uint32 { return tagReqUids }

type ReadFileRequest struct {
	Path string
}

func (ReadFileRequest) requestTag() uint32 { return tagReqReadFile }

// WriteFileRequest sub-tags for the 3-phase Open/Chunk/Close exchange.
const (
	tagWriteOpen  uint32 = 1
	tagWriteChunk uint32 = 2
	tagWriteClose uint32 = 3
)

// WriteFileOp discriminates the phase of a WriteFileRequest.
type WriteFileOp uint32

const (
	WriteFileOpen  WriteFileOp = WriteFileOp(tagWriteOpen)
	WriteFileChunk WriteFileOp = WriteFileOp(tagWriteChunk)
	WriteFileClose WriteFileOp = WriteFileOp(tagWriteClose)
)

// WriteFileRequest is one phase of a streamed write, keyed by the client's
// request id across all three phases (§4.5).
type WriteFileRequest struct {
	Op       WriteFileOp
	Path     string // valid iff Op == WriteFileOpen
	Append   bool   // valid iff Op == WriteFileOpen
	Sequence uint32 // valid iff Op == WriteFileChunk || Op == WriteFileClose
	Data     []byte // valid iff Op == WriteFileChunk
}

func (WriteFileRequest) requestTag() uint32 { return tagReqWriteFile }

// ChmodBit names one of the 12 POSIX permission bits, positioned low-to-high
// as other/group/user × execute/write/read, then sticky, setgid, setuid.
type ChmodBit uint8

const (
	BitOtherExecute ChmodBit = 0
	BitOtherWrite   ChmodBit = 1
	BitOtherRead    ChmodBit = 2
	BitGroupExecute ChmodBit = 3
	BitGroupWrite   ChmodBit = 4
	BitGroupRead    ChmodBit = 5
	BitUserExecute  ChmodBit = 6
	BitUserWrite    ChmodBit = 7
	BitUserRead     ChmodBit = 8
	BitSticky       ChmodBit = 9
	BitSetGid       ChmodBit = 10
	BitSetUid       ChmodBit = 11
)

// ChmodOp sets or clears a batch of bits; ops within a ChmodRequest apply
// left-to-right (P9).
type ChmodOp struct {
	Value bool
	Bits  []ChmodBit
}

type ChmodRequest struct {
	Path string
	Ops  []ChmodOp
}

func (ChmodRequest) requestTag() uint32 { return tagReqChmod }

type DeleteFileRequest struct {
	Path string
}

func (DeleteFileRequest) requestTag() uint32 { return tagReqDeleteFile }

type CreateFolderRequest struct {
	Path string
}

func (CreateFolderRequest) requestTag() uint32 { return tagReqCreateFolder }

type DeleteFolderRequest struct {
	Path string
}

func (DeleteFolderRequest) requestTag() uint32 { return tagReqDeleteFolder }

type ListFolderRequest struct {
	Path string
}

func (ListFolderRequest) requestTag() uint32 { return tagReqListFolder }

// CopyFolderRequest recursively copies src to dst. Directory entries recurse;
// anything else, including a symlink, is copied by following it — its
// target's content lands at the destination as a new regular file, not a
// symlink. A dangling symlink, or a symlink to a directory (not recursed
// into), fails the whole request with an ErrorResponse.
type CopyFolderRequest struct {
	Src string
	Dst string
}

func (CopyFolderRequest) requestTag() uint32 { return tagReqCopyFolder }

type StatRequest struct {
	Path string
}

func (StatRequest) requestTag() uint32 { return tagReqStat }

type RenameRequest struct {
	Src string
	Dst string
}

func (RenameRequest) requestTag() uint32 { return tagReqRename }

type SymlinkRequest struct {
	Path string
	Link string
}

func (SymlinkRequest) requestTag() uint32 { return tagReqSymlink }

// Response is the UserProcessor response tagged union.
type Response interface {
	responseTag() uint32
}

const (
	tagRespError        uint32 = 1
	tagRespPong         uint32 = 2
	tagRespUids         uint32 = 3
	tagRespReadFile     uint32 = 4 // also used for ListFolder (reuses ReadFile's frame shape)
	tagRespWriteFile    uint32 = 5
	tagRespChmod        uint32 = 6
	tagRespDeleteFile   uint32 = 7
	tagRespCreateFolder uint32 = 8
	tagRespDeleteFolder uint32 = 9
	tagRespCopyFolder   uint32 = 10
	tagRespStat         uint32 = 11
	tagRespRename       uint32 = 12
	tagRespSymlink      uint32 = 13
)

type ErrorResponse struct {
	Reason string
}

func (ErrorResponse) responseTag() uint32 { return tagRespError }

type PongResponse struct{}

func (PongResponse) responseTag() uint32 { return tagRespPong }

type UidsResponse struct {
	Uid  uint32
	Euid uint32
	Suid uint32
}

func (UidsResponse) responseTag() uint32 { return tagRespUids }

// ReadFileResponse sub-tags for the Open/Chunk/Close streamed-read frames;
// ListFolder reuses this exact shape (spec.md §4.5).
const (
	tagReadOpen  uint32 = 1
	tagReadChunk uint32 = 2
	tagReadClose uint32 = 3
)

type ReadFileOp uint32

const (
	ReadFileOpen  ReadFileOp = ReadFileOp(tagReadOpen)
	ReadFileChunk ReadFileOp = ReadFileOp(tagReadChunk)
	ReadFileClose ReadFileOp = ReadFileOp(tagReadClose)
)

// ReadFileResponse is one frame of a streamed read (or a ListFolder listing).
type ReadFileResponse struct {
	Op       ReadFileOp
	Bytes    uint64 // valid iff Op == ReadFileOpen
	Sequence uint32 // valid iff Op == ReadFileChunk || Op == ReadFileClose
	Data     []byte // valid iff Op == ReadFileChunk
}

func (ReadFileResponse) responseTag() uint32 { return tagRespReadFile }

const (
	tagWriteOpened uint32 = 1
	tagWriteClosed uint32 = 2
)

// WriteFileResponse replies Opened (to Open) or Closed (to Close); Close may
// also yield an ErrorResponse instead if a latched write error occurred.
type WriteFileResponse struct {
	Opened bool // false means Closed
}

func (WriteFileResponse) responseTag() uint32 { return tagRespWriteFile }

type ChmodResponse struct{}

func (ChmodResponse) responseTag() uint32 { return tagRespChmod }

type DeleteFileResponse struct{}

func (DeleteFileResponse) responseTag() uint32 { return tagRespDeleteFile }

type CreateFolderResponse struct{}

func (CreateFolderResponse) responseTag() uint32 { return tagRespCreateFolder }

type DeleteFolderResponse struct{}

func (DeleteFolderResponse) responseTag() uint32 { return tagRespDeleteFolder }

type CopyFolderResponse struct{}

func (CopyFolderResponse) responseTag() uint32 { return tagRespCopyFolder }

// StatKind discriminates the non-dereferencing Stat result (P10).
type StatKind uint32

const (
	StatNotFound StatKind = 1
	StatFile     StatKind = 2
	StatDir      StatKind = 3
	StatSymlink  StatKind = 4
	StatOther    StatKind = 5
)

// SymlinkStatKind discriminates the dereferencing stat performed through a
// symlink (the StatResponse.Symlink inner variant).
type SymlinkStatKind uint32

const (
	SymlinkStatNotFound SymlinkStatKind = 1
	SymlinkStatFile     SymlinkStatKind = 2
	SymlinkStatDir      SymlinkStatKind = 3
	SymlinkStatOther    SymlinkStatKind = 4
)

type StatResponse struct {
	Kind           StatKind
	Size           uint64          // valid iff Kind == StatFile
	SymlinkKind    SymlinkStatKind // valid iff Kind == StatSymlink
	SymlinkSize    uint64          // valid iff Kind == StatSymlink && SymlinkKind == SymlinkStatFile
}

func (StatResponse) responseTag() uint32 { return tagRespStat }

type RenameResponse struct{}

func (RenameResponse) responseTag() uint32 { return tagRespRename }

type SymlinkResponse struct{}

func (SymlinkResponse) responseTag() uint32 { return tagRespSymlink }

// Encode serializes a RequestEnvelope into a frame payload.
func (e RequestEnvelope) Encode() []byte {
	enc := wire.NewEncoder()
	enc.U32(e.ID)
	enc.U32(e.Request.requestTag())
	switch r := e.Request.(type) {
	case PingRequest:
	case UidsRequest:
	case ReadFileRequest:
		enc.UTF8(r.Path)
	case WriteFileRequest:
		enc.U32(uint32(r.Op))
		switch r.Op {
		case WriteFileOpen:
			enc.UTF8(r.Path)
			enc.Bool(r.Append)
		case WriteFileChunk:
			enc.U32(r.Sequence)
			enc.RawBytes(r.Data)
		case WriteFileClose:
			enc.U32(r.Sequence)
		}
	case ChmodRequest:
		enc.UTF8(r.Path)
		enc.VecLen(len(r.Ops))
		for _, op := range r.Ops {
			enc.Bool(op.Value)
			enc.VecLen(len(op.Bits))
			for _, b := range op.Bits {
				enc.U8(uint8(b))
			}
		}
	case DeleteFileRequest:
		enc.UTF8(r.Path)
	case CreateFolderRequest:
		enc.UTF8(r.Path)
	case DeleteFolderRequest:
		enc.UTF8(r.Path)
	case ListFolderRequest:
		enc.UTF8(r.Path)
	case CopyFolderRequest:
		enc.UTF8(r.Src)
		enc.UTF8(r.Dst)
	case StatRequest:
		enc.UTF8(r.Path)
	case RenameRequest:
		enc.UTF8(r.Src)
		enc.UTF8(r.Dst)
	case SymlinkRequest:
		enc.UTF8(r.Path)
		enc.UTF8(r.Link)
	}
	return enc.Bytes()
}

// DecodeError distinguishes failures before vs. after a request id was
// recovered, mirroring hostproto.DecodeError.
type DecodeError struct {
	Err       error
	RequestID *uint32
}

func (e *DecodeError) Error() string { return e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeRequest decodes a frame payload into a RequestEnvelope.
func DecodeRequest(payload []byte) (RequestEnvelope, *DecodeError) {
	d := wire.NewDecoder(payload)

	id, err := d.U32()
	if err != nil {
		return RequestEnvelope{}, &DecodeError{Err: fmt.Errorf("read request id: %w", err)}
	}
	tag, err := d.U32()
	if err != nil {
		return RequestEnvelope{}, &DecodeError{Err: fmt.Errorf("read request tag: %w", err), RequestID: &id}
	}

	wrap := func(err error) *DecodeError { return &DecodeError{Err: err, RequestID: &id} }

	var req Request
	switch tag {
	case tagReqPing:
		req = PingRequest{}
	case tagReqUids:
		req = UidsRequest{}
	case tagReqReadFile:
		path, err := d.UTF8()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		req = ReadFileRequest{Path: path}
	case tagReqWriteFile:
		op, err := d.U32()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		var r WriteFileRequest
		r.Op = WriteFileOp(op)
		switch r.Op {
		case WriteFileOpen:
			if r.Path, err = d.UTF8(); err != nil {
				return RequestEnvelope{}, wrap(err)
			}
			if r.Append, err = d.Bool(); err != nil {
				return RequestEnvelope{}, wrap(err)
			}
		case WriteFileChunk:
			if r.Sequence, err = d.U32(); err != nil {
				return RequestEnvelope{}, wrap(err)
			}
			if r.Data, err = d.RawBytes(); err != nil {
				return RequestEnvelope{}, wrap(err)
			}
		case WriteFileClose:
			if r.Sequence, err = d.U32(); err != nil {
				return RequestEnvelope{}, wrap(err)
			}
		default:
			return RequestEnvelope{}, wrap(fmt.Errorf("unrecognized write-file op: %d", op))
		}
		req = r
	case tagReqChmod:
		var r ChmodRequest
		if r.Path, err = d.UTF8(); err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		n, err := d.VecLen()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		for range n {
			var op ChmodOp
			if op.Value, err = d.Bool(); err != nil {
				return RequestEnvelope{}, wrap(err)
			}
			m, err := d.VecLen()
			if err != nil {
				return RequestEnvelope{}, wrap(err)
			}
			for range m {
				b, err := d.U8()
				if err != nil {
					return RequestEnvelope{}, wrap(err)
				}
				op.Bits = append(op.Bits, ChmodBit(b))
			}
			r.Ops = append(r.Ops, op)
		}
		req = r
	case tagReqDeleteFile:
		path, err := d.UTF8()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		req = DeleteFileRequest{Path: path}
	case tagReqCreateFolder:
		path, err := d.UTF8()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		req = CreateFolderRequest{Path: path}
	case tagReqDeleteFolder:
		path, err := d.UTF8()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		req = DeleteFolderRequest{Path: path}
	case tagReqListFolder:
		path, err := d.UTF8()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		req = ListFolderRequest{Path: path}
	case tagReqCopyFolder:
		src, err := d.UTF8()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		dst, err := d.UTF8()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		req = CopyFolderRequest{Src: src, Dst: dst}
	case tagReqStat:
		path, err := d.UTF8()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		req = StatRequest{Path: path}
	case tagReqRename:
		src, err := d.UTF8()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		dst, err := d.UTF8()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		req = RenameRequest{Src: src, Dst: dst}
	case tagReqSymlink:
		path, err := d.UTF8()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		link, err := d.UTF8()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		req = SymlinkRequest{Path: path, Link: link}
	default:
		return RequestEnvelope{}, wrap(fmt.Errorf("unrecognized request tag: %d", tag))
	}

	return RequestEnvelope{ID: id, Request: req}, nil
}

// Encode serializes a ResponseEnvelope into a frame payload.
func (e ResponseEnvelope) Encode() []byte {
	enc := wire.NewEncoder()
	enc.U32(e.ID)
	enc.U32(e.Response.responseTag())
	switch r := e.Response.(type) {
	case ErrorResponse:
		enc.UTF8(r.Reason)
	case PongResponse:
	case UidsResponse:
		enc.U32(r.Uid)
		enc.U32(r.Euid)
		enc.U32(r.Suid)
	case ReadFileResponse:
		enc.U32(uint32(r.Op))
		switch r.Op {
		case ReadFileOpen:
			enc.U64(r.Bytes)
		case ReadFileChunk:
			enc.U32(r.Sequence)
			enc.RawBytes(r.Data)
		case ReadFileClose:
			enc.U32(r.Sequence)
		}
	case WriteFileResponse:
		if r.Opened {
			enc.U32(tagWriteOpened)
		} else {
			enc.U32(tagWriteClosed)
		}
	case ChmodResponse:
	case DeleteFileResponse:
	case CreateFolderResponse:
	case DeleteFolderResponse:
	case CopyFolderResponse:
	case StatResponse:
		enc.U32(uint32(r.Kind))
		switch r.Kind {
		case StatFile:
			enc.U64(r.Size)
		case StatSymlink:
			enc.U32(uint32(r.SymlinkKind))
			if r.SymlinkKind == SymlinkStatFile {
				enc.U64(r.SymlinkSize)
			}
		}
	case RenameResponse:
	case SymlinkResponse:
	}
	return enc.Bytes()
}

// DecodeResponse decodes a frame payload into a ResponseEnvelope.
func DecodeResponse(payload []byte) (ResponseEnvelope, error) {
	d := wire.NewDecoder(payload)

	id, err := d.U32()
	if err != nil {
		return ResponseEnvelope{}, fmt.Errorf("read response id: %w", err)
	}
	tag, err := d.U32()
	if err != nil {
		return ResponseEnvelope{}, fmt.Errorf("read response tag: %w", err)
	}

	var resp Response
	switch tag {
	case tagRespError:
		reason, err := d.UTF8()
		if err != nil {
			return ResponseEnvelope{}, err
		}
		resp = ErrorResponse{Reason: reason}
	case tagRespPong:
		resp = PongResponse{}
	case tagRespUids:
		uid, err := d.U32()
		if err != nil {
			return ResponseEnvelope{}, err
		}
		euid, err := d.U32()
		if err != nil {
			return ResponseEnvelope{}, err
		}
		suid, err := d.U32()
		if err != nil {
			return ResponseEnvelope{}, err
		}
		resp = UidsResponse{Uid: uid, Euid: euid, Suid: suid}
	case tagRespReadFile:
		op, err := d.U32()
		if err != nil {
			return ResponseEnvelope{}, err
		}
		var r ReadFileResponse
		r.Op = ReadFileOp(op)
		switch r.Op {
		case ReadFileOpen:
			if r.Bytes, err = d.U64(); err != nil {
				return ResponseEnvelope{}, err
			}
		case ReadFileChunk:
			if r.Sequence, err = d.U32(); err != nil {
				return ResponseEnvelope{}, err
			}
			if r.Data, err = d.RawBytes(); err != nil {
				return ResponseEnvelope{}, err
			}
		case ReadFileClose:
			if r.Sequence, err = d.U32(); err != nil {
				return ResponseEnvelope{}, err
			}
		default:
			return ResponseEnvelope{}, fmt.Errorf("unrecognized read-file op: %d", op)
		}
		resp = r
	case tagRespWriteFile:
		sub, err := d.U32()
		if err != nil {
			return ResponseEnvelope{}, err
		}
		switch sub {
		case tagWriteOpened:
			resp = WriteFileResponse{Opened: true}
		case tagWriteClosed:
			resp = WriteFileResponse{Opened: false}
		default:
			return ResponseEnvelope{}, fmt.Errorf("unrecognized write-file response tag: %d", sub)
		}
	case tagRespChmod:
		resp = ChmodResponse{}
	case tagRespDeleteFile:
		resp = DeleteFileResponse{}
	case tagRespCreateFolder:
		resp = CreateFolderResponse{}
	case tagRespDeleteFolder:
		resp = DeleteFolderResponse{}
	case tagRespCopyFolder:
		resp = CopyFolderResponse{}
	case tagRespStat:
		kind, err := d.U32()
		if err != nil {
			return ResponseEnvelope{}, err
		}
		var r StatResponse
		r.Kind = StatKind(kind)
		switch r.Kind {
		case StatFile:
			if r.Size, err = d.U64(); err != nil {
				return ResponseEnvelope{}, err
			}
		case StatSymlink:
			sk, err := d.U32()
			if err != nil {
				return ResponseEnvelope{}, err
			}
			r.SymlinkKind = SymlinkStatKind(sk)
			if r.SymlinkKind == SymlinkStatFile {
				if r.SymlinkSize, err = d.U64(); err != nil {
					return ResponseEnvelope{}, err
				}
			}
		}
		resp = r
	case tagRespRename:
		resp = RenameResponse{}
	case tagRespSymlink:
		resp = SymlinkResponse{}
	default:
		return ResponseEnvelope{}, fmt.Errorf("unrecognized response tag: %d", tag)
	}

	return ResponseEnvelope{ID: id, Response: resp}, nil
}
