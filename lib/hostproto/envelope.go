// Package hostproto defines HostProcessor's wire protocol: the request and
// response tagged unions, their numeric type tags, and the codecs that encode
// and decode them against lib/wire's framing primitives.
package hostproto

import (
	"fmt"

	"github.com/nextpyp/procbridge/lib/wire"
)

// RequestEnvelope is {request_id, body} for a HostProcessor request.
type RequestEnvelope struct {
	ID      uint32
	Request Request
}

// ResponseEnvelope is {request_id, body} for a HostProcessor response. The
// request_id always echoes the id of the request that produced it (P4),
// including every frame of a streamed response.
type ResponseEnvelope struct {
	ID       uint32
	Response Response
}

// Request is the HostProcessor request tagged union.
type Request interface {
	requestTag() uint32
}

// Request type tags, stable per original_source/src/hostProcessor/src/proto.rs.
const (
	tagReqPing        uint32 = 1
	tagReqExec        uint32 = 2
	tagReqStatus      uint32 = 3
	tagReqWriteStdin  uint32 = 4
	tagReqCloseStdin  uint32 = 5
	tagReqKill        uint32 = 6
	tagReqUsername    uint32 = 7
	tagReqUid         uint32 = 8
	tagReqGroupname   uint32 = 9
	tagReqGid         uint32 = 10
	tagReqGids        uint32 = 11
)

type PingRequest struct{}

func (PingRequest) requestTag() uint32 { return tagReqPing }

// ExecStdin selects how the child's stdin is wired.
type ExecStdin uint32

const (
	ExecStdinStream ExecStdin = 1
	ExecStdinIgnore ExecStdin = 2
)

// ExecStdout selects how the child's stdout is handled.
type ExecStdout uint32

const (
	ExecStdoutStream ExecStdout = 1
	ExecStdoutWrite  ExecStdout = 2
	ExecStdoutLog    ExecStdout = 3
	ExecStdoutIgnore ExecStdout = 4
)

// ExecStderr selects how the child's stderr is handled.
type ExecStderr uint32

const (
	ExecStderrStream ExecStderr = 1
	ExecStderrWrite  ExecStderr = 2
	ExecStderrMerge  ExecStderr = 3
	ExecStderrLog    ExecStderr = 4
	ExecStderrIgnore ExecStderr = 5
)

// ExecRequest spawns a child process in its own process group.
type ExecRequest struct {
	Program  string
	Args     []string
	Dir      *string // nil => daemon's current working directory
	Envvars  []string
	Stdin    ExecStdin
	Stdout   ExecStdout
	StdoutPath string // set iff Stdout == ExecStdoutWrite
	Stderr   ExecStderr
	StderrPath string // set iff Stderr == ExecStderrWrite
	StreamFin bool
}

func (ExecRequest) requestTag() uint32 { return tagReqExec }

type StatusRequest struct {
	Pid uint32
}

func (StatusRequest) requestTag() uint32 { return tagReqStatus }

type WriteStdinRequest struct {
	Pid   uint32
	Chunk []byte
}

func (WriteStdinRequest) requestTag() uint32 { return tagReqWriteStdin }

type CloseStdinRequest struct {
	Pid uint32
}

func (CloseStdinRequest) requestTag() uint32 { return tagReqCloseStdin }

// KillRequest asks the supervisor to signal a child. ProcessGroup defaults to
// per-PID signaling when absent, per spec.md §9's resolution of the
// ambiguous process_group/signal fields in the original source.
type KillRequest struct {
	Signal       string // e.g. "TERM", "KILL", "INT", "HUP"
	Pid          uint32
	ProcessGroup bool
}

func (KillRequest) requestTag() uint32 { return tagReqKill }

type UsernameRequest struct {
	Uid uint32
}

func (UsernameRequest) requestTag() uint32 { return tagReqUsername }

type UidRequest struct {
	Username string
}

func (UidRequest) requestTag() uint32 { return tagReqUid }

type GroupnameRequest struct {
	Gid uint32
}

func (GroupnameRequest) requestTag() uint32 { return tagReqGroupname }

type GidRequest struct {
	Groupname string
}

func (GidRequest) requestTag() uint32 { return tagReqGid }

type GidsRequest struct {
	Uid uint32
}

func (GidsRequest) requestTag() uint32 { return tagReqGids }

// Response is the HostProcessor response tagged union.
type Response interface {
	responseTag() uint32
}

// Response type tags. The protocol keeps Error and ProcessEvent as part of
// the same tagged union as the named RPC replies: Error is the universal
// fallback (§7), ProcessEvent carries the streamed Console/Fin frames (§4.4).
const (
	tagRespError        uint32 = 1
	tagRespPong         uint32 = 2
	tagRespExec         uint32 = 3
	tagRespStatus       uint32 = 4
	tagRespUsername     uint32 = 5
	tagRespUid          uint32 = 6
	tagRespGroupname    uint32 = 7
	tagRespGid          uint32 = 8
	tagRespGids         uint32 = 9
	tagRespProcessEvent uint32 = 10
)

type ErrorResponse struct {
	Reason string
}

func (ErrorResponse) responseTag() uint32 { return tagRespError }

type PongResponse struct{}

func (PongResponse) responseTag() uint32 { return tagRespPong }

// ExecResponse tags within Response.Exec.
const (
	tagExecSuccess uint32 = 1
	tagExecFailure uint32 = 2
)

// ExecResponse is Success{pid} or Failure{reason}; exactly one is populated,
// discriminated by Success (the zero value means Failure).
type ExecResponse struct {
	Success bool
	Pid     uint32 // valid iff Success
	Reason  string // valid iff !Success
}

func (ExecResponse) responseTag() uint32 { return tagRespExec }

type StatusResponse struct {
	Running bool
}

func (StatusResponse) responseTag() uint32 { return tagRespStatus }

type UsernameResponse struct {
	Name *string
}

func (UsernameResponse) responseTag() uint32 { return tagRespUsername }

type UidResponse struct {
	Uid *uint32
}

func (UidResponse) responseTag() uint32 { return tagRespUid }

type GroupnameResponse struct {
	Name *string
}

func (GroupnameResponse) responseTag() uint32 { return tagRespGroupname }

type GidResponse struct {
	Gid *uint32
}

func (GidResponse) responseTag() uint32 { return tagRespGid }

type GidsResponse struct {
	Gids []uint32 // nil means "uid did not resolve" (the option<vec<u32>> None case)
}

func (GidsResponse) responseTag() uint32 { return tagRespGids }

// ConsoleKind distinguishes a child's stdout from its stderr stream.
type ConsoleKind uint32

const (
	ConsoleStdout ConsoleKind = 1
	ConsoleStderr ConsoleKind = 2
)

// ProcessEvent tags within Response.ProcessEvent.
const (
	tagEventConsole uint32 = 1
	tagEventFin     uint32 = 2
)

// ProcessEvent carries streamed child stdio (Console) or the terminal exit
// notification (Fin); IsConsole discriminates the two.
type ProcessEvent struct {
	IsConsole bool
	Kind      ConsoleKind // valid iff IsConsole
	Chunk     []byte      // valid iff IsConsole
	ExitCode  *int32      // valid iff !IsConsole; nil if the child was killed by a signal
}

func (ProcessEvent) responseTag() uint32 { return tagRespProcessEvent }

// Encode serializes a RequestEnvelope into a frame payload (excluding the
// outer u32-length prefix, which lib/wire.WriteFrame adds).
func (e RequestEnvelope) Encode() []byte {
	enc := wire.NewEncoder()
	enc.U32(e.ID)
	enc.U32(e.Request.requestTag())
	switch r := e.Request.(type) {
	case PingRequest:
		// tag only
	case ExecRequest:
		enc.UTF8(r.Program)
		enc.VecLen(len(r.Args))
		for _, a := range r.Args {
			enc.UTF8(a)
		}
		if r.Dir != nil {
			enc.OptionSome()
			enc.UTF8(*r.Dir)
		} else {
			enc.OptionNone()
		}
		enc.VecLen(len(r.Envvars))
		for _, v := range r.Envvars {
			enc.UTF8(v)
		}
		enc.U32(uint32(r.Stdin))
		enc.U32(uint32(r.Stdout))
		if r.Stdout == ExecStdoutWrite {
			enc.UTF8(r.StdoutPath)
		}
		enc.U32(uint32(r.Stderr))
		if r.Stderr == ExecStderrWrite {
			enc.UTF8(r.StderrPath)
		}
		enc.Bool(r.StreamFin)
	case StatusRequest:
		enc.U32(r.Pid)
	case WriteStdinRequest:
		enc.U32(r.Pid)
		enc.RawBytes(r.Chunk)
	case CloseStdinRequest:
		enc.U32(r.Pid)
	case KillRequest:
		enc.UTF8(r.Signal)
		enc.U32(r.Pid)
		enc.Bool(r.ProcessGroup)
	case UsernameRequest:
		enc.U32(r.Uid)
	case UidRequest:
		enc.UTF8(r.Username)
	case GroupnameRequest:
		enc.U32(r.Gid)
	case GidRequest:
		enc.UTF8(r.Groupname)
	case GidsRequest:
		enc.U32(r.Uid)
	}
	return enc.Bytes()
}

// DecodeError distinguishes a decode failure that happened before a request
// id was recoverable from one that happened after, so the dispatcher can
// still reply with Error when an id is available (§4.3).
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

	case tagReqExec:
		var r ExecRequest
		if r.Program, err = d.UTF8(); err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		n, err := d.VecLen()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		for range n {
			a, err := d.UTF8()
			if err != nil {
				return RequestEnvelope{}, wrap(err)
			}
			r.Args = append(r.Args, a)
		}
		some, err := d.OptionTag()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		if some {
			dir, err := d.UTF8()
			if err != nil {
				return RequestEnvelope{}, wrap(err)
			}
			r.Dir = &dir
		}
		n, err = d.VecLen()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		for range n {
			v, err := d.UTF8()
			if err != nil {
				return RequestEnvelope{}, wrap(err)
			}
			r.Envvars = append(r.Envvars, v)
		}
		stdin, err := d.U32()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		r.Stdin = ExecStdin(stdin)
		stdout, err := d.U32()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		r.Stdout = ExecStdout(stdout)
		if r.Stdout == ExecStdoutWrite {
			if r.StdoutPath, err = d.UTF8(); err != nil {
				return RequestEnvelope{}, wrap(err)
			}
		}
		stderr, err := d.U32()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		r.Stderr = ExecStderr(stderr)
		if r.Stderr == ExecStderrWrite {
			if r.StderrPath, err = d.UTF8(); err != nil {
				return RequestEnvelope{}, wrap(err)
			}
		}
		if r.StreamFin, err = d.Bool(); err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		req = r

	case tagReqStatus:
		pid, err := d.U32()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		req = StatusRequest{Pid: pid}

	case tagReqWriteStdin:
		pid, err := d.U32()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		chunk, err := d.RawBytes()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		req = WriteStdinRequest{Pid: pid, Chunk: chunk}

	case tagReqCloseStdin:
		pid, err := d.U32()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		req = CloseStdinRequest{Pid: pid}

	case tagReqKill:
		sig, err := d.UTF8()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		pid, err := d.U32()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		pg, err := d.Bool()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		req = KillRequest{Signal: sig, Pid: pid, ProcessGroup: pg}

	case tagReqUsername:
		uid, err := d.U32()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		req = UsernameRequest{Uid: uid}

	case tagReqUid:
		name, err := d.UTF8()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		req = UidRequest{Username: name}

	case tagReqGroupname:
		gid, err := d.U32()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		req = GroupnameRequest{Gid: gid}

	case tagReqGid:
		name, err := d.UTF8()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		req = GidRequest{Groupname: name}

	case tagReqGids:
		uid, err := d.U32()
		if err != nil {
			return RequestEnvelope{}, wrap(err)
		}
		req = GidsRequest{Uid: uid}

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
		// tag only
	case ExecResponse:
		if r.Success {
			enc.U32(tagExecSuccess)
			enc.U32(r.Pid)
		} else {
			enc.U32(tagExecFailure)
			enc.UTF8(r.Reason)
		}
	case StatusResponse:
		enc.Bool(r.Running)
	case UsernameResponse:
		encodeOptionStr(enc, r.Name)
	case UidResponse:
		encodeOptionU32(enc, r.Uid)
	case GroupnameResponse:
		encodeOptionStr(enc, r.Name)
	case GidResponse:
		encodeOptionU32(enc, r.Gid)
	case GidsResponse:
		if r.Gids == nil {
			enc.OptionNone()
		} else {
			enc.OptionSome()
			enc.VecLen(len(r.Gids))
			for _, g := range r.Gids {
				enc.U32(g)
			}
		}
	case ProcessEvent:
		if r.IsConsole {
			enc.U32(tagEventConsole)
			enc.U32(uint32(r.Kind))
			enc.RawBytes(r.Chunk)
		} else {
			enc.U32(tagEventFin)
			if r.ExitCode != nil {
				enc.OptionSome()
				enc.I32(*r.ExitCode)
			} else {
				enc.OptionNone()
			}
		}
	}
	return enc.Bytes()
}

func encodeOptionStr(enc *wire.Encoder, v *string) {
	if v == nil {
		enc.OptionNone()
		return
	}
	enc.OptionSome()
	enc.UTF8(*v)
}

func encodeOptionU32(enc *wire.Encoder, v *uint32) {
	if v == nil {
		enc.OptionNone()
		return
	}
	enc.OptionSome()
	enc.U32(*v)
}

func decodeOptionStr(d *wire.Decoder) (*string, error) {
	some, err := d.OptionTag()
	if err != nil || !some {
		return nil, err
	}
	s, err := d.UTF8()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func decodeOptionU32(d *wire.Decoder) (*uint32, error) {
	some, err := d.OptionTag()
	if err != nil || !some {
		return nil, err
	}
	v, err := d.U32()
	if err != nil {
		return nil, err
	}
	return &v, nil
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

	case tagRespExec:
		sub, err := d.U32()
		if err != nil {
			return ResponseEnvelope{}, err
		}
		switch sub {
		case tagExecSuccess:
			pid, err := d.U32()
			if err != nil {
				return ResponseEnvelope{}, err
			}
			resp = ExecResponse{Success: true, Pid: pid}
		case tagExecFailure:
			reason, err := d.UTF8()
			if err != nil {
				return ResponseEnvelope{}, err
			}
			resp = ExecResponse{Success: false, Reason: reason}
		default:
			return ResponseEnvelope{}, fmt.Errorf("unrecognized exec response tag: %d", sub)
		}

	case tagRespStatus:
		running, err := d.Bool()
		if err != nil {
			return ResponseEnvelope{}, err
		}
		resp = StatusResponse{Running: running}

	case tagRespUsername:
		name, err := decodeOptionStr(d)
		if err != nil {
			return ResponseEnvelope{}, err
		}
		resp = UsernameResponse{Name: name}

	case tagRespUid:
		uid, err := decodeOptionU32(d)
		if err != nil {
			return ResponseEnvelope{}, err
		}
		resp = UidResponse{Uid: uid}

	case tagRespGroupname:
		name, err := decodeOptionStr(d)
		if err != nil {
			return ResponseEnvelope{}, err
		}
		resp = GroupnameResponse{Name: name}

	case tagRespGid:
		gid, err := decodeOptionU32(d)
		if err != nil {
			return ResponseEnvelope{}, err
		}
		resp = GidResponse{Gid: gid}

	case tagRespGids:
		some, err := d.OptionTag()
		if err != nil {
			return ResponseEnvelope{}, err
		}
		var gids []uint32
		if some {
			n, err := d.VecLen()
			if err != nil {
				return ResponseEnvelope{}, err
			}
			gids = make([]uint32, 0, n)
			for range n {
				g, err := d.U32()
				if err != nil {
					return ResponseEnvelope{}, err
				}
				gids = append(gids, g)
			}
		}
		resp = GidsResponse{Gids: gids}

	case tagRespProcessEvent:
		sub, err := d.U32()
		if err != nil {
			return ResponseEnvelope{}, err
		}
		switch sub {
		case tagEventConsole:
			kind, err := d.U32()
			if err != nil {
				return ResponseEnvelope{}, err
			}
			chunk, err := d.RawBytes()
			if err != nil {
				return ResponseEnvelope{}, err
			}
			resp = ProcessEvent{IsConsole: true, Kind: ConsoleKind(kind), Chunk: chunk}
		case tagEventFin:
			some, err := d.OptionTag()
			if err != nil {
				return ResponseEnvelope{}, err
			}
			var code *int32
			if some {
				c, err := d.I32()
				if err != nil {
					return ResponseEnvelope{}, err
				}
				code = &c
			}
			resp = ProcessEvent{IsConsole: false, ExitCode: code}
		default:
			return ResponseEnvelope{}, fmt.Errorf("unrecognized process event tag: %d", sub)
		}

	default:
		return ResponseEnvelope{}, fmt.Errorf("unrecognized response tag: %d", tag)
	}

	return ResponseEnvelope{ID: id, Response: resp}, nil
}
