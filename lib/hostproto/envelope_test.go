package hostproto_test

import (
	"testing"

	"github.com/nextpyp/procbridge/lib/hostproto"
	"github.com/stretchr/testify/require"
)

func dir(s string) *string { return &s }
func u32p(v uint32) *uint32 { return &v }
func i32p(v int32) *int32   { return &v }

func TestRequestRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []hostproto.Request{
		hostproto.PingRequest{},
		hostproto.ExecRequest{
			Program: "ls", Args: []string{"-al"}, Dir: dir("/tmp"),
			Envvars: []string{"A=1"}, Stdin: hostproto.ExecStdinIgnore,
			Stdout: hostproto.ExecStdoutWrite, StdoutPath: "/tmp/out",
			Stderr: hostproto.ExecStderrMerge, StreamFin: true,
		},
		hostproto.ExecRequest{Program: "cat", Stdin: hostproto.ExecStdinStream, Stdout: hostproto.ExecStdoutStream, Stderr: hostproto.ExecStderrIgnore},
		hostproto.StatusRequest{Pid: 123},
		hostproto.WriteStdinRequest{Pid: 7, Chunk: []byte("hi")},
		hostproto.CloseStdinRequest{Pid: 7},
		hostproto.KillRequest{Signal: "TERM", Pid: 7, ProcessGroup: false},
		hostproto.UsernameRequest{Uid: 1000},
		hostproto.UidRequest{Username: "alice"},
		hostproto.GroupnameRequest{Gid: 100},
		hostproto.GidRequest{Groupname: "staff"},
		hostproto.GidsRequest{Uid: 1000},
	}

	for i, req := range cases {
		env := hostproto.RequestEnvelope{ID: uint32(i + 1), Request: req}
		payload := env.Encode()
		decoded, decErr := hostproto.DecodeRequest(payload)
		require.Nil(t, decErr, "case %d", i)
		require.Equal(t, env, decoded, "case %d", i)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []hostproto.Response{
		hostproto.ErrorResponse{Reason: "boom"},
		hostproto.PongResponse{},
		hostproto.ExecResponse{Success: true, Pid: 42},
		hostproto.ExecResponse{Success: false, Reason: "spawn failed"},
		hostproto.StatusResponse{Running: true},
		hostproto.UsernameResponse{Name: dir("alice")},
		hostproto.UsernameResponse{Name: nil},
		hostproto.UidResponse{Uid: u32p(1000)},
		hostproto.UidResponse{Uid: nil},
		hostproto.GroupnameResponse{Name: dir("staff")},
		hostproto.GidResponse{Gid: u32p(100)},
		hostproto.GidsResponse{Gids: []uint32{100, 200}},
		hostproto.GidsResponse{Gids: nil},
		hostproto.ProcessEvent{IsConsole: true, Kind: hostproto.ConsoleStdout, Chunk: []byte("out")},
		hostproto.ProcessEvent{IsConsole: true, Kind: hostproto.ConsoleStderr, Chunk: []byte("err")},
		hostproto.ProcessEvent{IsConsole: false, ExitCode: i32p(0)},
		hostproto.ProcessEvent{IsConsole: false, ExitCode: nil},
	}

	for i, resp := range cases {
		env := hostproto.ResponseEnvelope{ID: uint32(i + 1), Response: resp}
		payload := env.Encode()
		decoded, err := hostproto.DecodeResponse(payload)
		require.NoError(t, err, "case %d", i)
		require.Equal(t, env, decoded, "case %d", i)
	}
}

func TestDecodeRequestUnknownTag(t *testing.T) {
	t.Parallel()
	env := hostproto.RequestEnvelope{ID: 9, Request: hostproto.PingRequest{}}
	payload := env.Encode()
	// corrupt the tag (bytes 4..8) to something unrecognized
	payload[7] = 0xFF
	_, decErr := hostproto.DecodeRequest(payload)
	require.NotNil(t, decErr)
	require.NotNil(t, decErr.RequestID)
	require.Equal(t, uint32(9), *decErr.RequestID)
}
