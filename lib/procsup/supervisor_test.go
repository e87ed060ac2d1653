package procsup_test

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/nextpyp/procbridge/lib/hostproto"
	"github.com/nextpyp/procbridge/lib/procsup"
	"github.com/stretchr/testify/require"
)

func TestExecLsStreamsStdoutAndFin(t *testing.T) {
	t.Parallel()

	s := procsup.New()
	var mu sync.Mutex
	var out bytes.Buffer
	var fin *int32
	var spawnedPid uint32
	finSeen := make(chan struct{})

	s.Exec(1, hostproto.ExecRequest{
		Program:   "ls",
		Args:      []string{"-al"},
		Stdin:     hostproto.ExecStdinIgnore,
		Stdout:    hostproto.ExecStdoutStream,
		Stderr:    hostproto.ExecStderrIgnore,
		StreamFin: true,
	}, procsup.ExecHooks{
		OnSpawned: func(pid uint32) {
			mu.Lock()
			spawnedPid = pid
			mu.Unlock()
		},
		OnSpawnFailed: func(reason string) {
			t.Fatalf("spawn failed: %s", reason)
		},
		OnConsole: func(kind hostproto.ConsoleKind, chunk []byte) {
			require.Equal(t, hostproto.ConsoleStdout, kind)
			mu.Lock()
			out.Write(chunk)
			mu.Unlock()
		},
		OnFin: func(exitCode *int32) {
			mu.Lock()
			fin = exitCode
			mu.Unlock()
			close(finSeen)
		},
	})

	<-finSeen
	mu.Lock()
	defer mu.Unlock()
	require.NotZero(t, spawnedPid)
	require.NotNil(t, fin)
	require.Equal(t, int32(0), *fin)
	require.NotEmpty(t, out.String())
	require.False(t, s.IsRunning(spawnedPid), "process should be untracked after exit")
}

func TestExecCatEchoesStdinViaStream(t *testing.T) {
	t.Parallel()

	s := procsup.New()
	var mu sync.Mutex
	var out bytes.Buffer
	pidCh := make(chan uint32, 1)
	finSeen := make(chan struct{})
	execDone := make(chan struct{})

	go func() {
		defer close(execDone)
		s.Exec(2, hostproto.ExecRequest{
			Program:   "cat",
			Stdin:     hostproto.ExecStdinStream,
			Stdout:    hostproto.ExecStdoutStream,
			Stderr:    hostproto.ExecStderrIgnore,
			StreamFin: true,
		}, procsup.ExecHooks{
			OnSpawned: func(pid uint32) { pidCh <- pid },
			OnSpawnFailed: func(reason string) {
				t.Errorf("spawn failed: %s", reason)
				close(finSeen)
			},
			OnConsole: func(kind hostproto.ConsoleKind, chunk []byte) {
				mu.Lock()
				out.Write(chunk)
				mu.Unlock()
			},
			OnFin: func(exitCode *int32) { close(finSeen) },
		})
	}()

	pid := <-pidCh
	require.NoError(t, s.WriteStdin(pid, []byte("hello\n")))
	require.NoError(t, s.CloseStdin(pid))

	select {
	case <-finSeen:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for cat to exit")
	}
	<-execDone

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "hello\n", out.String())
}

func TestStatusReflectsRunningChild(t *testing.T) {
	t.Parallel()

	s := procsup.New()
	pidCh := make(chan uint32, 1)
	finSeen := make(chan struct{})

	go s.Exec(3, hostproto.ExecRequest{
		Program: "sleep",
		Args:    []string{"0.2"},
		Stdin:   hostproto.ExecStdinIgnore,
		Stdout:  hostproto.ExecStdoutIgnore,
		Stderr:  hostproto.ExecStderrIgnore,
	}, procsup.ExecHooks{
		OnSpawned: func(pid uint32) { pidCh <- pid },
		OnSpawnFailed: func(reason string) {
			t.Errorf("spawn failed: %s", reason)
		},
		OnConsole: func(hostproto.ConsoleKind, []byte) {},
		OnFin:     func(*int32) { close(finSeen) },
	})

	pid := <-pidCh
	require.True(t, s.IsRunning(pid))

	require.False(t, s.IsRunning(pid+1_000_000), "unrelated pid must not report running")

	// give the child time to exit on its own
	time.Sleep(400 * time.Millisecond)
	require.False(t, s.IsRunning(pid))
}

func TestWriteStdinAndCloseStdinOnUnknownPidError(t *testing.T) {
	t.Parallel()
	s := procsup.New()
	require.Error(t, s.WriteStdin(999999, []byte("x")))
	require.Error(t, s.CloseStdin(999999))
}

func TestKillUnknownPidErrors(t *testing.T) {
	t.Parallel()
	s := procsup.New()
	require.Error(t, s.Kill(999999, "TERM", false))
}
