package procsup

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/nextpyp/procbridge/lib/hostproto"
)

// ExecHooks reports the lifecycle of one Exec call back to the caller, which
// is responsible for turning each hook into the appropriate wire response
// (Exec success/failure, streamed Console/Fin ProcessEvents).
type ExecHooks struct {
	OnSpawned     func(pid uint32)
	OnSpawnFailed func(reason string)
	OnConsole     func(kind hostproto.ConsoleKind, chunk []byte)
	OnFin         func(exitCode *int32) // only called if the request asked to stream it
}

// Exec spawns req.Program in its own process group (so Kill with
// ProcessGroup=true reaches every descendant), wires up stdio per the
// request's Stdin/Stdout/Stderr modes, and blocks until the child exits.
// Exec reports everything through hooks rather than a return value, mirroring
// the original dispatcher's write-as-you-go response style. requestID is used
// only to label ExecStdoutLog/ExecStderrLog console lines.
func (s *Supervisor) Exec(requestID uint32, req hostproto.ExecRequest, hooks ExecHooks) {
	dir := ""
	if req.Dir != nil {
		dir = *req.Dir
	} else if wd, err := os.Getwd(); err == nil {
		dir = wd
	}

	var stdoutFile, stderrFile *os.File
	if req.Stdout == hostproto.ExecStdoutWrite {
		f, err := os.Create(req.StdoutPath)
		if err != nil {
			hooks.OnSpawnFailed(fmt.Sprintf("failed to open file for stdout: %v", err))
			return
		}
		defer f.Close()
		stdoutFile = f
	}
	if req.Stderr == hostproto.ExecStderrWrite {
		f, err := os.Create(req.StderrPath)
		if err != nil {
			hooks.OnSpawnFailed(fmt.Sprintf("failed to open file for stderr: %v", err))
			return
		}
		defer f.Close()
		stderrFile = f
	}

	cmd := exec.Command(req.Program, req.Args...)
	cmd.Dir = dir
	cmd.Env = mergeEnv(os.Environ(), req.Envvars)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdinPipe io.WriteCloser
	if req.Stdin == hostproto.ExecStdinStream {
		p, err := cmd.StdinPipe()
		if err != nil {
			hooks.OnSpawnFailed(fmt.Sprintf("failed to open stdin pipe: %v", err))
			return
		}
		stdinPipe = p
	}

	needStdout := req.Stdout != hostproto.ExecStdoutIgnore
	needStderr := req.Stderr != hostproto.ExecStderrIgnore
	var stdoutPipe, stderrPipe io.ReadCloser
	if needStdout {
		p, err := cmd.StdoutPipe()
		if err != nil {
			hooks.OnSpawnFailed(fmt.Sprintf("failed to open stdout pipe: %v", err))
			return
		}
		stdoutPipe = p
	}
	if needStderr {
		p, err := cmd.StderrPipe()
		if err != nil {
			hooks.OnSpawnFailed(fmt.Sprintf("failed to open stderr pipe: %v", err))
			return
		}
		stderrPipe = p
	}

	if err := cmd.Start(); err != nil {
		hooks.OnSpawnFailed(fmt.Sprintf("failed to start process: %v", err))
		return
	}

	pid := uint32(cmd.Process.Pid)
	s.track(pid, stdinPipe)
	hooks.OnSpawned(pid)

	var wg sync.WaitGroup
	if needStdout {
		wg.Add(1)
		go func() {
			defer wg.Done()
			drainConsole(stdoutPipe, func(chunk []byte) {
				switch req.Stdout {
				case hostproto.ExecStdoutStream:
					hooks.OnConsole(hostproto.ConsoleStdout, chunk)
				case hostproto.ExecStdoutWrite:
					if stdoutFile != nil {
						stdoutFile.Write(chunk)
					}
				case hostproto.ExecStdoutLog:
					logLines("STDOUT", requestID, pid, chunk)
				}
			})
		}()
	}
	if needStderr {
		wg.Add(1)
		go func() {
			defer wg.Done()
			drainConsole(stderrPipe, func(chunk []byte) {
				switch req.Stderr {
				case hostproto.ExecStderrStream:
					hooks.OnConsole(hostproto.ConsoleStderr, chunk)
				case hostproto.ExecStderrWrite:
					if stderrFile != nil {
						stderrFile.Write(chunk)
					}
				case hostproto.ExecStderrMerge:
					if stdoutFile != nil {
						stdoutFile.Write(chunk)
					}
				case hostproto.ExecStderrLog:
					logLines("STDERR", requestID, pid, chunk)
				}
			})
		}()
	}
	wg.Wait()

	err := cmd.Wait()
	s.untrack(pid)

	if req.StreamFin {
		hooks.OnFin(exitCodeOf(cmd, err))
	}
}

// mergeEnv overlays overrides onto base, keyed by name, with overrides
// winning — matching the original's Command::envs semantics (inherit the
// parent environment, then apply the request's vars on top).
func mergeEnv(base, overrides []string) []string {
	m := make(map[string]string, len(base)+len(overrides))
	order := make([]string, 0, len(base)+len(overrides))
	set := func(kv string) {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				k := kv[:i]
				if _, ok := m[k]; !ok {
					order = append(order, k)
				}
				m[k] = kv[i+1:]
				return
			}
		}
	}
	for _, kv := range base {
		set(kv)
	}
	for _, kv := range overrides {
		set(kv)
	}
	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+m[k])
	}
	return out
}

func drainConsole(r io.ReadCloser, onChunk func([]byte)) {
	buf := make([]byte, 4*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onChunk(chunk)
		}
		if err != nil {
			return
		}
	}
}

// logLines prints each line of chunk straight to the daemon's own stdout,
// bypassing the wire protocol entirely — for ExecStdoutLog/ExecStderrLog.
func logLines(label string, requestID, pid uint32, chunk []byte) {
	scanner := bufio.NewScanner(bytes.NewReader(chunk))
	for scanner.Scan() {
		fmt.Printf("%s{rid=%d,pid=%d}: %s\n", label, requestID, pid, scanner.Text())
	}
}

func exitCodeOf(cmd *exec.Cmd, waitErr error) *int32 {
	if cmd.ProcessState == nil {
		return nil
	}
	if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok {
		if ws.Signaled() {
			return nil
		}
		code := int32(ws.ExitStatus())
		return &code
	}
	code := int32(cmd.ProcessState.ExitCode())
	return &code
}
