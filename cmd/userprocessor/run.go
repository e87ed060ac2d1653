package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

// runExec runs a single command directly as this (now setuid-equalized)
// user and waits for it to finish. A SIGINT received here is forwarded to
// the command process, and runExec then waits for it to exit.
func runExec(quiet bool, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: userprocessor run <cwd> <exe> [args...]")
	}
	cwd, exe, cmdArgs := args[0], args[1], args[2:]

	if !quiet {
		pgid, err := unix.Getpgid(0)
		if err != nil {
			return fmt.Errorf("failed to call getpgid: %w", err)
		}
		slog.Info("running command", "cwd", cwd, "exe", exe, "args", cmdArgs, "pid", os.Getpid(), "pgid", pgid)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := exec.Command(exe, cmdArgs...)
	cmd.Dir = cwd
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to run command: %w", err)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	select {
	case <-sigCtx.Done():
		if !quiet {
			slog.Info("received SIGINT: forwarding it to the command process and waiting for it to exit")
		}
		_ = cmd.Process.Signal(os.Interrupt)
		return interpretExit(cmd, <-exited, true)
	case waitErr := <-exited:
		return interpretExit(cmd, waitErr, false)
	}
}

func interpretExit(cmd *exec.Cmd, waitErr error, killed bool) error {
	state := cmd.ProcessState
	if state == nil {
		return waitErr
	}
	if state.Success() {
		return nil
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		if killed {
			slog.Info("command process killed successfully")
			return nil
		}
		return fmt.Errorf("command process was killed")
	}
	return fmt.Errorf("command process exited with code: %d", state.ExitCode())
}
