// Command hostprocessor runs as the service account and mediates privileged
// operations on behalf of UserProcessor instances: spawning and supervising
// child processes in their own process groups, streaming their stdio back
// over the wire, and resolving user/group identity via the host's NSS
// databases.
package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextpyp/procbridge/lib/config"
	"github.com/nextpyp/procbridge/lib/dispatch"
	"github.com/nextpyp/procbridge/lib/hostdaemon"
	"github.com/nextpyp/procbridge/lib/procsup"
	"github.com/nextpyp/procbridge/lib/socketpath"
)

func main() {
	cfg, err := config.LoadHostConfig()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if err := (&level).UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	slogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(slogger)
	slogger.Info("host-processor configuration", "socket_dir", cfg.SocketDir, "max_frame_bytes", cfg.MaxFrameBytes)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path := socketpath.Host(cfg.SocketDir, os.Getpid())

	// A stale socket file from a prior unclean exit would otherwise make the
	// bind fail outright.
	_ = socketpath.Cleanup(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		slogger.Error("failed to bind socket", "path", path, "err", err)
		os.Exit(1)
	}
	// Every exit path below must still try to remove the socket file: a
	// daemon that dies without cleaning up leaves a dangling bind target
	// that the next invocation has to clean up for it.
	defer func() {
		if err := socketpath.Cleanup(path); err != nil {
			slogger.Warn("failed to clean up socket file on exit", "path", path, "err", err)
		}
	}()

	if err := socketpath.Secure(path, 0o770); err != nil {
		slogger.Error("failed to secure socket", "path", path, "err", err)
		// os.Exit skips the deferred cleanup above, so remove the socket here.
		if err := socketpath.Cleanup(path); err != nil {
			slogger.Warn("failed to clean up socket file on exit", "path", path, "err", err)
		}
		os.Exit(1)
	}
	slogger.Info("listening", "path", path)

	d := hostdaemon.New(procsup.New(), slogger)

	srv := &dispatch.Server{
		Listener:      ln,
		Logger:        slogger,
		Handle:        d.HandleConn,
		MaxFrameBytes: cfg.MaxFrameBytes,
	}

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Serve(ctx) }()

	select {
	case <-ctx.Done():
		slogger.Info("shutdown signal received")
		// Serve only returns once Accept fails, so unless the listener fails
		// on its own this waits out the full grace period, with in-flight
		// requests still running, before the listener is closed below.
		select {
		case <-srvErr:
		case <-time.After(time.Duration(cfg.ShutdownGraceSeconds) * time.Second):
		}
	case err := <-srvErr:
		if err != nil {
			slogger.Error("listener stopped unexpectedly", "err", err)
		}
	}

	if err := ln.Close(); err != nil {
		slogger.Warn("error while closing listener", "err", err)
	}
}
