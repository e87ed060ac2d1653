package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextpyp/procbridge/lib/config"
	"github.com/nextpyp/procbridge/lib/dispatch"
	"github.com/nextpyp/procbridge/lib/identity"
	"github.com/nextpyp/procbridge/lib/socketpath"
	"github.com/nextpyp/procbridge/lib/userdaemon"
)

// runDaemon serves UserProcessor's wire protocol on a unix socket named
// after this process's own euid, exactly like a HostProcessor but mediating
// filesystem calls instead of process supervision.
func runDaemon(quiet bool) error {
	euid := os.Geteuid()
	if euid == 0 {
		return fmt.Errorf("user-processor is not allowed to run as root")
	}
	username, ok := identity.Username(uint32(euid))
	if !ok {
		return fmt.Errorf("failed to look up username for uid: %d", euid)
	}

	if !quiet {
		if cwd, err := os.Getwd(); err == nil {
			slog.Info("started in folder", "cwd", cwd)
		}
	}

	cfg, err := config.LoadUserConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	level := slog.LevelInfo
	if err := (&level).UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	slogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(slogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path := socketpath.User(cfg.SocketDir, os.Getpid(), username)

	// The website should have already created the socket folder for this
	// user processor; a stale socket from a prior unclean exit would
	// otherwise make the bind fail.
	_ = socketpath.Cleanup(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("failed to open unix socket at %s: %w", path, err)
	}
	// WARNING: once listening, every exit path must still try to clean up
	// the socket file.
	defer func() {
		if err := socketpath.Cleanup(path); err != nil {
			slogger.Warn("failed to clean up socket file on exit", "path", path, "err", err)
		}
	}()

	if err := socketpath.Secure(path, os.FileMode(cfg.SocketMode)); err != nil {
		return err
	}
	slogger.Info("opened socket", "path", path)

	d := userdaemon.New(slogger)
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
		select {
		case <-srvErr:
		case <-time.After(5 * time.Second):
		}
	case err := <-srvErr:
		if err != nil {
			slogger.Error("listener stopped unexpectedly", "err", err)
		}
	}

	if err := ln.Close(); err != nil {
		slogger.Warn("error while closing listener", "err", err)
	}
	return nil
}
