// Package config loads the daemons' environment-variable tunables.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// HostConfig holds HostProcessor's tunables.
type HostConfig struct {
	// SocketDir is the directory the listening socket is created under.
	SocketDir string `envconfig:"SOCKET_DIR" default:"."`

	// MaxFrameBytes caps a single wire frame's payload length, guarding
	// against a malformed or hostile length prefix forcing an unbounded read.
	MaxFrameBytes uint32 `envconfig:"MAX_FRAME_BYTES" default:"67108864"`

	// ShutdownGraceSeconds is how long the daemon waits after a shutdown
	// signal before closing the listener and exiting. In-flight requests keep
	// running during that window; the wait does not end early when they finish.
	ShutdownGraceSeconds int `envconfig:"SHUTDOWN_GRACE_SECONDS" default:"5"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// UserConfig holds UserProcessor's tunables.
type UserConfig struct {
	// SocketDir is the directory the listening socket is created under.
	SocketDir string `envconfig:"SOCKET_DIR" default:"."`

	// MaxFrameBytes caps a single wire frame's payload length.
	MaxFrameBytes uint32 `envconfig:"MAX_FRAME_BYTES" default:"67108864"`

	// SocketMode is the permission bits the bound socket is chmod'd to —
	// 0770 lets the owner and its group connect, nobody else.
	SocketMode uint32 `envconfig:"SOCKET_MODE" default:"504"` // 0o770

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadHostConfig reads HostConfig from the environment.
func LoadHostConfig() (*HostConfig, error) {
	var cfg HostConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := validateCommon(cfg.SocketDir, cfg.MaxFrameBytes, cfg.LogLevel); err != nil {
		return nil, err
	}
	if cfg.ShutdownGraceSeconds < 0 {
		return nil, fmt.Errorf("SHUTDOWN_GRACE_SECONDS must be >= 0")
	}
	return &cfg, nil
}

// LoadUserConfig reads UserConfig from the environment.
func LoadUserConfig() (*UserConfig, error) {
	var cfg UserConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := validateCommon(cfg.SocketDir, cfg.MaxFrameBytes, cfg.LogLevel); err != nil {
		return nil, err
	}
	if cfg.SocketMode > 0o777 {
		return nil, fmt.Errorf("SOCKET_MODE must be a valid POSIX permission mask")
	}
	return &cfg, nil
}

func validateCommon(socketDir string, maxFrameBytes uint32, logLevel string) error {
	if socketDir == "" {
		return fmt.Errorf("SOCKET_DIR is required")
	}
	if maxFrameBytes == 0 {
		return fmt.Errorf("MAX_FRAME_BYTES must be greater than 0")
	}
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}
	return nil
}
