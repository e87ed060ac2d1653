// Command userprocessor runs setuid as an end user and mediates filesystem
// operations on that user's behalf: a long-running daemon subcommand serves
// UserProcessor's wire protocol, while run and dirlist are standalone
// one-shot helpers invoked directly (not over the socket) for the website's
// simpler needs.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"

	"github.com/nextpyp/procbridge/lib/identity"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	quiet := false
	args := os.Args[1:]
	if args[0] == "--quiet" {
		quiet = true
		args = args[1:]
	}
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	if args[0] == "--help" {
		usage()
		return
	}

	uidCurrent := os.Getuid()
	uidEffective := os.Geteuid()
	usernameEffective, ok := identity.Username(uint32(uidEffective))
	if !ok {
		usernameEffective = "(unknown)"
	}

	if !quiet {
		if uidCurrent == uidEffective {
			slog.Info("user-processor running", "uid", uidCurrent, "user", usernameEffective)
		} else {
			usernameCurrent, ok := identity.Username(uint32(uidCurrent))
			if !ok {
				usernameCurrent = "(unknown)"
			}
			slog.Info("user-processor started as one user but acting as another",
				"started_uid", uidCurrent, "started_user", usernameCurrent,
				"acting_uid", uidEffective, "acting_user", usernameEffective)
		}
	}

	// Set the real uid to match the effective uid so other programs this
	// process spawns aren't confused about who's running them, but keep the
	// original real uid as the saved uid so it isn't lost entirely. As an
	// unprivileged process we're only allowed to move between our own
	// existing ids; -1 (encoded as the all-ones uid_t) leaves the effective
	// uid unchanged.
	if err := unix.Setresuid(uidEffective, -1, uidCurrent); err != nil {
		slog.Error("failed to call setresuid", "err", err)
		os.Exit(1)
	}

	cmd, rest := args[0], args[1:]
	var err error
	switch cmd {
	case "daemon":
		err = runDaemon(quiet)
	case "run":
		err = runExec(quiet, rest)
	case "dirlist":
		err = runDirlist(quiet, rest)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: userprocessor [--quiet] <daemon|run|dirlist> [args...]")
	fmt.Fprintln(os.Stderr, "  daemon                      run the UserProcessor socket daemon")
	fmt.Fprintln(os.Stderr, "  run <cwd> <exe> [args...]   run a command as this user")
	fmt.Fprintln(os.Stderr, "  dirlist <dir>               list a directory's entries and their kinds")
}
