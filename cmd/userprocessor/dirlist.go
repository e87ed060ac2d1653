package main

import (
	"fmt"
	"io/fs"
	"os"
)

// runDirlist prints each entry of a directory and its kind, one line per
// entry, straight to stdout — a fast one-shot path for callers that just
// want a listing without paying for a socket round trip.
func runDirlist(_ bool, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: userprocessor dirlist <dir>")
	}
	dir := args[0]

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		fmt.Printf("%s: %s\n", dirlistKind(entry.Type()), entry.Name())
	}
	return nil
}

func dirlistKind(ty fs.FileMode) string {
	switch {
	case ty.IsRegular():
		return "File"
	case ty.IsDir():
		return "Dir"
	case ty&fs.ModeSymlink != 0:
		return "Symlink"
	case ty&fs.ModeNamedPipe != 0:
		return "Fifo"
	case ty&fs.ModeSocket != 0:
		return "Socket"
	case ty&fs.ModeDevice != 0 && ty&fs.ModeCharDevice != 0:
		return "CharDev"
	case ty&fs.ModeDevice != 0:
		return "BlockDev"
	default:
		return "(Unknown)"
	}
}
