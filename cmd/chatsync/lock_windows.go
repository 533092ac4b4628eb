// Single-instance locking on Windows via LockFileEx.

//go:build windows

package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// ///////////////////////////////////////////////
// File Locking
// ///////////////////////////////////////////////

// lockFile takes an exclusive lock on the first byte of f, failing at once
// when another chatsync process holds it.
func lockFile(f *os.File) error {
	ol := new(windows.Overlapped)
	if err := windows.LockFileEx(
		windows.Handle(f.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0,
		1, 0,
		ol,
	); err != nil {
		return fmt.Errorf("lock file %s: %w", f.Name(), err)
	}
	return nil
}

// unlockFile releases the lock taken by lockFile.
func unlockFile(f *os.File) error {
	ol := new(windows.Overlapped)
	if err := windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, ol); err != nil {
		return fmt.Errorf("unlock file %s: %w", f.Name(), err)
	}
	return nil
}
