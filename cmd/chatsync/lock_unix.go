// Single-instance locking on Unix via flock(2).

//go:build !windows

package main

import (
	"fmt"
	"os"
	"syscall"
)

// ///////////////////////////////////////////////
// File Locking
// ///////////////////////////////////////////////

// lockFile takes an exclusive, non-blocking advisory lock on f. It fails
// immediately with EWOULDBLOCK when another chatsync process holds it.
func lockFile(f *os.File) error {
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return fmt.Errorf("lock file %s: %w", f.Name(), err)
	}
	return nil
}

// unlockFile releases the lock on f. Closing f releases it as well.
func unlockFile(f *os.File) error {
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		return fmt.Errorf("unlock file %s: %w", f.Name(), err)
	}
	return nil
}
