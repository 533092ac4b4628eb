// Shutdown signals on Unix: SIGINT from the terminal and SIGTERM from
// process managers.

//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// signalChannel returns a channel receiving SIGINT and SIGTERM.
func signalChannel() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch
}
