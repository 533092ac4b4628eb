// Shutdown signals on Windows, where only os.Interrupt is delivered.

//go:build windows

package main

import (
	"os"
	"os/signal"
)

// signalChannel returns a channel receiving os.Interrupt.
func signalChannel() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	return ch
}
