//go:build !windows

package main

import (
	"os"
	"syscall"
)

// terminationSignals are the signals that stop the daemon gracefully.
// systemd sends SIGTERM on unit stop; Ctrl+C delivers os.Interrupt.
var terminationSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
