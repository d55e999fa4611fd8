//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// setupSignalHandling routes SIGINT and SIGTERM to sigChan
func setupSignalHandling(sigChan chan os.Signal) {
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
}

func stopSignalHandling(sigChan chan os.Signal) {
	signal.Stop(sigChan)
}
