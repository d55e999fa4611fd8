//go:build windows

package main

import (
	"os"
	"os/signal"
)

// setupSignalHandling routes Ctrl+C to sigChan; Windows has no reliable SIGTERM
func setupSignalHandling(sigChan chan os.Signal) {
	signal.Notify(sigChan, os.Interrupt)
}

func stopSignalHandling(sigChan chan os.Signal) {
	signal.Stop(sigChan)
}
