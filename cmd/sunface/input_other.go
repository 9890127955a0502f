//go:build !linux

package main

import "os"

// startInputReaders falls back to one blocking reader per device.
func startInputReaders(files []*os.File, events chan<- inputEvent, readErr chan<- error, stop <-chan struct{}) {
	for _, f := range files {
		go readInputEvents(f, events, readErr, stop)
	}
}
