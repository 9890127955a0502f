package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// translateKey maps a device key press to a host event. Power keys stand in
// for the host's ambient transitions on devices without a host shell.
func translateKey(ev inputEvent) (Event, bool) {
	if ev.Type != EV_KEY || ev.Value != evValuePress {
		return nil, false
	}
	switch ev.Code {
	case KEY_SLEEP:
		return AmbientModeChanged{Ambient: true}, true
	case KEY_WAKEUP:
		return AmbientModeChanged{Ambient: false}, true
	default:
		return nil, false
	}
}

// runInputDevices reads key events from the given devices and posts the
// translated host events until ctx is canceled or a device fails.
func runInputDevices(ctx context.Context, paths []string, events chan<- Event, logger *slog.Logger) error {
	if len(paths) == 0 {
		return nil
	}

	files := make([]*os.File, 0, len(paths))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("open input device %s: %w", p, err)
		}
		files = append(files, f)
		logger.Info("input device opened", "path", p)
	}

	raw := make(chan inputEvent, 16)
	readErr := make(chan error, len(files))
	stop := make(chan struct{})
	defer close(stop)

	startInputReaders(files, raw, readErr, stop)

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("input: %w", err)

		case ev := <-raw:
			hostEv, ok := translateKey(ev)
			if !ok {
				continue
			}
			logger.Debug("input key", "code", ev.Code, "event", fmt.Sprintf("%T", hostEv))
			select {
			case events <- hostEv:
			default:
				logger.Warn("event queue full; dropping input event")
			}
		}
	}
}

// readInputEvents reads input events from one device and sends them to a
// channel. It runs in a dedicated goroutine and blocks on read operations.
func readInputEvents(f *os.File, events chan<- inputEvent, readErr chan<- error, stop <-chan struct{}) {
	buf := make([]byte, binary.Size(inputEvent{}))
	reader := bytes.NewReader(buf)

	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			readErr <- err
			return
		}

		ev, ok := decodeInputEvent(reader, buf)
		if !ok {
			continue
		}

		select {
		case events <- ev:
		case <-stop:
			return
		}
	}
}

// decodeInputEvent parses one raw event; malformed events are skipped.
func decodeInputEvent(reader *bytes.Reader, buf []byte) (inputEvent, bool) {
	reader.Reset(buf)
	var ev inputEvent
	if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
		return inputEvent{}, false
	}
	return ev, true
}
