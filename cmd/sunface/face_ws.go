package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// Face websocket
// ============================================================================
// Display viewers connect to the face path and receive:
//
//	face_init        once, the engine snapshot at connect time
//	frame            one per accepted redraw (written by JSONFrameRenderer)
//	display_changed  visibility, mode or mute changed
//	weather_changed  latest weather, at most one per coalesce window
//
// Every message is {type, ts, data}. A viewer whose queue is full when a frame
// arrives is dropped rather than allowed to stall the rest.
// ============================================================================

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second

	defaultViewerQueue = 32
	defaultFrameQueue  = 128
)

// wsWeatherCoalesceWindow bounds how often weather_changed is sent while a
// burst of sync batches is arriving.
const wsWeatherCoalesceWindow = 50 * time.Millisecond

// envelope is the message wrapper shared by every face websocket message.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

type displayChangedData struct {
	Visibility Visibility  `json:"visibility"`
	Mode       DisplayMode `json:"mode"`
	Muted      bool        `json:"muted"`
}

type weatherChangedData struct {
	Weather WeatherSnapshot `json:"weather"`
}

// ============================================================================
// Frame hub
// ============================================================================

// FrameHubConfig sizes the hub queues. Zero values take the defaults.
type FrameHubConfig struct {
	ViewerQueue int // per-viewer outbound messages
	FrameQueue  int // messages waiting for fan-out
}

// FrameHub fans serialized messages out to connected viewers. It is also the
// render Surface of the JSON frame renderer.
type FrameHub struct {
	logger *slog.Logger
	frames chan []byte

	mu          sync.Mutex
	viewers     map[*viewer]struct{}
	viewerQueue int
}

func NewFrameHub(logger *slog.Logger, cfg FrameHubConfig) *FrameHub {
	if cfg.ViewerQueue <= 0 {
		cfg.ViewerQueue = defaultViewerQueue
	}
	if cfg.FrameQueue <= 0 {
		cfg.FrameQueue = defaultFrameQueue
	}
	return &FrameHub{
		logger:      logger,
		frames:      make(chan []byte, cfg.FrameQueue),
		viewers:     make(map[*viewer]struct{}),
		viewerQueue: cfg.ViewerQueue,
	}
}

// Run delivers queued messages until ctx is canceled, then drops every viewer.
func (h *FrameHub) Run(ctx context.Context) {
	h.logger.Info("frame hub starting")
	for {
		select {
		case <-ctx.Done():
			h.dropAll()
			h.logger.Info("frame hub stopped")
			return
		case msg := <-h.frames:
			h.deliver(msg)
		}
	}
}

func (h *FrameHub) deliver(msg []byte) {
	var behind []*viewer

	h.mu.Lock()
	for v := range h.viewers {
		select {
		case v.queue <- msg:
		default:
			behind = append(behind, v)
		}
	}
	h.mu.Unlock()

	for _, v := range behind {
		h.leave(v, "queue_full")
	}
}

// Publish queues msg for every viewer. It drops msg if the hub is backed up.
func (h *FrameHub) Publish(msg []byte) {
	select {
	case h.frames <- msg:
	default:
		h.logger.Warn("frame hub backed up, message dropped", "bytes", len(msg))
	}
}

// Write publishes a copy of p, so one Write is one message.
func (h *FrameHub) Write(p []byte) (int, error) {
	h.Publish(append([]byte(nil), p...))
	return len(p), nil
}

// Viewers returns the number of connected viewers.
func (h *FrameHub) Viewers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.viewers)
}

func (h *FrameHub) join(v *viewer) {
	h.mu.Lock()
	h.viewers[v] = struct{}{}
	n := len(h.viewers)
	h.mu.Unlock()
	h.logger.Info("face viewer joined", "remote_addr", v.addr, "viewers", n)
}

// leave removes v and closes it. Leaving twice is a no-op.
func (h *FrameHub) leave(v *viewer, reason string) {
	h.mu.Lock()
	_, ok := h.viewers[v]
	delete(h.viewers, v)
	n := len(h.viewers)
	h.mu.Unlock()

	if !ok {
		return
	}
	v.close()
	h.logger.Info("face viewer left", "remote_addr", v.addr, "reason", reason, "viewers", n)
}

func (h *FrameHub) dropAll() {
	h.mu.Lock()
	gone := h.viewers
	h.viewers = make(map[*viewer]struct{})
	h.mu.Unlock()

	for v := range gone {
		v.close()
	}
}

// ============================================================================
// Viewer
// ============================================================================

type viewer struct {
	conn  *websocket.Conn // nil in tests
	queue chan []byte
	addr  string

	closeOnce sync.Once
}

func newViewer(conn *websocket.Conn, addr string, queueLen int) *viewer {
	return &viewer{conn: conn, queue: make(chan []byte, queueLen), addr: addr}
}

// close ends the connection and the queue; pushFrames sees the closed queue.
func (v *viewer) close() {
	v.closeOnce.Do(func() {
		if v.conn != nil {
			_ = v.conn.Close()
		}
		close(v.queue)
	})
}

// pushFrames writes queued messages and keepalive pings until the queue closes
// or a write fails.
func (v *viewer) pushFrames(h *FrameHub) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		var err error
		select {
		case msg, ok := <-v.queue:
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			err = v.conn.WriteMessage(websocket.TextMessage, msg)
		case <-ping.C:
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = v.conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			h.leave(v, exitReason("write", err))
			return
		}
	}
}

// awaitClose reads until the viewer goes away. Viewers send nothing useful;
// reading keeps pong handling and close detection working.
func (v *viewer) awaitClose(h *FrameHub) {
	_ = v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			h.leave(v, exitReason("read", err))
			return
		}
	}
}

func exitReason(op string, err error) string {
	if errors.Is(err, websocket.ErrCloseSent) {
		return "closed"
	}
	if code, _, ok := closeStatus(err); ok {
		return "close_" + strconv.Itoa(code)
	}
	return op + "_error"
}

// closeStatus extracts the websocket close code and text when err carries one.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

// ============================================================================
// Face server
// ============================================================================

type FaceServerConfig struct {
	Hub FrameHubConfig

	// SnapshotTimeout bounds the face_init round-trip. Zero means 1s.
	SnapshotTimeout time.Duration
}

// FaceServer upgrades viewer connections and greets them with face_init.
type FaceServer struct {
	logger          *slog.Logger
	hub             *FrameHub
	events          chan<- Event
	snapshotTimeout time.Duration
}

// NewFaceServer builds the server and its hub. events may be nil, in which
// case viewers get no face_init.
func NewFaceServer(logger *slog.Logger, events chan<- Event, cfg FaceServerConfig) *FaceServer {
	if cfg.SnapshotTimeout <= 0 {
		cfg.SnapshotTimeout = time.Second
	}
	return &FaceServer{
		logger:          logger,
		hub:             NewFrameHub(logger, cfg.Hub),
		events:          events,
		snapshotTimeout: cfg.SnapshotTimeout,
	}
}

func (s *FaceServer) Hub() *FrameHub { return s.hub }

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *FaceServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("face upgrade failed", "error", err)
		return
	}

	v := newViewer(conn, r.RemoteAddr, s.hub.viewerQueue)
	s.hub.join(v)
	go v.pushFrames(s.hub)
	go v.awaitClose(s.hub)

	snap, ok := s.requestSnapshot(r.Context())
	if !ok {
		return
	}
	now := time.Now().UTC()
	msg, err := json.Marshal(envelope{Type: "face_init", Ts: &now, Data: snap})
	if err != nil {
		s.logger.Warn("face_init marshal failed", "error", err)
		return
	}

	// Frames may already be queued ahead of face_init; the viewer must cope.
	s.hub.mu.Lock()
	_, joined := s.hub.viewers[v]
	full := false
	if joined {
		select {
		case v.queue <- msg:
		default:
			full = true
		}
	}
	s.hub.mu.Unlock()
	if full {
		s.hub.leave(v, "queue_full")
	}
}

// requestSnapshot asks the daemon loop for a snapshot.
func (s *FaceServer) requestSnapshot(ctx context.Context) (StateSnapshot, bool) {
	if s.events == nil {
		return StateSnapshot{}, false
	}
	reply := make(chan StateSnapshot, 1)
	select {
	case <-ctx.Done():
		return StateSnapshot{}, false
	case s.events <- RequestStateSnapshot{Reply: reply}:
	}

	ctx, cancel := context.WithTimeout(ctx, s.snapshotTimeout)
	defer cancel()
	select {
	case snap := <-reply:
		return snap, true
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.logger.Warn("face snapshot request timed out", "timeout", s.snapshotTimeout)
		}
		return StateSnapshot{}, false
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// encodeBroadcast serializes a reducer broadcast. msg is nil for broadcasts
// viewers don't receive.
func encodeBroadcast(b StateBroadcast) (msg []byte, weather bool, err error) {
	var env envelope
	var at time.Time
	switch ev := b.(type) {
	case BroadcastDisplayChanged:
		env = envelope{Type: "display_changed", Data: displayChangedData{Visibility: ev.Visibility, Mode: ev.Mode, Muted: ev.Muted}}
		at = ev.At
	case BroadcastWeatherChanged:
		env = envelope{Type: "weather_changed", Data: weatherChangedData{Weather: ev.Weather}}
		at = ev.At
		weather = true
	default:
		return nil, false, nil
	}
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()
	env.Ts = &at

	msg, err = json.Marshal(env)
	return msg, weather, err
}

// RunBroadcaster publishes reducer broadcasts to the hub until ctx ends or src
// closes. Weather updates are held for one coalesce window and only the latest
// is sent; any other message releases held weather first to keep order.
func RunBroadcaster(ctx context.Context, hub *FrameHub, src <-chan StateBroadcast, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	var held []byte
	var window <-chan time.Time
	release := func() {
		if held != nil {
			hub.Publish(held)
			held = nil
		}
		window = nil
	}

	for {
		select {
		case <-ctx.Done():
			release()
			return

		case <-window:
			release()

		case b, ok := <-src:
			if !ok {
				release()
				logger.Info("face broadcaster stopping (source ended)")
				return
			}
			msg, weather, err := encodeBroadcast(b)
			if err != nil {
				logger.Warn("face broadcast marshal failed", "error", err)
				continue
			}
			if msg == nil {
				continue
			}
			if weather {
				held = msg
				if window == nil {
					window = time.After(wsWeatherCoalesceWindow)
				}
				continue
			}
			release()
			hub.Publish(msg)
		}
	}
}
