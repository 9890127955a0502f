package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"
)

// ============================================================================
// Companion WebSocket client
// ============================================================================
// CompanionClient is the SyncChannel backed by a websocket to the companion
// device. Protocol (JSON text frames):
//
//	client -> {"type":"subscribe","id":"<uuid>"}
//	client -> {"type":"get_documents","id":"<uuid>"}
//	server -> {"type":"documents","id":"<uuid>","documents":[{path,fields}]}
//	server -> {"type":"documents_changed","documents":[{path,fields}]}
//
// A background loop dials, runs the read loop and redials with exponential
// backoff after a drop. Dials go through a circuit breaker so a dead peer is
// not hammered.
// ============================================================================

var (
	errCompanionClosed       = errors.New("companion connection closed")
	errCompanionNotConnected = errors.New("companion not connected")
)

// CompanionConfig configures the companion client.
type CompanionConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
}

// companionMessage is the wire format in both directions.
type companionMessage struct {
	Type      string     `json:"type"`
	ID        string     `json:"id,omitempty"`
	Documents []Document `json:"documents,omitempty"`
	Error     string     `json:"error,omitempty"`
}

type documentsResult struct {
	docs []Document
	err  error
}

// CompanionClient implements SyncChannel.
type CompanionClient struct {
	cfg     CompanionConfig
	logger  *slog.Logger
	dialer  websocket.Dialer
	breaker *gobreaker.CircuitBreaker

	mu       sync.Mutex
	conn     *websocket.Conn
	listener DocumentListener
	pending  map[string]chan documentsResult
	cancel   context.CancelFunc

	// writeMu serializes writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex
}

// NewCompanionClient validates the URL and prepares a client. It does not dial.
func NewCompanionClient(cfg CompanionConfig, logger *slog.Logger) (*CompanionClient, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid companion URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid companion URL %q: scheme must be ws or wss", cfg.URL)
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeoutMS * time.Millisecond
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = defaultReconnectMinMS * time.Millisecond
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = cfg.ReconnectMin
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "companion",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.ReconnectMax,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("companion breaker state changed", "from", from.String(), "to", to.String())
		},
	})

	return &CompanionClient{
		cfg:     cfg,
		logger:  logger,
		dialer:  websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		breaker: breaker,
		pending: make(map[string]chan documentsResult),
	}, nil
}

// Connect starts the background connect loop and returns immediately.
// Calling Connect while a loop is running is a no-op.
func (c *CompanionClient) Connect(cb ConnectionCallbacks) error {
	if cb == nil {
		return errors.New("companion connect: nil callbacks")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	go c.run(ctx, cb)
	return nil
}

// Disconnect stops the connect loop and closes the connection. It does not
// wait for the loop to exit, so it is safe to call from the daemon goroutine.
func (c *CompanionClient) Disconnect() error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	conn := c.conn
	c.conn = nil
	c.listener = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		return conn.Close()
	}
	return nil
}

// AddListener installs fn and subscribes to change notifications.
func (c *CompanionClient) AddListener(fn DocumentListener) error {
	c.mu.Lock()
	c.listener = fn
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return errCompanionNotConnected
	}
	return c.write(conn, companionMessage{Type: "subscribe", ID: uuid.NewString()})
}

// ExistingDocuments asks the peer for every document it currently holds.
func (c *CompanionClient) ExistingDocuments(ctx context.Context) ([]Document, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, errCompanionNotConnected
	}
	id := uuid.NewString()
	reply := make(chan documentsResult, 1)
	c.pending[id] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(conn, companionMessage{Type: "get_documents", ID: id}); err != nil {
		return nil, fmt.Errorf("get documents: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("get documents: %w", ctx.Err())
	case res := <-reply:
		return res.docs, res.err
	}
}

func (c *CompanionClient) write(conn *websocket.Conn, msg companionMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

// run dials, serves one connection, and redials until ctx is canceled.
func (c *CompanionClient) run(ctx context.Context, cb ConnectionCallbacks) {
	attempt := 0
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("companion connect failed; retrying...", "url", c.cfg.URL, "error", err, "attempt", attempt+1)
			// Report once per outage, not on every retry.
			if attempt == 0 {
				cb.OnConnectionSuspended(err)
			}
			if !sleepCtx(ctx, reconnectDelay(attempt, c.cfg.ReconnectMin, c.cfg.ReconnectMax)) {
				return
			}
			attempt++
			continue
		}
		attempt = 0

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()
		c.logger.Info("connected to companion", "url", c.cfg.URL)

		readErr := make(chan error, 1)
		go func() {
			err := c.readLoop(conn)
			// Fail waiting requests now; OnConnected may be blocked on one.
			c.detach(conn)
			readErr <- err
		}()

		cb.OnConnected()

		var lost error
		select {
		case <-ctx.Done():
			_ = conn.Close()
			<-readErr
			c.detach(conn)
			return
		case lost = <-readErr:
		}

		c.detach(conn)
		if ctx.Err() != nil {
			return
		}
		cb.OnConnectionSuspended(lost)

		if !sleepCtx(ctx, c.cfg.ReconnectMin) {
			return
		}
	}
}

func (c *CompanionClient) dial(ctx context.Context) (*websocket.Conn, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
	if err != nil {
		return nil, fmt.Errorf("dial companion: %w", err)
	}
	conn, ok := res.(*websocket.Conn)
	if !ok {
		return nil, fmt.Errorf("dial companion: unexpected result type %T", res)
	}
	return conn, nil
}

// detach forgets conn and fails every request still waiting on it.
func (c *CompanionClient) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	waiting := c.pending
	c.pending = make(map[string]chan documentsResult)
	c.mu.Unlock()

	for _, ch := range waiting {
		select {
		case ch <- documentsResult{err: errCompanionClosed}:
		default:
		}
	}
}

// readLoop dispatches server messages until the connection fails.
func (c *CompanionClient) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if code, text, ok := closeStatus(err); ok {
				return fmt.Errorf("companion closed connection (code %d): %s: %w", code, text, errCompanionClosed)
			}
			return fmt.Errorf("read companion: %w", err)
		}

		msg, err := decodeCompanionMessage(data)
		if err != nil {
			c.logger.Warn("companion message dropped", "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *CompanionClient) dispatch(msg companionMessage) {
	switch msg.Type {
	case "documents_changed":
		c.mu.Lock()
		fn := c.listener
		c.mu.Unlock()
		if fn != nil {
			fn(msg.Documents)
		}

	case "documents":
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("companion reply without pending request", "id", msg.ID)
			return
		}
		res := documentsResult{docs: msg.Documents}
		if msg.Error != "" {
			res.err = fmt.Errorf("companion: %s", msg.Error)
		}
		select {
		case ch <- res:
		default:
		}

	default:
		c.logger.Debug("companion message ignored", "type", msg.Type)
	}
}

// decodeCompanionMessage keeps numbers as json.Number so integer fields stay exact.
func decodeCompanionMessage(data []byte) (companionMessage, error) {
	var msg companionMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&msg); err != nil {
		return companionMessage{}, fmt.Errorf("decode companion message: %w", err)
	}
	if msg.Type == "" {
		return companionMessage{}, errors.New("decode companion message: missing type")
	}
	return msg, nil
}

// reconnectDelay is min * 2^attempt, capped at max.
func reconnectDelay(attempt int, min, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := min * time.Duration(math.Pow(2, float64(attempt)))
	if d <= 0 || (max > 0 && d > max) {
		return max
	}
	return d
}

// sleepCtx waits for d, returning false if ctx was canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
