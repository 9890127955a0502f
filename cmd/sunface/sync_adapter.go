package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// Document is one key/value document published by the companion device.
type Document struct {
	Path   string         `json:"path"`
	Fields map[string]any `json:"fields"`
}

// DocumentListener receives change batches from a sync channel.
type DocumentListener func(docs []Document)

// ConnectionCallbacks are invoked by a sync channel from its own goroutine.
type ConnectionCallbacks interface {
	OnConnected()
	OnConnectionSuspended(err error)
}

// SyncChannel is the companion data channel. Reconnecting after a drop is the
// channel's own responsibility.
type SyncChannel interface {
	// Connect starts connecting and returns without waiting for the peer.
	Connect(cb ConnectionCallbacks) error
	Disconnect() error
	// AddListener installs the change listener, replacing any previous one.
	AddListener(fn DocumentListener) error
	// ExistingDocuments fetches every document currently held by the peer.
	ExistingDocuments(ctx context.Context) ([]Document, error)
}

// SyncChannelAdapter turns sync channel callbacks into reducer events.
//
// It runs on the channel's goroutines and never touches EngineState: it only
// normalizes documents and posts events onto the daemon queue.
type SyncChannelAdapter struct {
	ctx          context.Context
	channel      SyncChannel
	events       chan<- Event
	path         string
	fetchTimeout time.Duration
	logger       *slog.Logger
}

// NewSyncChannelAdapter creates an adapter that accepts documents at path.
func NewSyncChannelAdapter(ctx context.Context, channel SyncChannel, events chan<- Event, path string, fetchTimeout time.Duration, logger *slog.Logger) *SyncChannelAdapter {
	if path == "" {
		path = defaultDocumentPath
	}
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeoutMS * time.Millisecond
	}
	return &SyncChannelAdapter{
		ctx:          ctx,
		channel:      channel,
		events:       events,
		path:         path,
		fetchTimeout: fetchTimeout,
		logger:       logger,
	}
}

// OnConnected subscribes to changes and reconciles with the documents that
// already exist, so updates published before the subscription are not lost.
func (a *SyncChannelAdapter) OnConnected() {
	a.logger.Info("sync channel connected")

	if err := a.channel.AddListener(a.OnDocumentsChanged); err != nil {
		a.logger.Warn("sync subscribe failed", "error", err)
		a.post(SyncConnectionLost{Err: fmt.Errorf("subscribe: %w", err)})
		return
	}
	a.post(SyncConnected{})

	ctx, cancel := context.WithTimeout(a.ctx, a.fetchTimeout)
	defer cancel()

	docs, err := a.channel.ExistingDocuments(ctx)
	if err != nil {
		// Not fatal: later change events still arrive.
		a.logger.Warn("sync reconcile failed", "error", err)
		return
	}
	a.logger.Debug("sync reconcile", "documents", len(docs))
	a.apply(docs, true)
}

// OnConnectionSuspended records a lost connection; the last known weather
// keeps rendering.
func (a *SyncChannelAdapter) OnConnectionSuspended(err error) {
	a.logger.Warn("sync channel suspended", "error", err)
	a.post(SyncConnectionLost{Err: err})
}

// OnDocumentsChanged handles one change batch from the channel.
func (a *SyncChannelAdapter) OnDocumentsChanged(docs []Document) {
	a.apply(docs, false)
}

// OnDocumentChanged handles a single changed document.
func (a *SyncChannelAdapter) OnDocumentChanged(path string, fields map[string]any) {
	a.apply([]Document{{Path: path, Fields: fields}}, false)
}

func (a *SyncChannelAdapter) apply(docs []Document, reconciled bool) {
	var updates []WeatherUpdate
	for _, d := range docs {
		if d.Path != a.path {
			a.logger.Debug("sync document ignored", "path", d.Path)
			continue
		}
		u, errs := DecodeWeatherFields(d.Fields)
		for _, err := range errs {
			a.logger.Warn("sync document field skipped", "path", d.Path, "error", err)
		}
		if !u.Empty() {
			updates = append(updates, u)
		}
	}
	if len(updates) == 0 {
		return
	}
	a.post(WeatherDocumentsReceived{Updates: updates, Reconciled: reconciled})
}

// post hands an event to the daemon queue, giving up on shutdown.
func (a *SyncChannelAdapter) post(ev Event) {
	select {
	case a.events <- ev:
	case <-a.ctx.Done():
	}
}

// DecodeWeatherFields reads the optional weather keys of a document.
// Keys with the wrong type are skipped and reported; the rest still apply.
func DecodeWeatherFields(fields map[string]any) (WeatherUpdate, []error) {
	var u WeatherUpdate
	var errs []error

	if v, ok := fields[keyHighTemp]; ok {
		if s, ok := v.(string); ok {
			u.HighTemp = &s
		} else {
			errs = append(errs, fmt.Errorf("%s: expected string, got %T", keyHighTemp, v))
		}
	}

	if v, ok := fields[keyLowTemp]; ok {
		if s, ok := v.(string); ok {
			u.LowTemp = &s
		} else {
			errs = append(errs, fmt.Errorf("%s: expected string, got %T", keyLowTemp, v))
		}
	}

	if v, ok := fields[keyWeatherID]; ok {
		code, err := asInt(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", keyWeatherID, err))
		} else {
			icon := MapConditionCode(code)
			u.Icon = &icon
		}
	}

	return u, errs
}

// asInt accepts the integer shapes a decoded JSON document can carry.
func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		return integralFloat(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("expected integer: %w", err)
		}
		return integralFloat(f)
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func integralFloat(f float64) (int, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, fmt.Errorf("expected integer, got %v", f)
	}
	return int(f), nil
}
