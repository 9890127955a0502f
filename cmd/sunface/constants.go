package main

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_KEY = 0x01

	KEY_SLEEP  = 142
	KEY_WAKEUP = 143
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Cadence and sync defaults
const (
	defaultInteractiveIntervalMS = 1000  // Redraw cadence while not muted (ms)
	defaultMutedIntervalMS       = 60000 // Redraw cadence while do-not-disturb is on (ms)

	// Document path and keys published by the companion app.
	defaultDocumentPath = "/simple_watch_face"
	keyHighTemp         = "HIGH_TEMP"
	keyLowTemp          = "LOW_TEMP"
	keyWeatherID        = "WEATHER_ID"

	defaultFetchTimeoutMS     = 3000 // Bound on the reconciliation fetch after connect (ms)
	defaultHandshakeTimeoutMS = 2000
	defaultReconnectMinMS     = 500
	defaultReconnectMaxMS     = 30000

	defaultDisplayWidth  = 320
	defaultDisplayHeight = 320

	defaultEventQueueSize = 64
)
