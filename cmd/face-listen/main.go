package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
)

// face-listen connects to the sunface frame websocket and prints what a
// display client would receive.

var (
	tagStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#0288D1"))
	mutedStyle = lipgloss.NewStyle().Faint(true)
)

// message mirrors the daemon's websocket envelope.
type message struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type frameData struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	Face   struct {
		Mode  string `json:"mode"`
		Muted bool   `json:"muted"`
	} `json:"face"`
	Text struct {
		Hour     string `json:"hour"`
		Minute   string `json:"minute"`
		Date     string `json:"date"`
		HighTemp string `json:"high_temp"`
		LowTemp  string `json:"low_temp"`
	} `json:"text"`
	Alpha uint8 `json:"alpha"`
}

func main() {
	var (
		wsURL  = flag.String("ws", "ws://127.0.0.1:3001/face", "sunface frame websocket URL")
		frames = flag.Bool("frames", true, "Print frame messages (disable to see only state changes)")
		raw    = flag.Bool("raw", false, "Print messages as received")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	// The server pings every 20s; answering resets our deadline too.
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			if messageType != websocket.TextMessage {
				fmt.Printf("%s %d bytes\n", tagStyle.Render("[BINARY]"), len(data))
				continue
			}
			if *raw {
				fmt.Println(string(data))
				continue
			}
			handleTextMessage(data, *frames)
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// handleTextMessage prints one envelope in a compact form.
func handleTextMessage(data []byte, showFrames bool) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		fmt.Printf("%s %s\n", tagStyle.Render("[TEXT]"), string(data))
		return
	}

	switch msg.Type {
	case "frame":
		if !showFrames {
			return
		}
		var f frameData
		if err := json.Unmarshal(msg.Data, &f); err != nil {
			fmt.Printf("%s undecodable: %v\n", tagStyle.Render("[FRAME]"), err)
			return
		}
		line := fmt.Sprintf("%s:%s  %s  %s", f.Text.Hour, f.Text.Minute, f.Text.Date, f.Face.Mode)
		if f.Text.HighTemp != "" || f.Text.LowTemp != "" {
			line += fmt.Sprintf("  %s/%s", f.Text.HighTemp, f.Text.LowTemp)
		}
		if f.Face.Muted {
			line = mutedStyle.Render(line + "  (muted)")
		}
		fmt.Printf("%s %s\n", tagStyle.Render("[FRAME]"), line)

	default:
		var pretty any
		if err := json.Unmarshal(msg.Data, &pretty); err != nil {
			fmt.Printf("%s %s\n", tagStyle.Render("["+msg.Type+"]"), string(msg.Data))
			return
		}
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Printf("%s\n%s\n", tagStyle.Render("["+msg.Type+"]"), string(out))
	}
}
