package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
)

// ============================================================================
// sunface-ctl - Host lifecycle IPC client
// ============================================================================
// Sends host lifecycle events to the sunface daemon, standing in for the host
// shell during development.
//
// Usage:
//   sunface-ctl visible | hidden
//   sunface-ctl ambient | interactive
//   sunface-ctl filter all|priority|none|alarms
//   sunface-ctl tick
//   sunface-ctl insets round|square
//   sunface-ctl properties [burn-in] [low-bit]
//   sunface-ctl zone Europe/Athens
//   sunface-ctl status
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/sunface.sock)
// ============================================================================

// EventEnvelope wraps events for JSON (duplicated from the daemon for a
// standalone binary).
type EventEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	State  json.RawMessage `json:"state,omitempty"`
}

var filterNames = map[string]bool{"all": true, "priority": true, "none": true, "alarms": true}

func main() {
	socketPath := "/tmp/sunface.sock"

	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "-socket" || args[0] == "--socket") {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	env, err := parseCommand(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}
	if env == nil {
		printUsage()
		return
	}

	resp, err := send(socketPath, *env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if len(resp.State) > 0 {
		var pretty map[string]any
		if err := json.Unmarshal(resp.State, &pretty); err == nil {
			out, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(out))
			return
		}
	}
	fmt.Println("ok")
}

// parseCommand maps CLI arguments to an envelope. A nil envelope means help.
func parseCommand(args []string) (*EventEnvelope, error) {
	switch args[0] {
	case "visible":
		return &EventEnvelope{Type: "visibility_changed", Data: map[string]bool{"visible": true}}, nil
	case "hidden":
		return &EventEnvelope{Type: "visibility_changed", Data: map[string]bool{"visible": false}}, nil

	case "ambient":
		return &EventEnvelope{Type: "ambient_mode_changed", Data: map[string]bool{"ambient": true}}, nil
	case "interactive":
		return &EventEnvelope{Type: "ambient_mode_changed", Data: map[string]bool{"ambient": false}}, nil

	case "filter":
		if len(args) < 2 || !filterNames[args[1]] {
			return nil, fmt.Errorf("filter requires one of: all, priority, none, alarms")
		}
		return &EventEnvelope{Type: "interruption_filter_changed", Data: map[string]string{"filter": args[1]}}, nil

	case "tick":
		return &EventEnvelope{Type: "time_tick"}, nil

	case "insets":
		if len(args) < 2 || (args[1] != "round" && args[1] != "square") {
			return nil, fmt.Errorf("insets requires round or square")
		}
		return &EventEnvelope{Type: "window_insets_applied", Data: map[string]bool{"round": args[1] == "round"}}, nil

	case "properties":
		props := map[string]bool{"burn_in_protection": false, "low_bit_ambient": false}
		for _, a := range args[1:] {
			switch a {
			case "burn-in":
				props["burn_in_protection"] = true
			case "low-bit":
				props["low_bit_ambient"] = true
			default:
				return nil, fmt.Errorf("unknown property %q (want burn-in, low-bit)", a)
			}
		}
		return &EventEnvelope{Type: "properties_changed", Data: props}, nil

	case "zone":
		if len(args) < 2 || strings.TrimSpace(args[1]) == "" {
			return nil, fmt.Errorf("zone requires an IANA time zone name")
		}
		return &EventEnvelope{Type: "time_zone_changed", Data: map[string]string{"zone": args[1]}}, nil

	case "status":
		return &EventEnvelope{Type: "get_state"}, nil

	case "help", "-h", "--help":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown command: %s", args[0])
	}
}

func send(socketPath string, env EventEnvelope) (IPCResponse, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := json.Marshal(env)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal event: %w", err)
	}

	// Line-delimited JSON
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return IPCResponse{}, fmt.Errorf("send event: %w", err)
	}

	var response IPCResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if response.Status != "ok" {
		return response, fmt.Errorf("daemon error: %s", response.Error)
	}
	return response, nil
}

func printUsage() {
	fmt.Println("sunface-ctl - send host lifecycle events to the sunface daemon")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  sunface-ctl [-socket PATH] COMMAND [ARGS]")
	fmt.Println()
	fmt.Println("COMMANDS:")
	fmt.Println("  visible | hidden                  Face shown / hidden")
	fmt.Println("  ambient | interactive             Enter / leave ambient mode")
	fmt.Println("  filter all|priority|none|alarms   Interruption filter (none mutes)")
	fmt.Println("  tick                              Ambient minute tick")
	fmt.Println("  insets round|square               Screen shape")
	fmt.Println("  properties [burn-in] [low-bit]    Display properties")
	fmt.Println("  zone NAME                         Time zone change (IANA name)")
	fmt.Println("  status                            Print the engine state")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -socket PATH    Unix domain socket path (default: /tmp/sunface.sock)")
}
