package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const version = "0.1.0"

func printVersion() {
	fmt.Printf("sunface v%s\n", version)
	fmt.Println("Wearable clock face engine with companion weather sync")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  sunface [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Runs the face engine. Host lifecycle events arrive over a Unix socket")
	fmt.Println("  (see sunface-ctl) or from input devices; weather comes from a companion")
	fmt.Println("  device over WebSocket. Frames are served to display clients on the")
	fmt.Println("  face WebSocket and optionally previewed in the terminal.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file")
	fmt.Println()
	fmt.Println("  -env-file string")
	fmt.Println("        Path to .env file with SUNFACE_* overrides (default \".env\" if present)")
	fmt.Println()
	fmt.Println("  -document-path string")
	fmt.Printf("        Companion document path holding weather fields (default %q)\n", defaultDocumentPath)
	fmt.Println()
	fmt.Println("  -interactive-interval-ms int")
	fmt.Printf("        Redraw cadence while not muted (default %d)\n", defaultInteractiveIntervalMS)
	fmt.Println()
	fmt.Println("  -muted-interval-ms int")
	fmt.Printf("        Redraw cadence while do-not-disturb is on (default %d)\n", defaultMutedIntervalMS)
	fmt.Println()
	fmt.Println("  -time-zone string")
	fmt.Println("        IANA time zone for the face (default: system zone)")
	fmt.Println()
	fmt.Println("  -display-width int / -display-height int")
	fmt.Printf("        Frame size in pixels (default %dx%d)\n", defaultDisplayWidth, defaultDisplayHeight)
	fmt.Println()
	fmt.Println("  -terminal")
	fmt.Println("        Draw a preview of every frame on stdout (logs move to stderr)")
	fmt.Println()
	fmt.Println("  -companion-ws-url string")
	fmt.Println("        Companion WebSocket URL; setting it enables the companion link")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Println("        Unix domain socket path for host events (default \"/tmp/sunface.sock\")")
	fmt.Println()
	fmt.Println("  -input-devices string")
	fmt.Println("        Comma separated input devices (KEY_SLEEP / KEY_WAKEUP)")
	fmt.Println()
	fmt.Println("  -http-port int")
	fmt.Println("        HTTP port for /face and /healthz; 0 disables (default 3001)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  sunface -config /etc/sunface.yaml")
	fmt.Println("  sunface -terminal -companion-ws-url ws://phone.local:8765/sync")
	fmt.Println("  sunface-ctl visible && sunface-ctl filter none")
	fmt.Println()
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		envFile    = flag.String("env-file", "", "Path to .env file")

		documentPath          = flag.String("document-path", defaultDocumentPath, "Companion document path")
		interactiveIntervalMS = flag.Int("interactive-interval-ms", defaultInteractiveIntervalMS, "Redraw cadence while not muted (ms)")
		mutedIntervalMS       = flag.Int("muted-interval-ms", defaultMutedIntervalMS, "Redraw cadence while muted (ms)")
		timeZone              = flag.String("time-zone", "", "IANA time zone")

		displayWidth  = flag.Int("display-width", defaultDisplayWidth, "Frame width in pixels")
		displayHeight = flag.Int("display-height", defaultDisplayHeight, "Frame height in pixels")
		terminal      = flag.Bool("terminal", false, "Preview frames on stdout")

		companionWsURL = flag.String("companion-ws-url", "", "Companion WebSocket URL")

		ipcSocketPath = flag.String("ipc-socket", "/tmp/sunface.sock", "Unix domain socket path for IPC")
		inputDevices  = flag.String("input-devices", "", "Comma separated input devices")
		httpPort      = flag.Int("http-port", 3001, "HTTP listener port (0 disables)")
		logLevelStr   = flag.String("log-level", "info", "Log level: error, warn, info, debug")

		_ = flag.Bool("version", false, "Print version and exit")
		_ = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	// Only explicitly set flags override the file and environment.
	var overrides FlagOverrides
	companionEnabled := true
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "document-path":
			overrides.DocumentPath = documentPath
		case "interactive-interval-ms":
			overrides.InteractiveIntervalMS = interactiveIntervalMS
		case "muted-interval-ms":
			overrides.MutedIntervalMS = mutedIntervalMS
		case "time-zone":
			overrides.TimeZone = timeZone
		case "display-width":
			overrides.DisplayWidth = displayWidth
		case "display-height":
			overrides.DisplayHeight = displayHeight
		case "terminal":
			overrides.DisplayTerminal = terminal
		case "companion-ws-url":
			overrides.CompanionWsURL = companionWsURL
			overrides.CompanionEnabled = &companionEnabled
		case "ipc-socket":
			overrides.SocketPath = ipcSocketPath
		case "input-devices":
			overrides.InputDevices = inputDevices
		case "http-port":
			overrides.HTTPPort = httpPort
		case "log-level":
			overrides.LogLevel = logLevelStr
		}
	})

	cfg, err := loadConfig(*configPath, *envFile, overrides)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig layers defaults, file, environment and flags, then validates.
func loadConfig(path, envFile string, overrides FlagOverrides) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		loaded, err := LoadConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}

	if err := LoadDotEnv(envFile); err != nil {
		return Config{}, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func run(cfg Config) error {
	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := setupLogger(logLevel, cfg.Display.Terminal)

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("face.time_zone: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// Central event bus: host IPC, input devices, the sync adapter and the face
	// server all feed the daemon loop through this channel.
	events := make(chan Event, defaultEventQueueSize)
	broadcasts := make(chan StateBroadcast, 64)

	faceServer := NewFaceServer(logger, events, FaceServerConfig{})
	targets := []RenderTarget{
		{Name: "face_ws", Renderer: JSONFrameRenderer{}, Surface: faceServer.Hub()},
	}
	if cfg.Display.Terminal {
		targets = append(targets, RenderTarget{Name: "terminal", Renderer: TerminalRenderer{}, Surface: os.Stdout})
	}

	deps := DaemonDeps{
		Cadence:    cfg.Cadence(),
		Location:   loc,
		Targets:    targets,
		Bounds:     frameBounds(cfg.Display.Width, cfg.Display.Height),
		Broadcasts: broadcasts,
	}

	if cfg.Companion.Enabled {
		companion, err := NewCompanionClient(cfg.CompanionConfig(), logger.With("component", "companion"))
		if err != nil {
			return err
		}
		deps.Sync = companion
		deps.Callbacks = NewSyncChannelAdapter(gctx, companion, events, cfg.Face.DocumentPath,
			time.Duration(cfg.Companion.FetchTimeoutMS)*time.Millisecond, logger.With("component", "sync"))
	}

	logger.Debug("configuration",
		"document_path", cfg.Face.DocumentPath,
		"interactive_interval_ms", cfg.Face.InteractiveIntervalMS,
		"muted_interval_ms", cfg.Face.MutedIntervalMS,
		"time_zone", cfg.Face.TimeZone,
		"display", fmt.Sprintf("%dx%d", cfg.Display.Width, cfg.Display.Height),
		"terminal", cfg.Display.Terminal,
		"companion_enabled", cfg.Companion.Enabled,
		"companion_ws_url", cfg.Companion.WsURL,
		"ipc_socket", cfg.Host.SocketPath,
		"input_devices", strings.Join(cfg.Host.InputDevices, ","),
		"http_port", cfg.HTTP.Port)

	g.Go(func() error {
		runDaemon(gctx, events, deps, logger.With("component", "daemon"))
		return nil
	})
	g.Go(func() error {
		faceServer.Hub().Run(gctx)
		return nil
	})
	g.Go(func() error {
		RunBroadcaster(gctx, faceServer.Hub(), broadcasts, logger)
		return nil
	})
	g.Go(func() error {
		return runIPCServer(gctx, cfg.Host.SocketPath, events, logger.With("component", "ipc"))
	})
	if len(cfg.Host.InputDevices) > 0 {
		g.Go(func() error {
			return runInputDevices(gctx, cfg.Host.InputDevices, events, logger.With("component", "input"))
		})
	}
	if cfg.HTTP.Port > 0 {
		g.Go(func() error {
			return runHTTPServer(gctx, cfg.HTTP.Port, newHTTPMux(faceServer, cfg.HTTP.FaceWSPath), logger)
		})
	}

	logger.Info("sunface started", "version", version, "ipc", cfg.Host.SocketPath, "http_port", cfg.HTTP.Port)

	if err := g.Wait(); err != nil {
		logger.Error("shutting down", "error", err)
		return err
	}
	logger.Info("shutting down")
	return nil
}
