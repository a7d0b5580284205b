// Plantlink - industrial protocol bridge
//
// Bridges a single upstream controller (OPC UA or Siemens S7) into a
// last-value cache, a WebSocket fan-out stream, and optional MQTT,
// Valkey, and Kafka republishing.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"plantlink/adapter"
	"plantlink/bridge"
	"plantlink/cache"
	"plantlink/config"
	"plantlink/kafka"
	"plantlink/logging"
	"plantlink/mqtt"
	"plantlink/stream"
	"plantlink/valkey"
	"plantlink/web"
)

// Version is set at build time via -ldflags
var Version = "dev"

// preprocessLogDebugFlag handles --log-debug without a value by injecting
// "all" as the default, so `--log-debug` alone enables every subsystem.
func preprocessLogDebugFlag() {
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--log-debug" || arg == "-log-debug" {
			if i+1 >= len(args) || (len(args[i+1]) > 0 && args[i+1][0] == '-') {
				os.Args = append(os.Args[:i+2], append([]string{"all"}, os.Args[i+2:]...)...)
			}
			return
		}
		if len(arg) > 11 && (arg[:12] == "--log-debug=" || arg[:11] == "-log-debug=") {
			return
		}
	}
}

// Command line flags
var (
	configPath  = flag.String("config", config.DefaultPath(), "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version and exit")
	namespace   = flag.String("namespace", "", "Set namespace (saved to config)")
	httpPort    = flag.Int("p", 0, "HTTP listen port (overrides config)")
	httpHost    = flag.String("host", "", "HTTP bind address (overrides config)")
	endpoint    = flag.String("endpoint", "", "Primary upstream endpoint (overrides config)")
	logFile     = flag.String("log", "", "Path to log file (optional)")
	logDebug    = flag.String("log-debug", "", "Enable debug logging to debug.log")
)

func main() {
	// Pre-process args to handle --log-debug without a value
	preprocessLogDebugFlag()

	flag.Parse()

	if *showVersion {
		fmt.Printf("plantlink %s\n", Version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Handle --namespace flag: overwrite config and save
	if *namespace != "" {
		if !config.IsValidNamespace(*namespace) {
			fmt.Fprintf(os.Stderr, "Error: invalid namespace '%s' (use alphanumeric, hyphen, underscore, dot)\n", *namespace)
			os.Exit(1)
		}
		cfg.Namespace = *namespace
		if err := cfg.Save(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Namespace set to '%s' and saved to config\n", *namespace)
	}

	// Override web config and endpoint from flags (in memory only)
	if *httpPort != 0 {
		cfg.Web.Port = *httpPort
	}
	if *httpHost != "" {
		cfg.Web.Host = *httpHost
	}
	if *endpoint != "" {
		cfg.Upstream.PrimaryEndpoint = *endpoint
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	run(cfg)
}

func run(cfg *config.Config) {
	// Set up file logging if specified
	var fileLogger *logging.FileLogger
	if *logFile != "" {
		var err error
		fileLogger, err = logging.NewFileLogger(*logFile, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to open log file: %v\n", err)
		}
	}

	// Route operator log lines to the file logger when present, stdout
	// otherwise.
	logLine := func(format string, args ...interface{}) {
		if fileLogger != nil {
			fileLogger.Log(format, args...)
		} else {
			fmt.Printf(format+"\n", args...)
		}
	}

	// Set up debug logging if specified
	var debugLogger *logging.DebugLogger
	if *logDebug != "" {
		var err error
		debugLogger, err = logging.NewDebugLogger("debug.log")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to open debug log: %v\n", err)
		} else {
			filter := *logDebug
			if filter == "all" || filter == "true" || filter == "1" {
				filter = ""
			}
			debugLogger.SetFilter(filter)
			logging.SetGlobalDebugLogger(debugLogger)
			if filter == "" {
				logLine("Debug logging enabled (all subsystems) - writing to debug.log")
			} else {
				logLine("Debug logging enabled (filter: %s) - writing to debug.log", filter)
			}
		}
	}

	// Create the protocol adapter for the configured backend
	upstream, err := adapter.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating %s adapter: %v\n", cfg.Upstream.Backend, err)
		os.Exit(1)
	}

	// Create the value cache and the bridge manager
	valueCache := cache.New(cfg.Points)
	manager := bridge.NewManager(cfg, upstream, valueCache)
	manager.SetLogFunc(logLine)

	// Create the WebSocket broadcaster and command router
	broadcaster := stream.NewBroadcaster(valueCache.Values)
	broadcaster.SetLogFunc(logLine)
	router := stream.NewCommandRouter(cfg.Points, valueCache, manager, broadcaster.BroadcastDelta)
	router.SetLogFunc(logLine)
	broadcaster.SetCommandRouter(router)

	// Create republishing managers
	mqttMgr := mqtt.NewManager(cfg.MQTT, cfg.Namespace)
	mqttMgr.SetLogFunc(logLine)
	valkeyMgr := valkey.NewManager(cfg.Valkey, cfg.Namespace)
	valkeyMgr.SetLogFunc(logLine)
	kafkaMgr := kafka.NewManager(cfg.Kafka, cfg.Namespace)
	kafkaMgr.SetLogFunc(logLine)

	// Fan value changes out to WebSocket clients and brokers
	setupValueChangeHandlers(manager, valueCache, broadcaster, mqttMgr, valkeyMgr, kafkaMgr)

	// Surface upstream faults to WebSocket clients as error frames
	manager.SetOnFaultNotice(broadcaster.BroadcastError)

	// Log connection lifecycle transitions
	manager.Events.Subscribe(func(e bridge.Event) {
		switch p := e.Payload.(type) {
		case bridge.ConnectionEvent:
			switch e.Type {
			case bridge.EventConnected:
				logLine("Connected to %s endpoint %s", p.Role, p.Endpoint)
			case bridge.EventSessionActive:
				logLine("Session active on %s endpoint %s", p.Role, p.Endpoint)
			case bridge.EventReconnecting:
				logLine("Upstream unavailable (%v), retrying in %s", p.Err, cfg.Upstream.ReconnectDelay)
			case bridge.EventEndpointSwitched:
				logLine("Switched to %s endpoint %s", p.Role, p.Endpoint)
			case bridge.EventEndpointOverridden:
				logLine("Primary endpoint overridden to %s", p.Endpoint)
			}
		case bridge.WriteEvent:
			if e.Type == bridge.EventWriteFailed {
				logLine("Write to %s failed: %v", p.PointID, p.Err)
			}
		}
	})

	// Force a full republish once a Valkey server (re)connects
	valkeyMgr.SetOnConnectCallback(func() {
		forcePublishAllValues(valueCache, nil, valkeyMgr, nil)
	})

	// Start the bridge
	manager.Start()

	// Start HTTP server (unless disabled)
	var webServer *web.Server
	if cfg.Web.Enabled {
		webServer = web.NewServer(&cfg.Web, manager, broadcaster, valueCache)
		if err := webServer.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to start web server on port %d: %v\n", cfg.Web.Port, err)
			fmt.Fprintf(os.Stderr, "Continuing without HTTP server.\n")
			webServer = nil
		} else {
			fmt.Printf("Web server at %s\n", webServer.Address())
			fmt.Printf("  Stream:   %s/api/ws\n", webServer.Address())
			fmt.Printf("  REST API: %s/api/\n", webServer.Address())
		}
	}

	// Auto-start enabled brokers; publish current values to MQTT once up
	go func() {
		mqttMgr.StartAll()
		if mqttMgr.Count() > 0 {
			forcePublishAllValues(valueCache, mqttMgr, nil, nil)
		}
	}()
	go valkeyMgr.StartAll()
	go kafkaMgr.StartAll()

	// Start health publishing loop
	go publishHealthLoop(manager, mqttMgr, valkeyMgr, kafkaMgr)

	fmt.Println("Running. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	fmt.Printf("\nReceived %v, shutting down...\n", sig)

	// Graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		if webServer != nil {
			webServer.Stop()
		}
		manager.Stop()
		mqttMgr.StopAll()
		valkeyMgr.StopAll()
		kafkaMgr.StopAll()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
	case <-time.After(2 * time.Second):
	}

	if fileLogger != nil {
		fileLogger.Close()
	}
	if debugLogger != nil {
		debugLogger.Close()
	}

	fmt.Println("Stopped")
}

// setupValueChangeHandlers fans cache changes out to WebSocket clients and
// to MQTT, Valkey, and Kafka.
func setupValueChangeHandlers(manager *bridge.Manager, valueCache *cache.Cache,
	broadcaster *stream.Broadcaster, mqttMgr *mqtt.Manager, valkeyMgr *valkey.Manager, kafkaMgr *kafka.Manager) {
	manager.SetOnValueChange(func(pointID string, entry cache.Entry) {
		broadcaster.BroadcastDelta(map[string]interface{}{pointID: entry.Value})

		point, ok := valueCache.Point(pointID)
		if !ok {
			return
		}

		// Broker publishes run off the bridge's control loop
		go func() {
			mqttMgr.PublishChange(pointID, entry.Value, point.Unit, string(entry.Quality), point.Writable, false)
			valkeyMgr.PublishChange(pointID, entry.Value, point.Unit, string(entry.Quality), point.Writable)
			kafkaMgr.PublishChange(pointID, entry.Value, point.Unit, string(entry.Quality), point.Writable)
		}()
	})
}

// forcePublishAllValues republishes every cached value to the given managers.
// Nil managers are skipped.
func forcePublishAllValues(valueCache *cache.Cache, mqttMgr *mqtt.Manager, valkeyMgr *valkey.Manager, kafkaMgr *kafka.Manager) {
	snapshot := valueCache.Snapshot()
	logging.DebugLog("bridge", "Force publishing %d cached values", len(snapshot))
	for pointID, entry := range snapshot {
		point, ok := valueCache.Point(pointID)
		if !ok {
			continue
		}
		if mqttMgr != nil {
			mqttMgr.PublishChange(pointID, entry.Value, point.Unit, string(entry.Quality), point.Writable, true)
		}
		if valkeyMgr != nil {
			valkeyMgr.PublishChange(pointID, entry.Value, point.Unit, string(entry.Quality), point.Writable)
		}
		if kafkaMgr != nil {
			kafkaMgr.PublishChange(pointID, entry.Value, point.Unit, string(entry.Quality), point.Writable)
		}
	}
}

// publishHealthLoop publishes bridge health to all brokers every 10 seconds.
func publishHealthLoop(manager *bridge.Manager, mqttMgr *mqtt.Manager, valkeyMgr *valkey.Manager, kafkaMgr *kafka.Manager) {
	time.Sleep(2 * time.Second)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	publishHealth(manager, mqttMgr, valkeyMgr, kafkaMgr)

	for range ticker.C {
		publishHealth(manager, mqttMgr, valkeyMgr, kafkaMgr)
	}
}

func publishHealth(manager *bridge.Manager, mqttMgr *mqtt.Manager, valkeyMgr *valkey.Manager, kafkaMgr *kafka.Manager) {
	health := manager.Status()
	mqttMgr.PublishHealth(health.Status, health.Endpoint)
	valkeyMgr.PublishHealth(health.Status, health.Endpoint, health.LastError)
	kafkaMgr.PublishHealth(health.Status, health.Endpoint)
}
