package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gogpu/gg"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/scopae/internal/api"
	"github.com/banshee-data/scopae/internal/config"
	"github.com/banshee-data/scopae/internal/db"
	"github.com/banshee-data/scopae/internal/eyes"
	"github.com/banshee-data/scopae/internal/monitoring"
	"github.com/banshee-data/scopae/internal/panel"
	"github.com/banshee-data/scopae/internal/serialmux"
	"github.com/banshee-data/scopae/internal/surface"
	"github.com/banshee-data/scopae/internal/target"
	"github.com/banshee-data/scopae/internal/version"
)

var (
	configPath  = flag.String("config", "", "Installation config (.json, .yaml); built-in defaults when empty")
	port        = flag.String("port", "", "Serial port, overrides the config (ignored in dev mode)")
	listen      = flag.String("listen", ":8080", "Listen address for the debug API; empty disables it")
	dbPath      = flag.String("db", "scopae.db", "Event log database")
	devMode     = flag.Bool("dev", false, "Write the wire stream to a temp file instead of a serial port")
	listPorts   = flag.Bool("list-ports", false, "Print available serial ports and exit")
	debug       = flag.Bool("debug", false, "Verbose diagnostics, including renderer logs")
	targetMode  = flag.String("target", "sweep", "Gaze source when no manual target is set: sweep, center or none")
	manualTTL   = flag.Duration("manual-ttl", 5*time.Second, "How long a target set through the API is held")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listPorts {
		if err := printPorts(os.Stdout, serialmux.ListPorts); err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		return
	}
	if flag.NArg() > 0 && flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	cfg, err := loadConfig(*configPath, *port)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	panelConfigs, err := cfg.PanelConfigs()
	if err != nil {
		log.Fatalf("invalid panel configuration: %v", err)
	}
	source, err := selectSource(*targetMode, cfg)
	if err != nil {
		log.Fatal(err)
	}

	if *debug {
		monitoring.SetVerbose(true)
		gg.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
	log.Printf("starting %s", version.String())

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	runID := uuid.NewString()
	cfgJSON, _ := json.Marshal(cfg)
	if err := database.StartRun(context.Background(), db.Run{
		ID:         runID,
		StartedAt:  time.Now(),
		SerialPort: cfg.GetSerialPort(),
		PanelCount: len(panelConfigs),
		ConfigJSON: string(cfgJSON),
	}); err != nil {
		log.Fatalf("failed to record run: %v", err)
	}
	defer func() {
		if err := database.FinishRun(context.Background(), runID, time.Now()); err != nil {
			log.Printf("failed to finish run: %v", err)
		}
	}()

	recorder := db.NewRecorder(database, 256)
	defer recorder.Close()

	var factory serialmux.SerialPortFactory = serialmux.NewRealSerialPortFactory()
	if *devMode {
		factory = &serialmux.FilePortFactory{}
	}
	link := serialmux.NewConnection(cfg.GetSerialPort(), cfg.Serial.Options, factory,
		serialmux.WithActivityLogging(cfg.GetPrintPortStatus()),
		serialmux.WithEventHook(func(ev serialmux.LinkEvent) {
			recorder.RecordLinkEvent(db.LinkEvent{
				RunID: runID,
				At:    ev.At,
				Kind:  string(ev.Kind),
				Port:  ev.Port,
				Error: ev.Error,
			})
		}),
	)
	defer link.Close()

	panels, err := buildPanels(panelConfigs, cfg.GetReadbackWorkers(), cfg.GetReadbackQueueLength())
	if err != nil {
		log.Fatalf("failed to create panels: %v", err)
	}

	manual := &target.Manual{TTL: manualTTL.Seconds()}
	model, err := eyes.NewModel(panels, link, target.Fallback{Primary: manual, Secondary: source}, eyes.Options{
		TickInterval:     cfg.GetTickInterval(),
		PadMissingPanels: cfg.GetPadMissingPanels(),
		OnWindow: func(ws eyes.WindowStats) {
			recorder.RecordTickStats(tickStats(runID, ws))
		},
	})
	if err != nil {
		log.Fatalf("failed to create model: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// frame loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := model.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("frame loop stopped: %v", err)
		}
		log.Print("frame loop terminated")
	}()

	// HTTP server goroutine
	if *listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()

			mux := api.NewServer(model, link, manual, runID).ServeMux()
			link.AttachAdminRoutes(mux)
			if err := database.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach db admin routes: %v", err)
			}

			server := &http.Server{
				Addr:    *listen,
				Handler: api.LoggingMiddleware(mux),
			}

			// Start server in a goroutine so it doesn't block
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatalf("failed to start server: %v", err)
				}
			}()

			// Wait for context cancellation to shut down server
			<-ctx.Done()
			log.Println("shutting down HTTP server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
				// Force close the server if graceful shutdown fails
				if err := server.Close(); err != nil {
					log.Printf("HTTP server force close error: %v", err)
				}
			}

			log.Printf("HTTP server routine stopped")
		}()
	}

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete (run %s, %d event log records dropped)", runID, recorder.Dropped())
}

// loadConfig reads path, or the built-in defaults when path is empty, and
// applies the port override.
func loadConfig(path, portOverride string) (*config.InstallationConfig, error) {
	cfg := config.DefaultInstallationConfig()
	if path != "" {
		var err error
		cfg, err = config.LoadInstallationConfig(path)
		if err != nil {
			return nil, err
		}
	}
	if portOverride != "" {
		cfg.Serial.Port = &portOverride
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func selectSource(mode string, cfg *config.InstallationConfig) (target.Source, error) {
	switch mode {
	case "sweep":
		return target.NewSweep(cfg.GetCanvasWidth(), cfg.GetCanvasHeight()), nil
	case "center":
		return target.Fixed{Point: r2.Vec{}}, nil
	case "none":
		return target.None{}, nil
	default:
		return nil, fmt.Errorf("unknown -target %q (sweep, center or none)", mode)
	}
}

func buildPanels(configs []panel.Config, workers, depth int) ([]*panel.Panel, error) {
	panels := make([]*panel.Panel, 0, len(configs))
	for _, pc := range configs {
		p, err := panel.New(pc, surface.NewAsyncReadback(workers, depth), nil)
		if err != nil {
			for _, built := range panels {
				built.Close()
			}
			return nil, err
		}
		rows, cols := p.Size()
		log.Printf("panel %s: %dx%d rotation %v filter %s", p.Name(), rows, cols, pc.Rotation, pc.Filter)
		panels = append(panels, p)
	}
	return panels, nil
}

func tickStats(runID string, ws eyes.WindowStats) db.TickStats {
	return db.TickStats{
		RunID:           runID,
		WindowStart:     ws.Start,
		WindowEnd:       ws.End,
		Ticks:           ws.Ticks,
		SessionsWritten: ws.SessionsWritten,
		SessionsDropped: ws.SessionsDropped,
		PanelsSkipped:   ws.PanelsSkipped,
		BytesWritten:    ws.BytesWritten,
		MaxTick:         ws.MaxTick,
		MeanTick:        ws.MeanTick,
	}
}

func printPorts(w io.Writer, list func() ([]serialmux.PortInfo, error)) error {
	ports, err := list()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "no serial ports found")
		return nil
	}
	for _, p := range ports {
		if p.IsUSB {
			fmt.Fprintf(w, "%s\tUSB %s:%s %s\n", p.Name, p.VID, p.PID, p.SerialNumber)
		} else {
			fmt.Fprintf(w, "%s\n", p.Name)
		}
	}
	return nil
}
