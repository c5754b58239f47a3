package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fieldguide/guidance/internal/config"
	"github.com/fieldguide/guidance/internal/dispatch"
	"github.com/fieldguide/guidance/internal/globalplanner"
	"github.com/fieldguide/guidance/internal/localplanner"
	"github.com/fieldguide/guidance/internal/monitor"
	"github.com/fieldguide/guidance/internal/monitoring"
	"github.com/fieldguide/guidance/internal/pipeline"
	"github.com/fieldguide/guidance/internal/posefeed"
	"github.com/fieldguide/guidance/internal/publish"
	"github.com/fieldguide/guidance/internal/storage/sqlite"
	"github.com/fieldguide/guidance/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a guidance JSON config (built-in defaults when empty)")
	portPath    = flag.String("port", "/dev/ttyUSB0", "Serial port carrying the pose feed (ignored in dev mode)")
	devMode     = flag.Bool("dev", false, "Replay a simulated drive instead of opening the serial port")
	simInterval = flag.Duration("sim-interval", 100*time.Millisecond, "Line interval of the simulated drive")
	simWidth    = flag.Float64("sim-width", 6, "Implement width of the simulated drive in metres")
	listen      = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen  = flag.String("grpc-listen", "localhost:50051", "gRPC plan stream listen address (empty disables)")
	dbFile      = flag.String("db", "guidance.db", "Plan journal SQLite file (empty disables the journal)")
	keepPlans   = flag.Int("keep-plans", 1000, "Journal entries kept at startup (0 keeps all)")
	verbosity   = flag.Int("v", 0, "Log verbosity: 0 ops only, 1 adds diagnostics, 2 adds per-pose trace")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// eventSource is a running pose feed, real or simulated.
type eventSource interface {
	Events() <-chan posefeed.Event
	Monitor(ctx context.Context) error
	Close() error
	AttachAdminRoutes(mux *http.ServeMux)
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	configureLogging(os.Stderr, *verbosity)
	log.Printf("starting %s", version.String())

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	src, err := openSource(cfg, *devMode)
	if err != nil {
		log.Fatalf("failed to open pose feed: %v", err)
	}
	defer src.Close()

	opts := pipeline.OptionsFromGuidance(cfg)
	var journal monitor.Journal
	var db *sqlite.DB
	if *dbFile != "" {
		db, err = sqlite.Open(*dbFile)
		if err != nil {
			log.Fatalf("failed to open plan journal: %v", err)
		}
		defer db.Close()
		store := sqlite.NewPlanStore(db)
		if *keepPlans > 0 {
			if n, err := store.Prune(context.Background(), *keepPlans); err != nil {
				log.Printf("failed to prune plan journal: %v", err)
			} else if n > 0 {
				log.Printf("pruned %d old journal entries", n)
			}
		}
		opts.Journal = store
		journal = store
	}

	engine := pipeline.New(opts)
	srv := monitor.NewServer(monitor.Config{Address: *listen, Engine: engine, Journal: journal})
	src.AttachAdminRoutes(srv.ServeMux())
	if db != nil {
		if err := db.AttachAdminRoutes(srv.ServeMux()); err != nil {
			log.Printf("failed to attach journal admin routes: %v", err)
		}
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := src.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("pose feed stopped: %v", err)
		}
		log.Print("pose feed routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Run(ctx, src.Events()); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("engine stopped: %v", err)
			stop()
		}
		log.Print("engine routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(ctx); err != nil {
			log.Printf("HTTP server failed: %v", err)
			stop()
		}
	}()

	if *grpcListen != "" {
		pubCfg := publish.DefaultConfig()
		pubCfg.ListenAddr = *grpcListen
		pub := publish.NewPublisher(pubCfg, engine)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pub.Start(ctx); err != nil {
				log.Printf("gRPC publisher failed: %v", err)
				stop()
			}
		}()
	}

	wg.Wait()
	log.Printf("graceful shutdown complete")
}

// loadConfig reads path, or returns an empty config whose accessors supply
// the defaults.
func loadConfig(path string) (*config.GuidanceConfig, error) {
	if path == "" {
		return config.EmptyGuidanceConfig(), nil
	}
	return config.LoadGuidanceConfig(path)
}

func openSource(cfg *config.GuidanceConfig, dev bool) (eventSource, error) {
	if dev {
		script := posefeed.DriveScript(*simWidth, 100, 6, cfg.GetStartRight() != cfg.GetMirror())
		log.Printf("dev mode: replaying %d simulated lines every %v", len(script), *simInterval)
		return posefeed.NewFeed(posefeed.NewSimPort(script, *simInterval, nil)), nil
	}
	if *portPath == "" {
		return nil, errors.New("serial port is required")
	}
	return posefeed.OpenSerial(*portPath, posefeed.PortOptionsFromGuidance(cfg))
}

// configureLogging routes every package's log streams to w. Ops messages are
// always on; diag and trace follow the verbosity level.
func configureLogging(w io.Writer, level int) {
	var diag, trace io.Writer
	if level >= 1 {
		diag = w
	}
	if level >= 2 {
		trace = w
	}
	for _, set := range []func(ops, diag, trace io.Writer){
		dispatch.SetLogWriters,
		globalplanner.SetLogWriters,
		localplanner.SetLogWriters,
		pipeline.SetLogWriters,
		posefeed.SetLogWriters,
		publish.SetLogWriters,
	} {
		set(w, diag, trace)
	}
	logger := log.New(w, "", log.LstdFlags|log.Lmicroseconds)
	monitoring.SetLogger(logger.Printf)
}
