package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/shapemodel/internal/api"
	"github.com/banshee-data/shapemodel/internal/config"
	"github.com/banshee-data/shapemodel/internal/db"
	"github.com/banshee-data/shapemodel/internal/editor"
	"github.com/banshee-data/shapemodel/internal/monitoring"
	"github.com/banshee-data/shapemodel/internal/rpcserver"
	"github.com/banshee-data/shapemodel/internal/ssm"
	"github.com/banshee-data/shapemodel/internal/version"
)

var (
	devMode     = flag.Bool("dev", false, "Run in dev mode (stores a synthetic model on startup)")
	listen      = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen  = flag.String("grpc-listen", "", "gRPC listen address (empty disables the gRPC service)")
	dbPathFlag  = flag.String("db", "shapemodel.db", "Path to the SQLite database file")
	configFile  = flag.String("config", "", "Path to a solver config JSON file (defaults apply when empty)")
	versionFlag = flag.Bool("version", false, "Print version information and exit")
	debugLog    = flag.Bool("debug", false, "Write solver diagnostics to stderr")
	traceLog    = flag.Bool("trace", false, "Write per-request telemetry to stderr")

	sessionIdle  = flag.Duration("session-idle", 30*time.Minute, "Evict in-memory sessions idle for longer than this")
	evictEvery   = flag.Duration("evict-interval", time.Minute, "How often idle sessions are evicted")
	devPoints    = flag.Int("dev-points", 200, "Points in the dev mode synthetic model")
	devModes     = flag.Int("dev-modes", 8, "Modes in the dev mode synthetic model")
	shutdownWait = flag.Duration("shutdown-timeout", 5*time.Second, "Grace period for in-flight requests on shutdown")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "       %s migrate <up|down|status|version|force> [args]\n\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.String())
		return
	}

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "migrate":
			db.RunMigrateCommand(args[1:], *dbPathFlag)
			return
		default:
			usage()
			os.Exit(2)
		}
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	writers := monitoring.LogWriters{Ops: os.Stderr}
	if *debugLog {
		writers.Diag = os.Stderr
	}
	if *traceLog {
		writers.Trace = os.Stderr
	}
	monitoring.SetLogWriters(writers)

	cfg := config.DefaultSolverConfig()
	if *configFile != "" {
		loaded, err := config.LoadSolverConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	database, err := db.NewDB(*dbPathFlag)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if *devMode {
		if err := seedDevModel(database, cfg); err != nil {
			log.Fatalf("Failed to seed dev model: %v", err)
		}
	}

	sessions := editor.NewManager(database, cfg, nil)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// evict idle sessions; their snapshots stay in the database
	wg.Add(1)
	go func() {
		defer wg.Done()
		sessions.RunEviction(ctx, *evictEvery, *sessionIdle)
		log.Print("eviction routine terminated")
	}()

	if *grpcListen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rpcserver.NewServer(sessions, cfg).ListenAndServe(ctx, *grpcListen); err != nil {
				log.Printf("gRPC server error: %v", err)
			}
			log.Printf("gRPC server routine stopped")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(database, sessions, cfg).ServeMux()
		if err := database.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach admin routes: %v", err)
		}

		server := &http.Server{
			Addr:              *listen,
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			monitoring.Opsf("HTTP server listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownWait)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// seedDevModel stores a synthetic sphere model unless one already exists.
func seedDevModel(database *db.DB, cfg *config.SolverConfig) error {
	const name = "dev-sphere"
	models, err := database.ListModels()
	if err != nil {
		return err
	}
	for _, m := range models {
		if m.Name == name {
			monitoring.Opsf("dev model %s already present (%s)", name, m.ID)
			return nil
		}
	}

	seed := cfg.GetRandomSeed()
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	model, err := ssm.Synthetic(*devPoints, *devModes, rand.New(rand.NewSource(seed)))
	if err != nil {
		return err
	}
	rec, err := database.SaveModel(name, model)
	if err != nil {
		return err
	}

	// Poles and an equator point make a small predefined landmark set.
	landmarks := []db.Landmark{
		{Name: "first", PointIndex: 0, Position: model.Point(0)},
		{Name: "middle", PointIndex: model.PointCount() / 2, Position: model.Point(model.PointCount() / 2)},
		{Name: "last", PointIndex: model.PointCount() - 1, Position: model.Point(model.PointCount() - 1)},
	}
	if err := database.SaveLandmarks(rec.ID, landmarks); err != nil {
		return err
	}
	monitoring.Opsf("stored dev model %s (%d points, %d modes)", rec.ID, rec.PointCount, rec.ModeCount)
	return nil
}
