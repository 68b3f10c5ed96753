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
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/noise.report/internal/aggregate"
	"github.com/banshee-data/noise.report/internal/api"
	"github.com/banshee-data/noise.report/internal/config"
	"github.com/banshee-data/noise.report/internal/db"
	"github.com/banshee-data/noise.report/internal/monitoring"
	"github.com/banshee-data/noise.report/internal/render"
	"github.com/banshee-data/noise.report/internal/sampling"
	"github.com/banshee-data/noise.report/internal/security"
	"github.com/banshee-data/noise.report/internal/sensor"
	"github.com/banshee-data/noise.report/internal/timeutil"
	"github.com/banshee-data/noise.report/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Printf("noise: %v", err)
		os.Exit(1)
	}
}

// dispatch runs the subcommand named by args[0]. With no subcommand, or
// when args starts with a flag, it runs the sampler.
func dispatch(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	command := "run"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		command, args = args[0], args[1:]
	}

	switch command {
	case "run":
		return handleRun(ctx, args)
	case "migrate":
		return handleMigrate(args, in, out)
	case "export-heatmap":
		return handleExportHeatmap(ctx, args, out)
	case "version":
		fmt.Fprintf(out, "noise %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return nil
	case "help":
		printUsage(out)
		return nil
	default:
		printUsage(out)
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(out io.Writer) {
	fmt.Fprint(out, `noise - decibel sampler and dashboard backend

Usage: noise <command> [options]

Commands:
  run              Sample the sensor, store loud readings and serve the API (default)
  migrate          Manage database schema migrations (see: noise migrate help)
  export-heatmap   Write the month by day heatmap as a PNG
  version          Show version information
  help             Show this help message

Run Flags:
  -config <file>   YAML or JSON config file
  -db <path>       SQLite database path (overrides storage.path)
  -listen <addr>   HTTP listen address, empty to disable (overrides server.listen)
  -dev             Use the simulated sensor

Environment:
  NOISE_<SECTION>__<KEY> overrides any config key, e.g. NOISE_SAMPLING__BATCH_SIZE=50
`)
}

type runFlags struct {
	configPath string
	dbPath     string
	listen     string
	listenSet  bool
	dev        bool
}

func parseRunFlags(args []string) (runFlags, error) {
	var f runFlags
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "YAML or JSON config file")
	fs.StringVar(&f.dbPath, "db", "", "SQLite database path")
	fs.StringVar(&f.listen, "listen", "", "HTTP listen address; empty disables the server")
	fs.BoolVar(&f.dev, "dev", false, "Use the simulated sensor")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	fs.Visit(func(fl *flag.Flag) {
		if fl.Name == "listen" {
			f.listenSet = true
		}
	})
	return f, nil
}

// loadRunConfig applies command-line overrides on top of the loaded config.
func loadRunConfig(f runFlags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.dbPath != "" {
		cfg.Storage.Path = f.dbPath
	}
	if f.listenSet {
		cfg.Server.Listen = f.listen
	}
	if f.dev {
		cfg.Sensor.Driver = sensor.DriverSimulated
	}
	return cfg, nil
}

type adminRouter interface {
	AttachAdminRoutes(*http.ServeMux)
}

func handleRun(ctx context.Context, args []string) error {
	f, err := parseRunFlags(args)
	if err != nil {
		return err
	}
	cfg, err := loadRunConfig(f)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	monitoring.Publish()

	database, err := db.NewDB(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	src, err := sensor.Open(cfg.SensorOptions())
	if err != nil {
		return fmt.Errorf("failed to open %s sensor: %w", cfg.Sensor.Driver, err)
	}
	log.Printf("sensor: %s driver ready", cfg.Sensor.Driver)

	clock := timeutil.RealClock{}
	syncFlusher := sampling.NewSyncFlusher(database, cfg.RetryPolicy(), clock)
	var flusher sampling.Flusher = syncFlusher
	if cfg.Sampling.QueueDepth > 0 {
		flusher = sampling.NewQueuedFlusher(syncFlusher, cfg.Sampling.QueueDepth)
	}
	scheduler := sampling.NewScheduler(src, flusher, cfg.SchedulerConfig(loc), clock)
	agg := aggregate.NewService(database, clock)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("sampling run %s started", scheduler.RunID())
		return scheduler.Run(gctx)
	})

	// The snapshot refresher and the HTTP server stop with the scheduler so a
	// fatal sensor or storage fault ends the process.
	g.Go(func() error {
		return agg.Run(gctx, cfg.Aggregation.RefreshInterval)
	})

	if cfg.Server.Listen != "" {
		mux := api.NewServer(agg, cfg).ServeMux()
		database.AttachAdminRoutes(mux)
		if ar, ok := src.(adminRouter); ok {
			ar.AttachAdminRoutes(mux)
		}
		server := &http.Server{
			Addr:              cfg.Server.Listen,
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			return serveHTTP(gctx, server)
		})
	}

	err = g.Wait()
	log.Printf("graceful shutdown complete")
	return err
}

func serveHTTP(ctx context.Context, server *http.Server) error {
	errc := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("failed to start server: %w", err)
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	return nil
}

func handleMigrate(args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dbPath := fs.String("db", config.Default().Storage.Path, "SQLite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return db.RunMigrateCommand(fs.Args(), *dbPath, in, out)
}

func handleExportHeatmap(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("export-heatmap", flag.ContinueOnError)
	dbPath := fs.String("db", config.Default().Storage.Path, "SQLite database path")
	minDb := fs.Float64("min-db", api.DefaultHeatmapMinDB, "Only readings at or above this level are plotted")
	outPath := fs.String("out", "heatmap.png", "Output PNG path (temp or working directory)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := security.ValidateExportPath(*outPath, ".png"); err != nil {
		return err
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	readings, err := database.ScanAll(ctx)
	if err != nil {
		return err
	}
	h := aggregate.HeatmapMatrix(readings, *minDb)
	if h.Empty() {
		return fmt.Errorf("%w: no readings at or above %.0f dB", render.ErrEmptyHeatmap, *minDb)
	}

	file, err := os.Create(*outPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", *outPath, err)
	}
	width, height := render.DefaultPNGSize(h)
	if err := render.HeatmapPNG(file, h, *minDb, width, height); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %d x %d heatmap from %d readings to %s\n", len(h.Months), len(h.Days), len(readings), *outPath)
	return nil
}
