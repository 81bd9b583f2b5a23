package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/campusdata/presence/internal/api"
	"github.com/campusdata/presence/internal/config"
	"github.com/campusdata/presence/internal/db"
	"github.com/campusdata/presence/internal/presence"
	"github.com/campusdata/presence/internal/timeutil"
	"github.com/campusdata/presence/internal/version"
)

var (
	listen        = flag.String("listen", ":8080", "Listen address")
	dbPath        = flag.String("db", "attendance.db", "Path to the attendance database")
	configPath    = flag.String("config", "", "Path to a JSON tuning config (optional)")
	migrationsDir = flag.String("migrations", "migrations", "Path to the migrations directory")
	detached      = flag.Bool("detached-sweeper", false,
		"Run the sweep loop as an independent worker instead of attaching it to the process lifetime")
)

func main() {
	flag.Parse()
	log.Printf("presenced %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := config.DefaultPresenceConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadPresenceConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	// `presenced migrate <up|down|status|force N>` runs and exits.
	if args := flag.Args(); len(args) > 0 && args[0] == "migrate" {
		if err := database.RunMigrateCommand(args[1:], *migrationsDir); err != nil {
			log.Fatalf("Migrate failed: %v", err)
		}
		return
	}

	clock := timeutil.RealClock{}
	buffer := presence.NewBuffer(cfg.GetBufferWindow())
	reconciler := presence.NewReconciler(database.LogStore(), buffer,
		cfg.GetPresenceSpan(), cfg.GetAbsenceAfter(), cfg.GetPresentMin())
	sweeper := presence.NewSweeper(buffer, reconciler, clock, presence.SweeperOptions{
		InitialDelay: cfg.GetInitialDelay(),
		PollInterval: cfg.GetPollInterval(),
		StopTimeout:  cfg.GetStopTimeout(),
	})
	gateway := presence.NewGateway(buffer, reconciler, sweeper, clock)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The mode is chosen explicitly here rather than probed at runtime:
	// attached follows the signal context, detached runs until Stop.
	if *detached {
		sweeper.Start(nil)
	} else {
		sweeper.Start(ctx)
	}
	defer sweeper.Stop()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		database.AttachAdminRoutes(mux)

		apiMux := api.NewServer(database, gateway, buffer, sweeper, cfg, clock).ServeMux()
		mux.Handle("/api/", http.StripPrefix("/api", apiMux))

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("presenced listening on %s", *listen)

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	sweeper.Stop()
	log.Printf("Graceful shutdown complete")
}
