package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"golang.org/x/time/rate"

	"github.com/riverfreight/syncengine/internal/api"
	"github.com/riverfreight/syncengine/internal/auth"
	"github.com/riverfreight/syncengine/internal/config"
	"github.com/riverfreight/syncengine/internal/db"
	"github.com/riverfreight/syncengine/internal/entity"
	"github.com/riverfreight/syncengine/internal/queue"
	"github.com/riverfreight/syncengine/internal/relstore"
	"github.com/riverfreight/syncengine/internal/runstore"
	"github.com/riverfreight/syncengine/internal/sheetapi"
	"github.com/riverfreight/syncengine/internal/sheetstore"
	"github.com/riverfreight/syncengine/internal/syncengine"
	"github.com/riverfreight/syncengine/internal/syncrules"
)

// sheetRateLimit caps requests to the sheet API at 5/sec, the
// conservative per-base rate the sheet vendor recommends.
const sheetRateLimit = 5

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	kinds, manual, err := parseArgs(os.Args[1:])
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}

	database, err := sql.Open("postgres", cfg.RelationalURL)
	if err != nil {
		log.Fatalf("Failed to connect to relational store: %v", err)
	}
	defer database.Close()

	database.SetMaxOpenConns(10)
	database.SetMaxIdleConns(5)
	database.SetConnMaxLifetime(30 * time.Minute)

	if err := database.Ping(); err != nil {
		log.Fatalf("Failed to ping relational store: %v", err)
	}
	log.Println("Relational store connection established")

	if err := db.RunMigrations(database, "migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	rules, err := syncrules.Load(cfg.SyncRulesFile)
	if err != nil {
		log.Fatalf("Failed to load sync rules: %v", err)
	}

	tokenSource := auth.NewStaticTokenSource(cfg.SheetToken)
	sheetClient := sheetapi.NewClient("https://api.airtable.com", cfg.SheetBaseID, tokenSource.GetToken, rate.NewLimiter(rate.Limit(sheetRateLimit), 1))

	rel := relstore.New(database)
	sheet := sheetstore.New(sheetClient, cfg.TableIDs, cfg.TableNames, cfg.FieldMaps)
	runs := runstore.New(database)

	syncer := &syncengine.Syncer{
		Rel:            rel,
		Sheet:          sheet,
		Rules:          rules,
		RelTolerance:   cfg.RelationalTolerance,
		SheetTolerance: cfg.SheetTolerance,
	}

	var natsManager *queue.Manager
	if cfg.NATSURL != "" {
		natsManager, err = queue.NewManager(cfg.NATSURL)
		if err != nil {
			log.Printf("Warning: NATS unavailable, run events won't be published: %v", err)
		} else {
			defer natsManager.Close()
		}
	}

	coordinator := &syncengine.RunCoordinator{Syncer: syncer, Runs: runs, Queue: natsManager}

	server := api.NewServer(cfg, runs, natsManager)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.AppPort),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.Printf("Status server listening on port %d", cfg.AppPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Status server failed: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Println("Shutting down...")
		cancel()
	}()

	runOnce := func(runType string) {
		publish(natsManager, queue.SubjectSyncRunStart, nil)
		summary := coordinator.Run(ctx, kinds, runType)
		syncengine.PrintSummary(summary)
		publish(natsManager, queue.SubjectSyncRunComplete, nil)
	}

	// A named-entity invocation is a one-shot CLI run; no arguments
	// drops into scheduled mode, an initial run followed by a ticker
	// at the configured interval.
	if manual {
		runOnce("manual")
	} else {
		runOnce("scheduled")
		if cfg.IntervalMinutes > 0 {
			ticker := time.NewTicker(time.Duration(cfg.IntervalMinutes) * time.Minute)
			defer ticker.Stop()
		loop:
			for {
				select {
				case <-ticker.C:
					runOnce("scheduled")
				case <-ctx.Done():
					break loop
				}
			}
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Status server forced to shutdown: %v", err)
	}
	log.Println("Stopped gracefully")
}

// parseArgs: zero arguments syncs every entity in SyncOrder under
// scheduled mode; named arguments restrict the run to those entities
// as a one-shot manual run. Named entities are normalized to
// entity.SyncOrder regardless of the order typed, so a partial run
// still resolves links within the same pass.
func parseArgs(args []string) ([]entity.Kind, bool, error) {
	if len(args) == 0 {
		return entity.SyncOrder, false, nil
	}

	requested := make(map[entity.Kind]bool, len(args))
	for _, name := range args {
		if !entity.Valid(name) {
			return nil, false, fmt.Errorf("unknown entity %q: expected one of %v", name, entity.SyncOrder)
		}
		requested[entity.Kind(name)] = true
	}

	kinds := make([]entity.Kind, 0, len(requested))
	for _, kind := range entity.SyncOrder {
		if requested[kind] {
			kinds = append(kinds, kind)
		}
	}
	return kinds, true, nil
}

func publish(m *queue.Manager, subject string, data []byte) {
	if m == nil {
		return
	}
	if err := m.Publish(subject, data); err != nil {
		log.Printf("syncengine: failed to publish %s: %v", subject, err)
	}
}
