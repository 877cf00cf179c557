package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/smahud/traffic-buster/internal/api"
	"github.com/smahud/traffic-buster/internal/audit"
	"github.com/smahud/traffic-buster/internal/automation"
	"github.com/smahud/traffic-buster/internal/dataset"
	"github.com/smahud/traffic-buster/internal/events"
	"github.com/smahud/traffic-buster/internal/history"
	"github.com/smahud/traffic-buster/internal/job"
	"github.com/smahud/traffic-buster/internal/license"
	"github.com/smahud/traffic-buster/internal/proxytest"
	"github.com/smahud/traffic-buster/internal/ratelimit"
	"github.com/smahud/traffic-buster/internal/schedule"
	"github.com/smahud/traffic-buster/pkg/models"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	log.Println("Starting Traffic Buster...")

	storageDir := envOr("STORAGE_DIR", "./storage")
	usersDir := filepath.Join(storageDir, "users")

	// Initialize dataset store
	datasets, err := dataset.NewStore(usersDir)
	if err != nil {
		log.Fatalf("Failed to create dataset store: %v", err)
	}
	log.Println("✓ Dataset store initialized")

	// Initialize history recorder
	recorder, err := history.NewFileRecorder(filepath.Join(storageDir, "history.json"))
	if err != nil {
		log.Fatalf("Failed to create history recorder: %v", err)
	}
	log.Printf("✓ History recorder initialized (%d stale entries removed)", recorder.Cleanup(time.Now()))

	// Initialize audit trail
	trail, err := audit.NewTrail(usersDir)
	if err != nil {
		log.Fatalf("Failed to create audit trail: %v", err)
	}
	log.Println("✓ Audit trail initialized")

	// Initialize websocket event hub
	hub := events.NewHub()
	defer hub.Close()
	log.Println("✓ Event hub initialized")

	// Pick the flow runner: a docker-backed browser unless simulator mode
	// is requested.
	var runner automation.Runner
	if envOr("ENGINE", "browser") == "simulator" {
		runner = &automation.Simulator{SpeedFactor: envFloat("SIMULATOR_SPEED", 1)}
		log.Println("✓ Simulator engine selected")
	} else {
		browser, err := automation.NewBrowserless(os.Getenv("BROWSER_IMAGE"))
		if err != nil {
			log.Fatalf("Failed to create browser engine: %v", err)
		}
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer closeCancel()
			if err := browser.Close(closeCtx); err != nil {
				log.Printf("Browser engine shutdown: %v", err)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		log.Println("⏳ Ensuring browser image is available...")
		if err := browser.EnsureImage(ctx); err != nil {
			cancel()
			log.Fatalf("Failed to ensure browser image: %v", err)
		}
		cancel()
		runner = browser
		log.Println("✓ Browser engine ready")
	}

	// Initialize job manager
	jobs := job.NewManager(job.ManagerConfig{
		Deps: job.Deps{
			Datasets: datasets,
			Recorder: recorder,
			Sink:     hub,
			Runner:   runner,
		},
	})
	log.Println("✓ Job manager initialized")

	// Per-user license overrides, shared by the API layer and the
	// scheduler so both derive the same matrix.
	resolveOverrides := func(userID string) *license.Overrides {
		return license.LoadOverrides(usersDir, userID)
	}

	// Initialize scheduler
	scheduler, err := schedule.NewScheduler(usersDir, func(userID string, lic license.License, refs models.DatasetRefs) {
		matrix := license.Derive(lic, resolveOverrides(userID))
		if !matrix.AllowScheduler {
			log.Printf("Scheduled job for user %s skipped: scheduler disabled by license", userID)
			return
		}
		if _, err := jobs.CreateJob(context.Background(), userID, matrix, refs); err != nil {
			log.Printf("Scheduled job for user %s failed to start: %v", userID, err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()
	log.Println("✓ Scheduler started")

	// Initialize rate limiter (120 requests/minute, burst of 20)
	rateLimiter := ratelimit.NewLimiter(120, 20)
	log.Println("✓ Rate limiter initialized (120 req/min per user)")

	// Setup HTTP handlers
	handler := api.NewHandler(api.HandlerConfig{
		Jobs:      jobs,
		Datasets:  datasets,
		Histories: recorder,
		Schedules: scheduler,
		Hub:       hub,
		Tester:    proxytest.NewTester(),
		Trail:     trail,
		Overrides: resolveOverrides,
	})
	router := handler.SetupRoutes(rateLimiter)
	log.Println("✓ HTTP routes configured")

	addr := ":" + envOr("PORT", "8080")
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		log.Printf("🚀 Server starting on http://localhost%s", addr)
		log.Printf("📍 API endpoints available at http://localhost%s/v1", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("\n⏳ Shutting down server gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	jobs.Shutdown(ctx)
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("✅ Server stopped cleanly")
}
