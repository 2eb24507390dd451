package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	httpapi "github.com/servicoscor/dashboard-radares/internal/api/http"
	"github.com/servicoscor/dashboard-radares/internal/config"
	"github.com/servicoscor/dashboard-radares/internal/imaging"
	"github.com/servicoscor/dashboard-radares/internal/radar"
	"github.com/servicoscor/dashboard-radares/internal/radar/fetchers"
	"github.com/servicoscor/dashboard-radares/internal/scheduler"
	"github.com/servicoscor/dashboard-radares/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// On-disk frame cache, one directory per source.
	diskStore, err := store.NewDiskStore(cfg.CacheDir)
	if err != nil {
		log.Fatalf("failed to open cache: %v", err)
	}
	log.Printf("cache root %s, exports in %s", diskStore.Root(), diskStore.ExportDir())

	// Shared HTTP client for the full-refresh source.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	ftpFetcher, err := fetchers.NewFTPFetcher(cfg.FTP)
	if err != nil {
		log.Fatalf("failed to configure ftp: %v", err)
	}
	if !cfg.FTP.Configured() {
		log.Printf("INFO: FTP_HOST/FTP_USER not set; %s sync will fail until configured", radar.SourceMendanha)
	}

	fetcherList := []radar.Fetcher{
		ftpFetcher,
		fetchers.NewAlertaRioFetcher(httpClient, cfg.SumareBaseURL),
	}

	service := radar.NewService(diskStore, fetcherList, radar.NewSyncState(), cfg.FrameLocation)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background sync loop; the only writer of the source caches.
	sched := scheduler.New(scheduler.Config{
		Interval:     cfg.SyncInterval,
		StepTimeout:  cfg.SyncTimeout,
		CacheMaxAge:  cfg.CacheMaxAge,
		ExportMaxAge: cfg.ExportMaxAge,
	}, service, diskStore)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	if cfg.AdminToken == "" {
		log.Printf("INFO: ADMIN_TOKEN not set; admin routes are disabled")
	}

	app := fiber.New(fiber.Config{
		AppName:               "dashboard-radares",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "dashboard-radares",
		})
	})

	httpapi.RegisterRoutes(app, httpapi.Deps{
		Service:       service,
		Store:         diskStore,
		Exporter:      imaging.NewExporter(diskStore),
		Limiter:       cfg.RateLimiter(),
		AdminToken:    cfg.AdminToken,
		FTPConfigured: cfg.FTP.Configured(),
		SyncTimeout:   cfg.SyncTimeout,
		CacheMaxAge:   cfg.CacheMaxAge,
		ExportMaxAge:  cfg.ExportMaxAge,
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
