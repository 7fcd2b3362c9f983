package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"traffic-anpr-service/internal/config"
	"traffic-anpr-service/internal/db"
	httpapi "traffic-anpr-service/internal/http"
	"traffic-anpr-service/internal/logger"
	"traffic-anpr-service/internal/metrics"
	"traffic-anpr-service/internal/platerecognizer"
	"traffic-anpr-service/internal/rekognition"
	"traffic-anpr-service/internal/repository"
	"traffic-anpr-service/internal/service"
	"traffic-anpr-service/internal/storage"
)

func serveCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and webhook receiver",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			log := logger.New(cfg.Log)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, log)
		},
	}
}

func migrateCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			log := logger.New(cfg.Log)

			gdb, err := db.Open(cfg.DB, log)
			if err != nil {
				return err
			}
			defer closeDB(gdb, log)

			if err := db.Migrate(gdb); err != nil {
				return err
			}
			log.Info().Str("driver", cfg.DB.Driver).Msg("migrations applied")
			return nil
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	gdb, err := db.Open(cfg.DB, log)
	if err != nil {
		return err
	}
	defer closeDB(gdb, log)

	if cfg.DB.AutoMigrate {
		if err := db.Migrate(gdb); err != nil {
			return err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	var blobs http.FileSystem
	if local, ok := store.(*storage.LocalStore); ok {
		blobs = local.FileSystem()
	}

	repo := repository.NewANPRRepository(gdb)
	cameras := service.NewCameraCache(cfg.Ingest.CameraCacheTTL)
	archiver := service.NewImageArchiver(store, nil, cfg.Storage, m, log)
	ingest := service.NewIngestService(repo, archiver,
		service.NewVehicleReconciler(cfg.Ingest.AttributePolicy, log),
		service.NewVisitRecorder(cameras, log),
		m, log)
	recognizer, err := newRecognizer(ctx, cfg, log)
	if err != nil {
		return err
	}
	alpr := service.NewALPRService(recognizer, ingest, m, log)

	handler := httpapi.NewHandler(ingest, service.NewANPRService(repo, cameras, log), alpr, m, log)
	router := httpapi.NewRouter(cfg, handler, m, blobs, log)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Environment).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

func newRecognizer(ctx context.Context, cfg *config.Config, log zerolog.Logger) (service.Recognizer, error) {
	if cfg.Recognizer.Backend == config.RecognizerRekognition {
		return rekognition.NewClient(ctx, cfg.Rekognition, log)
	}
	return platerecognizer.NewClient(cfg.PlateRecognizer, nil, log), nil
}

func closeDB(gdb *gorm.DB, log zerolog.Logger) {
	sqlDB, err := gdb.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close database")
	}
}
