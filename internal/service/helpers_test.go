package service

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"traffic-anpr-service/internal/config"
	"traffic-anpr-service/internal/db"
	"traffic-anpr-service/internal/domain/anpr"
	"traffic-anpr-service/internal/repository"
	"traffic-anpr-service/internal/storage"
)

const (
	testBlobDir = "/blobs"
	testBlobURL = "http://blobs.test"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Migrate(gdb))
	return gdb
}

type testEnv struct {
	db      *gorm.DB
	repo    *repository.ANPRRepository
	fs      afero.Fs
	mock    *httpmock.MockTransport
	cameras *CameraCache
	ingest  *IngestService
	anpr    *ANPRService
}

func newTestEnv(t *testing.T, policy string) *testEnv {
	t.Helper()

	gdb := newTestDB(t)
	repo := repository.NewANPRRepository(gdb)
	fs := afero.NewMemMapFs()
	mock := httpmock.NewMockTransport()
	log := zerolog.Nop()

	store := storage.NewLocalStoreWithFs(fs, testBlobDir, testBlobURL)
	archiver := NewImageArchiver(store, &http.Client{Transport: mock}, config.StorageConfig{MaxImageSize: 1 << 20}, nil, log)
	cameras := NewCameraCache(time.Minute)

	return &testEnv{
		db:      gdb,
		repo:    repo,
		fs:      fs,
		mock:    mock,
		cameras: cameras,
		ingest: NewIngestService(repo, archiver,
			NewVehicleReconciler(policy, log), NewVisitRecorder(cameras, log), nil, log),
		anpr: NewANPRService(repo, cameras, log),
	}
}

func newFillEnv(t *testing.T) *testEnv {
	return newTestEnv(t, config.AttributePolicyFill)
}

// detectionJSON renders one Plate Recognizer result. An empty make leaves
// model_make out entirely.
func detectionJSON(plate, vehicleMake, model string) string {
	mm := ""
	if vehicleMake != "" {
		mm = fmt.Sprintf(`"model_make": [{"make": %q, "model": %q, "score": 0.9}],`, vehicleMake, model)
	}
	return fmt.Sprintf(`{
		"plate": %q,
		"score": 0.95,
		"region": {"code": "sa", "score": 0.9},
		"vehicle": {"type": "Sedan", "score": 0.9},
		%s
		"color": [{"color": "white", "score": 0.8}],
		"orientation": [{"orientation": "Front", "score": 0.9}],
		"direction": [{"direction": "North", "score": 0.8}],
		"box": {"xmin": 1, "ymin": 2, "xmax": 3, "ymax": 4}
	}`, plate, mm)
}

func webhookPayload(t *testing.T, cameraID string, detections ...string) anpr.WebhookPayload {
	t.Helper()
	results := "[]"
	if len(detections) > 0 {
		results = "["
		for i, d := range detections {
			if i > 0 {
				results += ","
			}
			results += d
		}
		results += "]"
	}

	body := fmt.Sprintf(`{
		"processing_time": 88.5,
		"results": %s,
		"filename": "gate.jpg",
		"version": 1,
		"camera_id": %q,
		"timestamp": "2025-01-28T19:30:00.000Z"
	}`, results, cameraID)

	var p anpr.WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(body), &p))
	return p
}

func countRows(t *testing.T, gdb *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, gdb.Model(model).Count(&n).Error)
	return n
}

func loadVehicle(t *testing.T, gdb *gorm.DB, plate string) repository.Vehicle {
	t.Helper()
	var v repository.Vehicle
	require.NoError(t, gdb.Where("plate_number = ?", plate).First(&v).Error)
	return v
}
