package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"traffic-anpr-service/internal/domain/anpr"
	"traffic-anpr-service/internal/repository"
	"traffic-anpr-service/internal/storage"
)

type CameraLookup interface {
	FindCameraByCode(ctx context.Context, code string) (*repository.Camera, error)
}

// CameraCache memoizes camera lookups by code, including misses. A nil
// cache, or one built with a ttl of zero or less, always hits the lookup.
type CameraCache struct {
	c *cache.Cache
}

func NewCameraCache(ttl time.Duration) *CameraCache {
	if ttl <= 0 {
		return &CameraCache{}
	}
	return &CameraCache{c: cache.New(ttl, 2*ttl)}
}

func (cc *CameraCache) Resolve(ctx context.Context, lookup CameraLookup, code string) (*repository.Camera, error) {
	if cc == nil || cc.c == nil {
		return lookup.FindCameraByCode(ctx, code)
	}
	if cached, ok := cc.c.Get(code); ok {
		return cached.(*repository.Camera), nil
	}
	camera, err := lookup.FindCameraByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	cc.c.SetDefault(code, camera)
	return camera, nil
}

func (cc *CameraCache) Forget(code string) {
	if cc == nil || cc.c == nil {
		return
	}
	cc.c.Delete(code)
}

// RecordInput is everything needed to write one visit row.
type RecordInput struct {
	VehicleID       int64
	Plate           string
	CameraCode      string
	VisitType       anpr.VisitType
	Score           float64
	Region          string
	Image           *storage.Object
	PlateImage      *storage.Object
	Timestamp       time.Time
	Provider        anpr.Provider
	ProviderEventID string
	Metadata        anpr.VisitMetadata
}

type VisitRecorder struct {
	cameras *CameraCache
	log     zerolog.Logger
}

func NewVisitRecorder(cameras *CameraCache, log zerolog.Logger) *VisitRecorder {
	return &VisitRecorder{
		cameras: cameras,
		log:     log.With().Str("component", "recorder").Logger(),
	}
}

// Record inserts exactly one visit through tx. A replayed provider event
// yields ErrDuplicateEvent.
func (r *VisitRecorder) Record(ctx context.Context, tx *repository.ANPRRepository, in RecordInput) (*repository.Visit, error) {
	meta, err := json.Marshal(in.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode visit metadata: %w", err)
	}

	visit := &repository.Visit{
		PlateNumber: in.Plate,
		VisitType:   string(anpr.InferVisitType(in.VisitType, in.Metadata.Orientation)),
		Confidence:  anpr.ConfidencePercent(in.Score),
		Timestamp:   in.Timestamp,
		Provider:    string(in.Provider),
		Metadata:    datatypes.JSON(meta),
	}
	if in.VehicleID != 0 {
		visit.VehicleID = &in.VehicleID
	}
	if in.Region != "" {
		visit.Region = strPtr(in.Region)
	}
	if in.ProviderEventID != "" {
		visit.ProviderEventID = strPtr(in.ProviderEventID)
	}
	if in.Image != nil {
		visit.ImageURL = strPtr(in.Image.URL)
		visit.ImageKey = strPtr(in.Image.Key)
	}
	if in.PlateImage != nil {
		visit.PlateImageURL = strPtr(in.PlateImage.URL)
		visit.PlateImageKey = strPtr(in.PlateImage.Key)
	}

	if in.CameraCode != "" {
		visit.CameraCode = strPtr(in.CameraCode)
		camera, err := r.cameras.Resolve(ctx, tx, in.CameraCode)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve camera: %w", err)
		}
		if camera != nil {
			visit.CameraID = &camera.ID
		} else {
			r.log.Debug().Str("camera_code", in.CameraCode).Msg("unknown camera code")
		}
	}

	if err := tx.CreateVisit(ctx, visit); err != nil {
		if errors.Is(err, repository.ErrDuplicateVisit) {
			return nil, fmt.Errorf("%w: %s %s", ErrDuplicateEvent, in.Provider, in.ProviderEventID)
		}
		return nil, fmt.Errorf("failed to create visit: %w", err)
	}

	return visit, nil
}
