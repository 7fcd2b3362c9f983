package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"traffic-anpr-service/internal/repository"
	"traffic-anpr-service/internal/utils"
)

// ANPRService answers read queries over vehicles and visits and manages the
// camera registry.
type ANPRService struct {
	repo    *repository.ANPRRepository
	cameras *CameraCache
	log     zerolog.Logger
}

func NewANPRService(repo *repository.ANPRRepository, cameras *CameraCache, log zerolog.Logger) *ANPRService {
	return &ANPRService{
		repo:    repo,
		cameras: cameras,
		log:     log,
	}
}

func (s *ANPRService) FindVehicles(ctx context.Context, plateQuery string) ([]VehicleInfo, error) {
	normalized := utils.NormalizePlate(plateQuery)
	if normalized == "" {
		return nil, fmt.Errorf("%w: plate query cannot be empty", ErrInvalidInput)
	}

	vehicles, err := s.repo.FindVehiclesByPlate(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to find vehicles: %w", err)
	}

	result := make([]VehicleInfo, 0, len(vehicles))
	for _, v := range vehicles {
		lastVisit, err := s.repo.GetLastVisitTimeForVehicle(ctx, v.ID)
		if err != nil {
			s.log.Warn().Err(err).Int64("vehicle_id", v.ID).Msg("failed to load last visit time")
		}
		result = append(result, VehicleInfo{
			ID:              v.ID,
			PlateNumber:     v.PlateNumber,
			OwnerName:       v.OwnerName,
			OwnerType:       v.OwnerType,
			Make:            v.Make,
			Model:           v.Model,
			Color:           v.Color,
			VehicleType:     v.VehicleType,
			Status:          v.Status,
			VisitCount:      v.VisitCount,
			ViolationsCount: v.ViolationsCount,
			VehicleImageURL: v.VehicleImageURL,
			LastVisitTime:   lastVisit,
		})
	}

	return result, nil
}

// VisitQuery narrows the visit log. Nil fields do not filter.
type VisitQuery struct {
	Plate      *string
	VehicleID  *int64
	CameraID   *int64
	CameraCode *string
	From       *string
	To         *string
	Limit      int
	Offset     int
}

func (s *ANPRService) FindVisits(ctx context.Context, q VisitQuery) ([]VisitInfo, error) {
	filter := repository.VisitFilter{
		VehicleID: q.VehicleID,
		CameraID:  q.CameraID,
	}

	if q.Plate != nil {
		normalized := utils.NormalizePlate(*q.Plate)
		if normalized != "" {
			filter.PlateNumber = &normalized
		}
	}
	if q.CameraCode != nil {
		if code := strings.TrimSpace(*q.CameraCode); code != "" {
			filter.CameraCode = &code
		}
	}

	if q.From != nil && *q.From != "" {
		t, err := time.Parse(time.RFC3339, *q.From)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid from time format", ErrInvalidInput)
		}
		filter.From = &t
	}
	if q.To != nil && *q.To != "" {
		t, err := time.Parse(time.RFC3339, *q.To)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid to time format", ErrInvalidInput)
		}
		filter.To = &t
	}

	limit, offset := q.Limit, q.Offset
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	filter.Limit = limit
	filter.Offset = offset

	visits, err := s.repo.FindVisits(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find visits: %w", err)
	}

	result := make([]VisitInfo, 0, len(visits))
	for _, v := range visits {
		result = append(result, VisitInfo{
			ID:              v.ID,
			VehicleID:       v.VehicleID,
			CameraID:        v.CameraID,
			CameraCode:      v.CameraCode,
			PlateNumber:     v.PlateNumber,
			VisitType:       v.VisitType,
			Confidence:      v.Confidence,
			Region:          v.Region,
			ImageURL:        v.ImageURL,
			PlateImageURL:   v.PlateImageURL,
			Provider:        v.Provider,
			ProviderEventID: v.ProviderEventID,
			Metadata:        json.RawMessage(v.Metadata),
			Timestamp:       v.Timestamp,
		})
	}

	return result, nil
}

type CameraInput struct {
	Code     string  `json:"code" binding:"required,max=50"`
	Name     string  `json:"name" binding:"required,max=255"`
	Type     string  `json:"type" binding:"required,oneof=entrance exit both"`
	Location *string `json:"location,omitempty" binding:"omitempty,max=255"`
}

func (s *ANPRService) CreateCamera(ctx context.Context, in CameraInput) (*repository.Camera, error) {
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidInput)
	}

	camera := &repository.Camera{
		Code:     code,
		Name:     strings.TrimSpace(in.Name),
		Type:     in.Type,
		Location: in.Location,
		Status:   statusActive,
	}
	if err := s.repo.CreateCamera(ctx, camera); err != nil {
		if errors.Is(err, repository.ErrDuplicateCamera) {
			return nil, fmt.Errorf("%w: camera %s already exists", ErrInvalidInput, code)
		}
		return nil, fmt.Errorf("failed to create camera: %w", err)
	}
	s.cameras.Forget(code)

	s.log.Info().Int64("camera_id", camera.ID).Str("code", code).Msg("camera registered")
	return camera, nil
}

func (s *ANPRService) ListCameras(ctx context.Context) ([]repository.Camera, error) {
	cameras, err := s.repo.ListCameras(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	return cameras, nil
}

type VehicleInfo struct {
	ID              int64      `json:"id"`
	PlateNumber     string     `json:"plate_number"`
	OwnerName       string     `json:"owner_name"`
	OwnerType       string     `json:"owner_type"`
	Make            *string    `json:"make,omitempty"`
	Model           *string    `json:"model,omitempty"`
	Color           *string    `json:"color,omitempty"`
	VehicleType     string     `json:"vehicle_type"`
	Status          string     `json:"status"`
	VisitCount      int64      `json:"visit_count"`
	ViolationsCount int64      `json:"violations_count"`
	VehicleImageURL *string    `json:"vehicle_image_url,omitempty"`
	LastVisitTime   *time.Time `json:"last_visit_time,omitempty"`
}

type VisitInfo struct {
	ID              int64           `json:"id"`
	VehicleID       *int64          `json:"vehicle_id,omitempty"`
	CameraID        *int64          `json:"camera_id,omitempty"`
	CameraCode      *string         `json:"camera_code,omitempty"`
	PlateNumber     string          `json:"plate_number"`
	VisitType       string          `json:"visit_type"`
	Confidence      int             `json:"confidence"`
	Region          *string         `json:"region,omitempty"`
	ImageURL        *string         `json:"image_url,omitempty"`
	PlateImageURL   *string         `json:"plate_image_url,omitempty"`
	Provider        string          `json:"provider"`
	ProviderEventID *string         `json:"provider_event_id,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}
