package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"traffic-anpr-service/internal/domain/anpr"
	"traffic-anpr-service/internal/metrics"
	"traffic-anpr-service/internal/repository"
	"traffic-anpr-service/internal/storage"
	"traffic-anpr-service/internal/utils"
)

// IngestService runs webhook deliveries through the reconciliation pipeline.
type IngestService struct {
	repo       *repository.ANPRRepository
	archiver   *ImageArchiver
	reconciler *VehicleReconciler
	recorder   *VisitRecorder
	metrics    *metrics.Metrics
	log        zerolog.Logger
	now        func() time.Time
}

func NewIngestService(
	repo *repository.ANPRRepository,
	archiver *ImageArchiver,
	reconciler *VehicleReconciler,
	recorder *VisitRecorder,
	m *metrics.Metrics,
	log zerolog.Logger,
) *IngestService {
	return &IngestService{
		repo:       repo,
		archiver:   archiver,
		reconciler: reconciler,
		recorder:   recorder,
		metrics:    m,
		log:        log.With().Str("component", "ingest").Logger(),
		now:        time.Now,
	}
}

// deliveryImages are archived once per delivery and shared by its detections.
type deliveryImages struct {
	vehicle *storage.Object
	plate   *storage.Object
}

// Ingest validates the payload and processes each detection independently.
// A failing detection is reported in the result and does not stop the rest.
func (s *IngestService) Ingest(ctx context.Context, payload anpr.WebhookPayload) (*anpr.IngestResult, error) {
	start := s.now()
	if payload.Provider == "" {
		payload.Provider = anpr.ProviderPlateRecognizer
	}

	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	capturedAt, err := anpr.ParseTimestamp(payload.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	result := &anpr.IngestResult{
		Success:   true,
		Processed: len(payload.Results),
		Results:   make([]anpr.DetectionOutcome, 0, len(payload.Results)),
	}

	var images *deliveryImages
	for i := range payload.Results {
		d := &payload.Results[i]
		eventID := detectionEventID(payload.ProviderEventID, i, len(payload.Results))

		var outcome anpr.DetectionOutcome
		if s.alreadyRecorded(ctx, payload.Provider, eventID) {
			outcome = anpr.DetectionOutcome{Plate: utils.NormalizePlate(d.Plate), Status: anpr.OutcomeDuplicate}
			s.log.Info().Str("plate", outcome.Plate).Str("event_id", eventID).Msg("duplicate event ignored")
		} else {
			if images == nil {
				images = s.archiveImages(ctx, payload)
			}
			outcome = s.processDetection(ctx, payload, d, eventID, capturedAt, images)
		}

		switch outcome.Status {
		case anpr.OutcomeRecorded:
			result.Succeeded++
		case anpr.OutcomeDuplicate:
			result.Duplicates++
		case anpr.OutcomeFailed:
			result.Failed++
		}
		s.metrics.RecordDetection(string(payload.Provider), string(outcome.Status))
		result.Results = append(result.Results, outcome)
	}

	result.Timestamp = s.now()
	s.metrics.ObserveIngest(string(payload.Provider), result.Timestamp.Sub(start))

	s.log.Info().
		Str("provider", string(payload.Provider)).
		Str("camera_id", payload.CameraID).
		Int("processed", result.Processed).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Int("duplicates", result.Duplicates).
		Msg("webhook ingested")

	return result, nil
}

func (s *IngestService) processDetection(
	ctx context.Context,
	payload anpr.WebhookPayload,
	d *anpr.Detection,
	eventID string,
	capturedAt time.Time,
	images *deliveryImages,
) anpr.DetectionOutcome {
	plate := utils.NormalizePlate(d.Plate)
	outcome := anpr.DetectionOutcome{Plate: plate}

	if plate == "" {
		return s.failed(outcome, d.Plate, fmt.Errorf("%w: plate is empty after normalization", ErrInvalidInput))
	}

	attrs := d.Attributes()
	var score float64
	if d.Score != nil {
		score = *d.Score
	}

	var (
		vehicle *repository.Vehicle
		visit   *repository.Visit
		created bool
	)
	err := s.repo.Transaction(ctx, func(tx *repository.ANPRRepository) error {
		var err error
		vehicle, created, err = s.reconciler.Reconcile(ctx, tx, plate, attrs, images.vehicle)
		if err != nil {
			return err
		}

		visit, err = s.recorder.Record(ctx, tx, RecordInput{
			VehicleID:       vehicle.ID,
			Plate:           plate,
			CameraCode:      payload.CameraID,
			VisitType:       d.VisitType,
			Score:           score,
			Region:          d.RegionCode(),
			Image:           images.vehicle,
			PlateImage:      images.plate,
			Timestamp:       capturedAt,
			Provider:        payload.Provider,
			ProviderEventID: eventID,
			Metadata: anpr.VisitMetadata{
				VehicleType:    attrs.VehicleType,
				VehicleMake:    attrs.Make,
				VehicleModel:   attrs.Model,
				VehicleColor:   attrs.Color,
				Orientation:    attrs.Orientation,
				Direction:      attrs.Direction,
				ProcessingTime: payload.ProcessingTime,
				Source:         payload.Provider,
				Filename:       payload.Filename,
				RawData:        d.Raw,
			},
		})
		return err
	})
	if errors.Is(err, ErrDuplicateEvent) {
		outcome.Status = anpr.OutcomeDuplicate
		s.log.Info().Str("plate", plate).Str("event_id", eventID).Msg("duplicate event ignored")
		return outcome
	}
	if err != nil {
		return s.failed(outcome, d.Plate, err)
	}

	outcome.Status = anpr.OutcomeRecorded
	outcome.VehicleID = vehicle.ID
	outcome.VisitID = visit.ID
	outcome.Created = created
	outcome.TagHits = s.tagHits(ctx, vehicle.ID, plate)

	s.log.Info().
		Int64("visit_id", visit.ID).
		Int64("vehicle_id", vehicle.ID).
		Str("plate", plate).
		Str("raw_plate", d.Plate).
		Str("visit_type", visit.VisitType).
		Int("confidence", visit.Confidence).
		Int64("visit_count", vehicle.VisitCount).
		Bool("created", created).
		Msg("saved visit to database")

	return outcome
}

func (s *IngestService) failed(outcome anpr.DetectionOutcome, rawPlate string, err error) anpr.DetectionOutcome {
	s.log.Error().
		Err(err).
		Str("plate", outcome.Plate).
		Str("raw_plate", rawPlate).
		Msg("failed to process detection")
	outcome.Status = anpr.OutcomeFailed
	outcome.Error = err.Error()
	return outcome
}

func (s *IngestService) archiveImages(ctx context.Context, payload anpr.WebhookPayload) *deliveryImages {
	return &deliveryImages{
		vehicle: s.archiver.TryArchive(ctx, ImageSource{URL: payload.ImageURL, Base64: payload.Image}, PrefixVisits),
		plate:   s.archiver.TryArchive(ctx, ImageSource{URL: payload.PlateImageURL, Base64: payload.PlateImage}, PrefixPlates),
	}
}

// alreadyRecorded lets replays skip image archiving. The unique index on
// visits still decides.
func (s *IngestService) alreadyRecorded(ctx context.Context, provider anpr.Provider, eventID string) bool {
	if eventID == "" {
		return false
	}
	exists, err := s.repo.VisitExistsForEvent(ctx, string(provider), eventID)
	if err != nil {
		s.log.Warn().Err(err).Str("event_id", eventID).Msg("failed to check event replay")
		return false
	}
	return exists
}

func (s *IngestService) tagHits(ctx context.Context, vehicleID int64, plate string) []anpr.TagHit {
	hits, err := s.repo.FindTagsForVehicle(ctx, vehicleID)
	if err != nil {
		s.log.Error().
			Err(err).
			Int64("vehicle_id", vehicleID).
			Msg("failed to find tags for vehicle")
		return nil
	}

	if len(hits) > 0 {
		s.log.Info().
			Int64("vehicle_id", vehicleID).
			Str("plate", plate).
			Int("hits_count", len(hits)).
			Msg("vehicle found in watch lists")
		for _, hit := range hits {
			s.log.Debug().
				Int64("tag_id", hit.TagID).
				Str("tag_name", hit.TagName).
				Str("category", hit.Category).
				Msg("tag hit")
		}
	}
	return hits
}

// detectionEventID scopes a delivery id to one detection when a delivery
// carries several.
func detectionEventID(deliveryID string, index, total int) string {
	if deliveryID == "" || total <= 1 {
		return deliveryID
	}
	return fmt.Sprintf("%s#%d", deliveryID, index)
}
