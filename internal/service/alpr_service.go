package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"traffic-anpr-service/internal/domain/anpr"
	"traffic-anpr-service/internal/metrics"
	"traffic-anpr-service/internal/platerecognizer"
)

type Recognizer interface {
	Recognize(ctx context.Context, up platerecognizer.Upload) (*platerecognizer.Recognition, error)
	Statistics(ctx context.Context) (*platerecognizer.Statistics, error)
}

type RecognizeInput struct {
	// Image is base64, optionally as a data URI.
	Image    string `json:"image"`
	ImageURL string `json:"image_url" binding:"omitempty,url"`
	CameraID string `json:"camera_id"`
	// Save feeds the recognition through ingestion as a manual visit.
	Save bool `json:"save"`
}

type RecognizeResult struct {
	Recognition *platerecognizer.Recognition `json:"recognition"`
	Ingest      *anpr.IngestResult           `json:"ingest,omitempty"`
}

// ALPRService calls the recognition provider on demand.
type ALPRService struct {
	client  Recognizer
	ingest  *IngestService
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func NewALPRService(client Recognizer, ingest *IngestService, m *metrics.Metrics, log zerolog.Logger) *ALPRService {
	return &ALPRService{
		client:  client,
		ingest:  ingest,
		metrics: m,
		log:     log.With().Str("component", "alpr").Logger(),
		now:     time.Now,
	}
}

func (s *ALPRService) Recognize(ctx context.Context, in RecognizeInput) (*RecognizeResult, error) {
	upload := platerecognizer.Upload{URL: in.ImageURL, CameraID: in.CameraID}
	switch {
	case in.Image != "":
		data, err := decodeBase64Image(in.Image)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		upload.Image = data
		upload.URL = ""
	case in.ImageURL == "":
		return nil, fmt.Errorf("%w: image or image_url is required", ErrInvalidInput)
	}

	rec, err := s.client.Recognize(ctx, upload)
	s.metrics.RecordALPRRequest("recognize", err)
	if err != nil {
		s.log.Error().Err(err).Str("camera_id", in.CameraID).Msg("plate recognition failed")
		return nil, upstreamError(err)
	}

	result := &RecognizeResult{Recognition: rec}
	if !in.Save {
		return result, nil
	}

	payload := anpr.WebhookPayload{
		Results:        rec.Results,
		Timestamp:      s.recognitionTime(rec).Format(time.RFC3339Nano),
		CameraID:       in.CameraID,
		Filename:       rec.Filename,
		ProcessingTime: &rec.ProcessingTime,
		Version:        rec.Version,
		Provider:       anpr.ProviderManual,
	}
	if payload.Results == nil {
		payload.Results = []anpr.Detection{}
	}
	if upload.Image != nil {
		payload.Image = in.Image
	} else {
		payload.ImageURL = in.ImageURL
	}

	result.Ingest, err = s.ingest.Ingest(ctx, payload)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *ALPRService) Statistics(ctx context.Context) (*platerecognizer.Statistics, error) {
	stats, err := s.client.Statistics(ctx)
	s.metrics.RecordALPRRequest("statistics", err)
	if err != nil {
		return nil, upstreamError(err)
	}
	return stats, nil
}

func upstreamError(err error) error {
	if errors.Is(err, errors.ErrUnsupported) {
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}

func (s *ALPRService) recognitionTime(rec *platerecognizer.Recognition) time.Time {
	if t, err := anpr.ParseTimestamp(rec.Timestamp); err == nil {
		return t
	}
	return s.now().UTC()
}
