// Package rekognition reads plates with AWS Rekognition text detection.
package rekognition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/rs/zerolog"

	"traffic-anpr-service/internal/config"
	"traffic-anpr-service/internal/domain/anpr"
	"traffic-anpr-service/internal/platerecognizer"
	"traffic-anpr-service/internal/utils"
)

type textDetector interface {
	DetectText(ctx context.Context, params *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error)
}

// Client returns results in the Plate Recognizer shape so both backends
// feed the same ingestion path.
type Client struct {
	api           textDetector
	pattern       *regexp.Regexp
	minConfidence float32
	log           zerolog.Logger
}

func NewClient(ctx context.Context, cfg config.RekognitionConfig, log zerolog.Logger) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return newClient(rekognition.NewFromConfig(awsCfg), cfg, log)
}

func newClient(api textDetector, cfg config.RekognitionConfig, log zerolog.Logger) (*Client, error) {
	pattern, err := regexp.Compile(cfg.PlatePattern)
	if err != nil {
		return nil, fmt.Errorf("rekognition: invalid plate pattern: %w", err)
	}
	return &Client{
		api:           api,
		pattern:       pattern,
		minConfidence: float32(cfg.MinConfidence),
		log:           log.With().Str("component", "rekognition").Logger(),
	}, nil
}

// Recognize needs the image bytes; Rekognition cannot fetch arbitrary URLs.
func (c *Client) Recognize(ctx context.Context, up platerecognizer.Upload) (*platerecognizer.Recognition, error) {
	if len(up.Image) == 0 {
		return nil, fmt.Errorf("rekognition: image bytes are required: %w", errors.ErrUnsupported)
	}

	start := time.Now()
	out, err := c.api.DetectText(ctx, &rekognition.DetectTextInput{
		Image: &types.Image{Bytes: up.Image},
	})
	if err != nil {
		return nil, fmt.Errorf("rekognition: detect text: %w", err)
	}
	elapsed := time.Since(start)

	rec := &platerecognizer.Recognition{
		ProcessingTime: float64(elapsed.Microseconds()) / 1000,
		Results:        c.plates(out.TextDetections),
		Version:        1,
		Timestamp:      start.UTC().Format(time.RFC3339Nano),
	}
	if up.CameraID != "" {
		rec.CameraID = aws.String(up.CameraID)
	}

	c.log.Debug().
		Int("lines", len(out.TextDetections)).
		Int("results", len(rec.Results)).
		Dur("elapsed", elapsed).
		Msg("plate recognized")
	return rec, nil
}

// Statistics has no Rekognition counterpart.
func (c *Client) Statistics(context.Context) (*platerecognizer.Statistics, error) {
	return nil, fmt.Errorf("rekognition: usage statistics: %w", errors.ErrUnsupported)
}

type rawLine struct {
	Text       string             `json:"text"`
	Confidence float32            `json:"confidence"`
	Box        *types.BoundingBox `json:"box,omitempty"`
}

// plates keeps text lines that look like a plate once normalized. Repeated
// reads of the same plate collapse to the most confident one.
func (c *Client) plates(texts []types.TextDetection) []anpr.Detection {
	results := []anpr.Detection{}
	seen := make(map[string]int)

	for _, t := range texts {
		if t.Type != types.TextTypesLine || t.DetectedText == nil || t.Confidence == nil {
			continue
		}
		if *t.Confidence < c.minConfidence {
			continue
		}
		plate := utils.NormalizePlate(*t.DetectedText)
		if !c.pattern.MatchString(plate) {
			continue
		}

		score := float64(*t.Confidence) / 100
		if i, ok := seen[plate]; ok {
			if score > *results[i].Score {
				results[i].Score = &score
			}
			continue
		}

		d := anpr.Detection{Plate: plate, Score: &score}
		line := rawLine{Text: *t.DetectedText, Confidence: *t.Confidence}
		if t.Geometry != nil {
			line.Box = t.Geometry.BoundingBox
		}
		if raw, err := json.Marshal(line); err == nil {
			d.Raw = raw
		}
		seen[plate] = len(results)
		results = append(results, d)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return *results[i].Score > *results[j].Score
	})
	return results
}
