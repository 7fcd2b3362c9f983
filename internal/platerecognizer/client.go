// Package platerecognizer is a client for the Plate Recognizer Snapshot API.
package platerecognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"traffic-anpr-service/internal/config"
	"traffic-anpr-service/internal/domain/anpr"
)

var ErrNotConfigured = errors.New("plate recognizer api token is not configured")

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("plate recognizer: status %d: %s", e.StatusCode, e.Body)
}

// Recognition is the plate-reader response. Results share the webhook
// detection shape.
type Recognition struct {
	ProcessingTime float64          `json:"processing_time"`
	Results        []anpr.Detection `json:"results"`
	Filename       string           `json:"filename"`
	Version        int              `json:"version"`
	CameraID       *string          `json:"camera_id"`
	Timestamp      string           `json:"timestamp"`
}

type Usage struct {
	Calls    int    `json:"calls"`
	Month    int    `json:"month"`
	Year     int    `json:"year"`
	ResetsOn string `json:"resets_on"`
}

type Statistics struct {
	TotalCalls int   `json:"total_calls"`
	Usage      Usage `json:"usage"`
}

// Upload is either raw image bytes or a URL the provider fetches itself.
type Upload struct {
	Image    []byte
	URL      string
	CameraID string
}

type Client struct {
	baseURL    string
	token      string
	regions    []string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[[]byte]
	log        zerolog.Logger
}

// NewClient builds a client; a nil httpClient gets one with cfg.Timeout.
func NewClient(cfg config.PlateRecognizerConfig, httpClient *http.Client, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	log = log.With().Str("component", "platerecognizer").Logger()

	threshold := cfg.BreakerThreshold
	if threshold == 0 {
		threshold = 5
	}
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "plate-recognizer-api",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Client errors say nothing about provider health.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.APIToken,
		regions:    cfg.Regions,
		httpClient: httpClient,
		cb:         cb,
		log:        log,
	}
}

// Recognize posts an image to /plate-reader/.
func (c *Client) Recognize(ctx context.Context, up Upload) (*Recognition, error) {
	if len(up.Image) == 0 && up.URL == "" {
		return nil, errors.New("plate recognizer: image or url is required")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if len(up.Image) > 0 {
		part, err := w.CreateFormFile("upload", "image.jpg")
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(up.Image); err != nil {
			return nil, err
		}
	} else if err := w.WriteField("upload_url", up.URL); err != nil {
		return nil, err
	}
	for _, region := range c.regions {
		if err := w.WriteField("regions", region); err != nil {
			return nil, err
		}
	}
	if up.CameraID != "" {
		if err := w.WriteField("camera_id", up.CameraID); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	start := time.Now()
	body, err := c.do(ctx, http.MethodPost, "/plate-reader/", &buf, w.FormDataContentType())
	if err != nil {
		return nil, err
	}

	var rec Recognition
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("plate recognizer: decode response: %w", err)
	}

	c.log.Debug().
		Int("results", len(rec.Results)).
		Dur("elapsed", time.Since(start)).
		Msg("plate recognized")
	return &rec, nil
}

// Statistics returns account usage from /statistics/.
func (c *Client) Statistics(ctx context.Context) (*Statistics, error) {
	body, err := c.do(ctx, http.MethodGet, "/statistics/", nil, "")
	if err != nil {
		return nil, err
	}
	var stats Statistics
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("plate recognizer: decode statistics: %w", err)
	}
	return &stats, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	if c.token == "" {
		return nil, ErrNotConfigured
	}

	return c.cb.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Token "+c.token)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("plate recognizer: %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("plate recognizer: read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		}
		return data, nil
	})
}
