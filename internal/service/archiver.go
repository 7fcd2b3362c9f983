package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"traffic-anpr-service/internal/config"
	"traffic-anpr-service/internal/metrics"
	"traffic-anpr-service/internal/storage"
)

const (
	PrefixVisits = "visits"
	PrefixPlates = "plates"
)

// ImageSource is a remote URL or inline base64 data. URL wins when both are
// set.
type ImageSource struct {
	URL    string
	Base64 string
}

func (s ImageSource) Empty() bool {
	return s.URL == "" && s.Base64 == ""
}

var ErrNotAnImage = errors.New("content is not an image")

type ImageArchiver struct {
	store        storage.Store
	client       *http.Client
	maxSize      int64
	allowPrivate bool
	metrics      *metrics.Metrics
	log          zerolog.Logger
	now          func() time.Time
}

// NewImageArchiver uses client for remote images; nil gets
// NewImageFetchClient with the storage fetch settings.
func NewImageArchiver(store storage.Store, client *http.Client, cfg config.StorageConfig, m *metrics.Metrics, log zerolog.Logger) *ImageArchiver {
	if client == nil {
		timeout := cfg.FetchTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = NewImageFetchClient(timeout, cfg.AllowPrivateFetch)
	}
	return &ImageArchiver{
		store:        store,
		client:       client,
		maxSize:      cfg.MaxImageSize,
		allowPrivate: cfg.AllowPrivateFetch,
		metrics:      m,
		log:          log.With().Str("component", "archiver").Logger(),
		now:          time.Now,
	}
}

// Archive stores the image under a fresh key below prefix.
func (a *ImageArchiver) Archive(ctx context.Context, src ImageSource, prefix string) (*storage.Object, error) {
	obj, err := a.archive(ctx, src, prefix)
	a.metrics.RecordImageArchive(prefix, err)
	return obj, err
}

// TryArchive is Archive for callers that must carry on without the image.
// Failures are logged and nil is returned.
func (a *ImageArchiver) TryArchive(ctx context.Context, src ImageSource, prefix string) *storage.Object {
	if src.Empty() {
		return nil
	}
	obj, err := a.Archive(ctx, src, prefix)
	if err != nil {
		a.log.Warn().
			Err(err).
			Str("prefix", prefix).
			Str("url", src.URL).
			Msg("failed to archive image, continuing without it")
		return nil
	}
	return obj
}

func (a *ImageArchiver) archive(ctx context.Context, src ImageSource, prefix string) (*storage.Object, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case src.URL != "":
		data, err = a.fetch(ctx, src.URL)
	case src.Base64 != "":
		data, err = decodeBase64Image(src.Base64)
	default:
		return nil, errors.New("image source is empty")
	}
	if err != nil {
		return nil, err
	}
	if a.maxSize > 0 && int64(len(data)) > a.maxSize {
		return nil, fmt.Errorf("image exceeds %d bytes", a.maxSize)
	}
	// Declared types are not trusted; only the bytes decide.
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: detected %s", ErrNotAnImage, contentType)
	}

	return a.store.Put(ctx, a.objectKey(prefix, contentType), data, contentType)
}

func (a *ImageArchiver) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid image url: %w", err)
	}
	if err := checkImageURL(u, a.allowPrivate); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("invalid image url: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to fetch image: status %d", resp.StatusCode)
	}

	body := io.Reader(resp.Body)
	if a.maxSize > 0 {
		body = io.LimitReader(resp.Body, a.maxSize+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("fetched image is empty")
	}
	return data, nil
}

// decodeBase64Image accepts bare base64 or a data URI. The declared media
// type of a data URI is ignored.
func decodeBase64Image(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		_, payload, ok := strings.Cut(s, ",")
		if !ok {
			return nil, errors.New("malformed data uri")
		}
		s = payload
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 image: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("image is empty")
	}
	return data, nil
}

func (a *ImageArchiver) objectKey(prefix, contentType string) string {
	now := a.now().UTC()
	return fmt.Sprintf("%s/%s/%d-%s.%s",
		prefix, now.Format("2006/01/02"), now.UnixMilli(), uuid.NewString(), extensionFor(contentType))
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "image/bmp":
		return "bmp"
	default:
		return "jpg"
	}
}
