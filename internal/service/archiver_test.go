package service

import (
	"context"
	"encoding/base64"
	"net/http"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-anpr-service/internal/config"
	"traffic-anpr-service/internal/storage"
)

// Just enough of each format for content sniffing.
var (
	jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00vehicle")
	pngBytes  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDRplate")
	webpBytes = []byte("RIFF\x24\x00\x00\x00WEBPVP8 car")
)

func newTestArchiver(maxSize int64) (*ImageArchiver, *httpmock.MockTransport, afero.Fs) {
	fs := afero.NewMemMapFs()
	mock := httpmock.NewMockTransport()
	store := storage.NewLocalStoreWithFs(fs, testBlobDir, testBlobURL)
	a := NewImageArchiver(store, &http.Client{Transport: mock}, config.StorageConfig{MaxImageSize: maxSize}, nil, zerolog.Nop())
	a.now = func() time.Time { return time.Date(2025, 1, 28, 19, 30, 0, 0, time.UTC) }
	return a, mock, fs
}

var keyPattern = regexp.MustCompile(`^visits/2025/01/28/1738092600000-[0-9a-f-]{36}\.jpg$`)

func TestArchive_Base64(t *testing.T) {
	a, _, fs := newTestArchiver(0)
	encoded := base64.StdEncoding.EncodeToString(jpegBytes)

	obj, err := a.Archive(context.Background(), ImageSource{Base64: encoded}, PrefixVisits)
	require.NoError(t, err)

	assert.Regexp(t, keyPattern, obj.Key)
	assert.Equal(t, testBlobURL+"/"+obj.Key, obj.URL)

	data, err := afero.ReadFile(fs, testBlobDir+"/"+obj.Key)
	require.NoError(t, err)
	assert.Equal(t, jpegBytes, data)
}

func TestArchive_UniqueKeys(t *testing.T) {
	a, _, _ := newTestArchiver(0)
	src := ImageSource{Base64: base64.StdEncoding.EncodeToString(pngBytes)}

	first, err := a.Archive(context.Background(), src, PrefixPlates)
	require.NoError(t, err)
	second, err := a.Archive(context.Background(), src, PrefixPlates)
	require.NoError(t, err)

	assert.NotEqual(t, first.Key, second.Key)
	assert.True(t, strings.HasPrefix(first.Key, "plates/2025/01/28/"))
}

func TestArchive_URL(t *testing.T) {
	a, mock, _ := newTestArchiver(0)
	mock.RegisterResponder(http.MethodGet, "https://cdn.example.com/car",
		func(*http.Request) (*http.Response, error) {
			resp := httpmock.NewBytesResponse(http.StatusOK, webpBytes)
			resp.Header.Set("Content-Type", "application/octet-stream")
			return resp, nil
		})

	obj, err := a.Archive(context.Background(), ImageSource{URL: "https://cdn.example.com/car"}, PrefixVisits)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(obj.Key, ".webp"), obj.Key)
}

func TestArchive_Errors(t *testing.T) {
	a, mock, _ := newTestArchiver(8)
	mock.RegisterResponder(http.MethodGet, "https://cdn.example.com/gone",
		httpmock.NewStringResponder(http.StatusNotFound, ""))
	mock.RegisterResponder(http.MethodGet, "https://cdn.example.com/huge",
		httpmock.NewStringResponder(http.StatusOK, "0123456789abcdef"))

	tests := []struct {
		name string
		src  ImageSource
	}{
		{"empty", ImageSource{}},
		{"not_found", ImageSource{URL: "https://cdn.example.com/gone"}},
		{"too_large_url", ImageSource{URL: "https://cdn.example.com/huge"}},
		{"too_large_base64", ImageSource{Base64: base64.StdEncoding.EncodeToString(jpegBytes)}},
		{"bad_base64", ImageSource{Base64: "%%%"}},
		{"bad_data_uri", ImageSource{Base64: "data:image/png;base64"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Archive(context.Background(), tt.src, PrefixVisits)
			assert.Error(t, err)
			assert.Nil(t, a.TryArchive(context.Background(), tt.src, PrefixVisits))
		})
	}
}

func TestArchive_RejectsNonImageContent(t *testing.T) {
	a, mock, fs := newTestArchiver(0)
	mock.RegisterResponder(http.MethodGet, "https://cdn.example.com/page",
		func(*http.Request) (*http.Response, error) {
			resp := httpmock.NewStringResponse(http.StatusOK, "<html><body>login</body></html>")
			resp.Header.Set("Content-Type", "image/jpeg")
			return resp, nil
		})

	tests := []struct {
		name string
		src  ImageSource
	}{
		{"html_behind_image_header", ImageSource{URL: "https://cdn.example.com/page"}},
		{"json_base64", ImageSource{Base64: base64.StdEncoding.EncodeToString([]byte(`{"AccessKeyId":"AKIA"}`))}},
		{"text_data_uri", ImageSource{Base64: "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("plain text"))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Archive(context.Background(), tt.src, PrefixVisits)
			assert.ErrorIs(t, err, ErrNotAnImage)
		})
	}

	exists, err := afero.DirExists(fs, testBlobDir+"/visits")
	require.NoError(t, err)
	assert.False(t, exists, "nothing is stored")
}

func TestArchive_RefusesInternalURLs(t *testing.T) {
	a, mock, fs := newTestArchiver(0)
	mock.RegisterResponder(http.MethodGet, "=~.*",
		httpmock.NewStringResponder(http.StatusOK, `{"AccessKeyId":"AKIA","SecretAccessKey":"s3cr3t"}`))

	for _, raw := range []string{
		"http://169.254.169.254/latest/meta-data/iam/security-credentials/role",
		"http://127.0.0.1:8080/metrics",
		"http://localhost/blobs/visits",
		"http://[::1]/",
		"file:///etc/passwd",
	} {
		t.Run(raw, func(t *testing.T) {
			_, err := a.Archive(context.Background(), ImageSource{URL: raw}, PrefixVisits)
			assert.ErrorIs(t, err, ErrForbiddenImageURL)
		})
	}

	assert.Zero(t, mock.GetTotalCallCount(), "no request leaves the process")
	exists, err := afero.DirExists(fs, testBlobDir+"/visits")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestArchive_AllowPrivateFetch(t *testing.T) {
	fs := afero.NewMemMapFs()
	mock := httpmock.NewMockTransport()
	store := storage.NewLocalStoreWithFs(fs, testBlobDir, testBlobURL)
	a := NewImageArchiver(store, &http.Client{Transport: mock},
		config.StorageConfig{AllowPrivateFetch: true}, nil, zerolog.Nop())
	mock.RegisterResponder(http.MethodGet, "http://10.0.0.5/snapshot.jpg",
		httpmock.NewBytesResponder(http.StatusOK, jpegBytes))

	obj, err := a.Archive(context.Background(), ImageSource{URL: "http://10.0.0.5/snapshot.jpg"}, PrefixVisits)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(obj.Key, ".jpg"), obj.Key)
}

func TestDecodeBase64Image_DataURI(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString(pngBytes)

	data, err := decodeBase64Image("data:image/jpeg;base64," + payload)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)

	data, err = decodeBase64Image(payload)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)

	_, err = decodeBase64Image("data:image/png;base64,")
	assert.Error(t, err)
}
