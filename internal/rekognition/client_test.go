package rekognition

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-anpr-service/internal/config"
	"traffic-anpr-service/internal/platerecognizer"
)

type fakeDetector struct {
	out   *rekognition.DetectTextOutput
	err   error
	input *rekognition.DetectTextInput
}

func (f *fakeDetector) DetectText(_ context.Context, in *rekognition.DetectTextInput, _ ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error) {
	f.input = in
	return f.out, f.err
}

func line(text string, confidence float32) types.TextDetection {
	return types.TextDetection{
		Type:         types.TextTypesLine,
		DetectedText: aws.String(text),
		Confidence:   aws.Float32(confidence),
		Geometry:     &types.Geometry{BoundingBox: &types.BoundingBox{Left: aws.Float32(0.1), Top: aws.Float32(0.2)}},
	}
}

func testConfig() config.RekognitionConfig {
	return config.RekognitionConfig{
		PlatePattern:  `^([0-9]{1,4}[A-Z]{1,3}|[A-Z]{1,3}[0-9]{1,4})$`,
		MinConfidence: 80,
	}
}

func TestClient_Recognize(t *testing.T) {
	fake := &fakeDetector{out: &rekognition.DetectTextOutput{TextDetections: []types.TextDetection{
		line("KINGDOM OF SAUDI ARABIA", 99),
		line("1234 ABC", 91),
		line("١٢٣٤ ب ح د", 88),
		line("XYZ 99", 60),
		{Type: types.TextTypesWord, DetectedText: aws.String("ABC"), Confidence: aws.Float32(99)},
		line("1234-ABC", 97),
	}}}

	client, err := newClient(fake, testConfig(), zerolog.Nop())
	require.NoError(t, err)

	rec, err := client.Recognize(context.Background(), platerecognizer.Upload{Image: []byte{0xff, 0xd8}, CameraID: "GATE-1"})
	require.NoError(t, err)

	assert.Equal(t, []byte{0xff, 0xd8}, fake.input.Image.Bytes)
	require.NotNil(t, rec.CameraID)
	assert.Equal(t, "GATE-1", *rec.CameraID)
	assert.NotEmpty(t, rec.Timestamp)

	require.Len(t, rec.Results, 2)
	assert.Equal(t, "1234ABC", rec.Results[0].Plate)
	assert.InDelta(t, 0.97, *rec.Results[0].Score, 1e-6, "duplicate reads keep the best score")
	assert.Equal(t, "1234BHD", rec.Results[1].Plate)
	assert.Contains(t, string(rec.Results[1].Raw), "box")
}

func TestClient_RecognizeNeedsImageBytes(t *testing.T) {
	client, err := newClient(&fakeDetector{}, testConfig(), zerolog.Nop())
	require.NoError(t, err)

	_, err = client.Recognize(context.Background(), platerecognizer.Upload{URL: "https://cdn.example.com/a.jpg"})
	assert.ErrorIs(t, err, errors.ErrUnsupported)
}

func TestClient_RecognizeAPIError(t *testing.T) {
	client, err := newClient(&fakeDetector{err: errors.New("throttled")}, testConfig(), zerolog.Nop())
	require.NoError(t, err)

	_, err = client.Recognize(context.Background(), platerecognizer.Upload{Image: []byte("img")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestClient_Statistics(t *testing.T) {
	client, err := newClient(&fakeDetector{}, testConfig(), zerolog.Nop())
	require.NoError(t, err)

	_, err = client.Statistics(context.Background())
	assert.ErrorIs(t, err, errors.ErrUnsupported)
}

func TestNewClient_BadPattern(t *testing.T) {
	cfg := testConfig()
	cfg.PlatePattern = "("
	_, err := newClient(&fakeDetector{}, cfg, zerolog.Nop())
	assert.Error(t, err)
}
