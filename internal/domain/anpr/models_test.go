package anpr

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleWebhook = `{
  "processing_time": 123.456,
  "results": [
    {
      "box": {"xmin": 100, "ymin": 200, "xmax": 300, "ymax": 400},
      "plate": "ABC123",
      "region": {"code": "sa", "score": 0.95},
      "vehicle": {"type": "Sedan", "score": 0.92},
      "score": 0.95,
      "dscore": 0.85,
      "model_make": [{"make": "Kia", "model": "Rio", "score": 0.4}, {"make": "Toyota", "model": "Camry", "score": 0.9}],
      "color": [{"color": "white", "score": 0.88}],
      "orientation": [{"orientation": "Front", "score": 0.92}],
      "direction": [{"direction": "North", "score": 0.85}]
    }
  ],
  "filename": "image.jpg",
  "version": 1,
  "camera_id": "CAM001",
  "timestamp": "2025-01-28T19:30:00.000Z"
}`

func decodeWebhook(t *testing.T, body string) WebhookPayload {
	t.Helper()
	var p WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(body), &p))
	return p
}

func TestWebhookPayload_Validate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid", sampleWebhook, ""},
		{"empty_results", `{"results": [], "timestamp": "2025-01-28T19:30:00Z"}`, ""},
		{"missing_results", `{"timestamp": "2025-01-28T19:30:00Z"}`, "results is required"},
		{"missing_timestamp", `{"results": []}`, "timestamp is required"},
		{"bad_timestamp", `{"results": [], "timestamp": "yesterday"}`, "RFC 3339"},
		{"missing_plate", `{"results": [{"score": 0.5}], "timestamp": "2025-01-28T19:30:00Z"}`, "results[0].plate is required"},
		{"missing_score", `{"results": [{"plate": "A1"}], "timestamp": "2025-01-28T19:30:00Z"}`, "results[0].score is required"},
		{"score_out_of_range", `{"results": [{"plate": "A1", "score": 1.5}], "timestamp": "2025-01-28T19:30:00Z"}`, "between 0 and 1"},
		{"bad_visit_type", `{"results": [{"plate": "A1", "score": 0.5, "visit_type": "parked"}], "timestamp": "2025-01-28T19:30:00Z"}`, "visit_type"},
		{"plate_too_long", `{"results": [{"plate": "ABCDEFGHIJ1234567890X", "score": 0.5}], "timestamp": "2025-01-28T19:30:00Z"}`, "results[0].plate must be at most 20 characters"},
		{"plate_separators_not_counted", `{"results": [{"plate": "أ ب ج - ١ ٢ ٣ ٤ - 5 6 7 8", "score": 0.5}], "timestamp": "2025-01-28T19:30:00Z"}`, ""},
		{"camera_id_too_long", `{"results": [], "camera_id": "` + strings.Repeat("G", 51) + `", "timestamp": "2025-01-28T19:30:00Z"}`, "camera_id must be at most 50 characters"},
		{"camera_id_at_limit", `{"results": [], "camera_id": "` + strings.Repeat("G", 50) + `", "timestamp": "2025-01-28T19:30:00Z"}`, ""},
		{"region_too_long", `{"results": [{"plate": "A1", "score": 0.5, "region": {"code": "` + strings.Repeat("r", 51) + `"}}], "timestamp": "2025-01-28T19:30:00Z"}`, "results[0].region.code"},
		{"make_too_long", `{"results": [{"plate": "A1", "score": 0.5, "model_make": [{"make": "` + strings.Repeat("m", 101) + `", "model": "x"}]}], "timestamp": "2025-01-28T19:30:00Z"}`, "results[0].model_make[0].make"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := decodeWebhook(t, tt.body)
			err := p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDetection_NonNumericScoreFailsDecode(t *testing.T) {
	var p WebhookPayload
	err := json.Unmarshal([]byte(`{"results": [{"plate": "A1", "score": "high"}], "timestamp": "2025-01-28T19:30:00Z"}`), &p)
	assert.Error(t, err)
}

func TestDetection_Attributes(t *testing.T) {
	p := decodeWebhook(t, sampleWebhook)
	attrs := p.Results[0].Attributes()

	assert.Equal(t, "Toyota", attrs.Make, "highest score wins")
	assert.Equal(t, "Camry", attrs.Model)
	assert.Equal(t, "white", attrs.Color)
	assert.Equal(t, "Sedan", attrs.VehicleType)
	assert.Equal(t, "Front", attrs.Orientation)
	assert.Equal(t, "North", attrs.Direction)
	assert.Equal(t, "sa", p.Results[0].RegionCode())
}

func TestDetection_AttributesDefaultToUnknown(t *testing.T) {
	d := Detection{Plate: "A1"}
	attrs := d.Attributes()

	assert.Equal(t, VehicleAttributes{
		Make: Unknown, Model: Unknown, Color: Unknown,
		VehicleType: Unknown, Orientation: Unknown, Direction: Unknown,
	}, attrs)
	assert.Equal(t, Unknown, d.RegionCode())
}

func TestDetection_RawKeepsProviderFields(t *testing.T) {
	p := decodeWebhook(t, sampleWebhook)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(p.Results[0].Raw, &raw))
	assert.Contains(t, raw, "box")
	assert.Contains(t, raw, "dscore")
}

func TestVisitMetadata_RoundTrip(t *testing.T) {
	p := decodeWebhook(t, sampleWebhook)
	d := p.Results[0]
	attrs := d.Attributes()

	meta := VisitMetadata{
		VehicleType:    attrs.VehicleType,
		VehicleMake:    attrs.Make,
		VehicleModel:   attrs.Model,
		VehicleColor:   attrs.Color,
		Orientation:    attrs.Orientation,
		Direction:      attrs.Direction,
		ProcessingTime: p.ProcessingTime,
		Source:         ProviderPlateRecognizer,
		RawData:        d.Raw,
	}

	blob, err := json.Marshal(meta)
	require.NoError(t, err)

	var back VisitMetadata
	require.NoError(t, json.Unmarshal(blob, &back))

	assert.Equal(t, meta.VehicleMake, back.VehicleMake)
	assert.Equal(t, meta.VehicleModel, back.VehicleModel)
	assert.Equal(t, meta.VehicleColor, back.VehicleColor)
	assert.Equal(t, meta.Orientation, back.Orientation)
	assert.Equal(t, meta.Direction, back.Direction)
	require.NotNil(t, back.ProcessingTime)
	assert.InDelta(t, 123.456, *back.ProcessingTime, 1e-9)

	var original, restored Detection
	require.NoError(t, json.Unmarshal(d.Raw, &original))
	require.NoError(t, json.Unmarshal(back.RawData, &restored))
	assert.Equal(t, original.ModelMake, restored.ModelMake)
	assert.Equal(t, original.Color, restored.Color)
	assert.Equal(t, original.Orientation, restored.Orientation)
	assert.Equal(t, original.Direction, restored.Direction)
	assert.JSONEq(t, string(d.Raw), string(back.RawData))
}

func TestConfidencePercent(t *testing.T) {
	assert.Equal(t, 95, ConfidencePercent(0.95))
	assert.Equal(t, 90, ConfidencePercent(0.904))
	assert.Equal(t, 91, ConfidencePercent(0.906))
	assert.Equal(t, 0, ConfidencePercent(0))
	assert.Equal(t, 100, ConfidencePercent(1))
	assert.Equal(t, 100, ConfidencePercent(1.2))
	assert.Equal(t, 0, ConfidencePercent(-0.1))
}

func TestInferVisitType(t *testing.T) {
	assert.Equal(t, VisitTypeEntry, InferVisitType("", "Front"))
	assert.Equal(t, VisitTypeEntry, InferVisitType("", "front-left"))
	assert.Equal(t, VisitTypeExit, InferVisitType("", "Rear"))
	assert.Equal(t, VisitTypeExit, InferVisitType("", Unknown))
	assert.Equal(t, VisitTypePassThrough, InferVisitType(VisitTypePassThrough, "Front"))
	assert.Equal(t, VisitTypeExit, InferVisitType(VisitTypeExit, "Front"))
}

func TestMapVehicleCategory(t *testing.T) {
	assert.Equal(t, CategorySedan, MapVehicleCategory("Sedan"))
	assert.Equal(t, CategorySUV, MapVehicleCategory("SUV"))
	assert.Equal(t, CategoryTruck, MapVehicleCategory("Pickup Truck"))
	assert.Equal(t, CategoryVan, MapVehicleCategory("van"))
	assert.Equal(t, CategoryMotorcycle, MapVehicleCategory("Motorcycle"))
	assert.Equal(t, CategoryOther, MapVehicleCategory("Bus"))
	assert.Equal(t, CategoryOther, MapVehicleCategory(Unknown))
}

func TestParkPowPayload_ToWebhookPayload(t *testing.T) {
	body := `{
		"hook_id": "hk_42",
		"timestamp": "2025-02-01T08:00:00Z",
		"camera_id": "GATE-1",
		"license_plate": "ب ح 555",
		"region": "sa",
		"score": 0.87,
		"vehicle": {"type": "SUV", "make": "Nissan", "color": "black"},
		"image_url": "https://cdn.example.com/v.jpg"
	}`
	var pp ParkPowPayload
	require.NoError(t, json.Unmarshal([]byte(body), &pp))
	require.NoError(t, pp.Validate())

	p := pp.ToWebhookPayload()
	require.NoError(t, p.Validate())

	assert.Equal(t, ProviderParkPow, p.Provider)
	assert.Equal(t, "hk_42", p.ProviderEventID)
	assert.Equal(t, "https://cdn.example.com/v.jpg", p.ImageURL)
	require.Len(t, p.Results, 1)

	d := p.Results[0]
	assert.Equal(t, VisitTypeEntry, d.VisitType)
	attrs := d.Attributes()
	assert.Equal(t, "Nissan", attrs.Make)
	assert.Equal(t, Unknown, attrs.Model)
	assert.Equal(t, "black", attrs.Color)
	assert.Equal(t, "SUV", attrs.VehicleType)
	assert.NotEmpty(t, d.Raw)
}

func TestParkPowPayload_Validate(t *testing.T) {
	var pp ParkPowPayload
	require.NoError(t, json.Unmarshal([]byte(`{"timestamp": "2025-02-01T08:00:00Z", "license_plate": "A1", "score": 0.5}`), &pp))

	err := pp.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook_id is required")

	pp.HookID = "hk_1"
	pp.CameraID = strings.Repeat("C", 51)
	pp.LicensePlate = strings.Repeat("9", 21)
	err = pp.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camera_id must be at most 50 characters")
	assert.Contains(t, err.Error(), "license_plate must be at most 20 characters")

	pp.CameraID = "GATE-1"
	pp.LicensePlate = "ABC 1234"
	assert.NoError(t, pp.Validate())
}
