package anpr

import (
	"encoding/json"
	"time"
)

type VisitType string

const (
	VisitTypeEntry       VisitType = "entry"
	VisitTypeExit        VisitType = "exit"
	VisitTypePassThrough VisitType = "pass_through"
)

type Provider string

const (
	ProviderPlateRecognizer Provider = "plate_recognizer"
	ProviderParkPow         Provider = "parkpow"
	ProviderManual          Provider = "manual"
)

const Unknown = "unknown"

// MaxPlateLength is the plate_number column size; it applies after
// normalization.
const MaxPlateLength = 20

type Region struct {
	Code  string  `json:"code" validate:"max=50"`
	Score float64 `json:"score"`
}

type VehicleCandidate struct {
	Type  string  `json:"type"`
	Score float64 `json:"score"`
}

type MakeModelCandidate struct {
	Make  string  `json:"make" validate:"max=100"`
	Model string  `json:"model" validate:"max=100"`
	Score float64 `json:"score"`
}

type ColorCandidate struct {
	Color string  `json:"color" validate:"max=50"`
	Score float64 `json:"score"`
}

type OrientationCandidate struct {
	Orientation string  `json:"orientation"`
	Score       float64 `json:"score"`
}

type DirectionCandidate struct {
	Direction string  `json:"direction"`
	Score     float64 `json:"score"`
}

// Detection is one plate read inside a webhook delivery. Raw keeps the
// verbatim JSON so nothing the provider sent is lost.
type Detection struct {
	Plate       string                 `json:"plate" validate:"required,plate"`
	Score       *float64               `json:"score" validate:"required,gte=0,lte=1"`
	Region      *Region                `json:"region,omitempty"`
	Vehicle     *VehicleCandidate      `json:"vehicle,omitempty"`
	ModelMake   []MakeModelCandidate   `json:"model_make,omitempty" validate:"omitempty,dive"`
	Color       []ColorCandidate       `json:"color,omitempty" validate:"omitempty,dive"`
	Orientation []OrientationCandidate `json:"orientation,omitempty"`
	Direction   []DirectionCandidate   `json:"direction,omitempty"`
	VisitType   VisitType              `json:"visit_type,omitempty" validate:"omitempty,oneof=entry exit pass_through"`
	Raw         json.RawMessage        `json:"-"`
}

func (d *Detection) UnmarshalJSON(data []byte) error {
	type alias Detection
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*d = Detection(a)
	d.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// WebhookPayload is the Plate Recognizer snapshot webhook body.
type WebhookPayload struct {
	Results        []Detection `json:"results" validate:"required,dive"`
	Timestamp      string      `json:"timestamp" validate:"required"`
	CameraID       string      `json:"camera_id,omitempty" validate:"omitempty,max=50"`
	Filename       string      `json:"filename,omitempty"`
	ProcessingTime *float64    `json:"processing_time,omitempty"`
	Version        int         `json:"version,omitempty"`
	Image          string      `json:"image,omitempty"`
	PlateImage     string      `json:"plate_image,omitempty"`

	// Not part of the provider body; set by adapters.
	Provider        Provider `json:"-"`
	ProviderEventID string   `json:"-"`
	ImageURL        string   `json:"-"`
	PlateImageURL   string   `json:"-"`
}

type ParkPowVehicle struct {
	Type  string `json:"type,omitempty"`
	Make  string `json:"make,omitempty" validate:"omitempty,max=100"`
	Color string `json:"color,omitempty" validate:"omitempty,max=50"`
}

// ParkPowPayload is the single-detection ParkPow webhook body.
type ParkPowPayload struct {
	HookID        string          `json:"hook_id" validate:"required,max=100"`
	Timestamp     string          `json:"timestamp" validate:"required"`
	CameraID      string          `json:"camera_id" validate:"omitempty,max=50"`
	LicensePlate  string          `json:"license_plate" validate:"required,plate"`
	Region        string          `json:"region" validate:"omitempty,max=50"`
	Score         *float64        `json:"score" validate:"required,gte=0,lte=1"`
	Vehicle       *ParkPowVehicle `json:"vehicle,omitempty"`
	ImageURL      string          `json:"image_url,omitempty" validate:"omitempty,url"`
	PlateImageURL string          `json:"plate_image_url,omitempty" validate:"omitempty,url"`
}

// VisitMetadata is serialized into the visit's metadata column.
type VisitMetadata struct {
	VehicleType    string          `json:"vehicleType"`
	VehicleMake    string          `json:"vehicleMake"`
	VehicleModel   string          `json:"vehicleModel"`
	VehicleColor   string          `json:"vehicleColor"`
	Orientation    string          `json:"orientation"`
	Direction      string          `json:"direction"`
	ProcessingTime *float64        `json:"processingTime,omitempty"`
	Source         Provider        `json:"source,omitempty"`
	Filename       string          `json:"filename,omitempty"`
	RawData        json.RawMessage `json:"rawData,omitempty"`
}

type OutcomeStatus string

const (
	OutcomeRecorded  OutcomeStatus = "recorded"
	OutcomeDuplicate OutcomeStatus = "duplicate"
	OutcomeFailed    OutcomeStatus = "failed"
)

type TagHit struct {
	TagID    int64  `json:"tag_id"`
	TagName  string `json:"tag_name"`
	Category string `json:"category"`
}

type DetectionOutcome struct {
	Plate     string        `json:"plate"`
	Status    OutcomeStatus `json:"status"`
	VehicleID int64         `json:"vehicle_id,omitempty"`
	VisitID   int64         `json:"visit_id,omitempty"`
	Created   bool          `json:"created,omitempty"`
	TagHits   []TagHit      `json:"tag_hits,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type IngestResult struct {
	Success    bool               `json:"success"`
	Processed  int                `json:"processed"`
	Succeeded  int                `json:"succeeded"`
	Failed     int                `json:"failed"`
	Duplicates int                `json:"duplicates"`
	Timestamp  time.Time          `json:"timestamp"`
	Results    []DetectionOutcome `json:"results"`
}
