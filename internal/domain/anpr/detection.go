package anpr

import (
	"math"
	"strings"
)

type VehicleCategory string

const (
	CategorySedan      VehicleCategory = "sedan"
	CategorySUV        VehicleCategory = "suv"
	CategoryTruck      VehicleCategory = "truck"
	CategoryVan        VehicleCategory = "van"
	CategoryMotorcycle VehicleCategory = "motorcycle"
	CategoryOther      VehicleCategory = "other"
)

// VehicleAttributes holds the top-scoring descriptive values of a detection.
// Missing values are the Unknown placeholder.
type VehicleAttributes struct {
	Make        string
	Model       string
	Color       string
	VehicleType string
	Orientation string
	Direction   string
}

func (d *Detection) Attributes() VehicleAttributes {
	attrs := VehicleAttributes{
		Make:        Unknown,
		Model:       Unknown,
		Color:       Unknown,
		VehicleType: Unknown,
		Orientation: Unknown,
		Direction:   Unknown,
	}

	if d.Vehicle != nil && d.Vehicle.Type != "" {
		attrs.VehicleType = d.Vehicle.Type
	}
	if c, ok := top(d.ModelMake, func(c MakeModelCandidate) float64 { return c.Score }); ok {
		attrs.Make = nonEmpty(c.Make)
		attrs.Model = nonEmpty(c.Model)
	}
	if c, ok := top(d.Color, func(c ColorCandidate) float64 { return c.Score }); ok {
		attrs.Color = nonEmpty(c.Color)
	}
	if c, ok := top(d.Orientation, func(c OrientationCandidate) float64 { return c.Score }); ok {
		attrs.Orientation = nonEmpty(c.Orientation)
	}
	if c, ok := top(d.Direction, func(c DirectionCandidate) float64 { return c.Score }); ok {
		attrs.Direction = nonEmpty(c.Direction)
	}
	return attrs
}

func (d *Detection) RegionCode() string {
	if d.Region == nil || d.Region.Code == "" {
		return Unknown
	}
	return d.Region.Code
}

// ConfidencePercent converts a 0..1 provider score to an integer percentage.
func ConfidencePercent(score float64) int {
	pct := int(math.Round(score * 100))
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

// InferVisitType returns the explicit type when given. Otherwise a
// front-facing vehicle is taken as entering and anything else as leaving;
// this is a heuristic, not a guarantee.
func InferVisitType(explicit VisitType, orientation string) VisitType {
	switch explicit {
	case VisitTypeEntry, VisitTypeExit, VisitTypePassThrough:
		return explicit
	}
	if strings.Contains(strings.ToLower(orientation), "front") {
		return VisitTypeEntry
	}
	return VisitTypeExit
}

// MapVehicleCategory maps provider vehicle types onto the registry enum.
func MapVehicleCategory(vehicleType string) VehicleCategory {
	switch strings.ToLower(strings.TrimSpace(vehicleType)) {
	case "sedan":
		return CategorySedan
	case "suv":
		return CategorySUV
	case "truck", "pickup truck", "big truck":
		return CategoryTruck
	case "van":
		return CategoryVan
	case "motorcycle":
		return CategoryMotorcycle
	}
	return CategoryOther
}

func nonEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return Unknown
	}
	return s
}

// top returns the highest-scoring candidate; ties keep the earlier one.
func top[T any](items []T, score func(T) float64) (T, bool) {
	var best T
	if len(items) == 0 {
		return best, false
	}
	best = items[0]
	for _, it := range items[1:] {
		if score(it) > score(best) {
			best = it
		}
	}
	return best, true
}
