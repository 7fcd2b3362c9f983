package anpr

import "encoding/json"

// ToWebhookPayload adapts a ParkPow delivery onto the common ingestion
// payload. Images arrive as remote URLs and every ParkPow read is an entry.
func (p *ParkPowPayload) ToWebhookPayload() WebhookPayload {
	det := Detection{
		Plate:     p.LicensePlate,
		Score:     p.Score,
		VisitType: VisitTypeEntry,
	}
	if p.Region != "" {
		det.Region = &Region{Code: p.Region}
	}
	if v := p.Vehicle; v != nil {
		if v.Type != "" {
			det.Vehicle = &VehicleCandidate{Type: v.Type}
		}
		if v.Make != "" {
			det.ModelMake = []MakeModelCandidate{{Make: v.Make}}
		}
		if v.Color != "" {
			det.Color = []ColorCandidate{{Color: v.Color}}
		}
	}
	if raw, err := json.Marshal(p); err == nil {
		det.Raw = raw
	}

	return WebhookPayload{
		Results:         []Detection{det},
		Timestamp:       p.Timestamp,
		CameraID:        p.CameraID,
		Provider:        ProviderParkPow,
		ProviderEventID: p.HookID,
		ImageURL:        p.ImageURL,
		PlateImageURL:   p.PlateImageURL,
	}
}
