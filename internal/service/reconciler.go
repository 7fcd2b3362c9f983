package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"traffic-anpr-service/internal/config"
	"traffic-anpr-service/internal/domain/anpr"
	"traffic-anpr-service/internal/repository"
	"traffic-anpr-service/internal/storage"
	"traffic-anpr-service/internal/utils"
)

const (
	ownerTypeVisitor = "visitor"
	statusActive     = "active"
)

// VehicleReconciler makes sure a vehicle row exists for a plate and folds one
// sighting into it.
type VehicleReconciler struct {
	fill bool
	log  zerolog.Logger
}

func NewVehicleReconciler(policy string, log zerolog.Logger) *VehicleReconciler {
	return &VehicleReconciler{
		fill: policy != config.AttributePolicyOverwrite,
		log:  log.With().Str("component", "reconciler").Logger(),
	}
}

// Reconcile must run inside tx. The visit counter is bumped exactly once per
// call, for new and existing vehicles alike.
func (r *VehicleReconciler) Reconcile(
	ctx context.Context,
	tx *repository.ANPRRepository,
	plate string,
	attrs anpr.VehicleAttributes,
	image *storage.Object,
) (*repository.Vehicle, bool, error) {
	if plate == "" {
		return nil, false, fmt.Errorf("%w: plate is empty", ErrInvalidInput)
	}

	category := anpr.MapVehicleCategory(attrs.VehicleType)

	candidate := &repository.Vehicle{
		PlateNumber: plate,
		OwnerName:   anpr.Unknown,
		OwnerType:   ownerTypeVisitor,
		Make:        strPtr(placeholderToUnknown(attrs.Make)),
		Model:       strPtr(placeholderToUnknown(attrs.Model)),
		Color:       strPtr(placeholderToUnknown(attrs.Color)),
		VehicleType: string(category),
		Status:      statusActive,
	}
	if image != nil {
		candidate.VehicleImageURL = strPtr(image.URL)
		candidate.VehicleImageKey = strPtr(image.Key)
	}

	created, err := tx.EnsureVehicle(ctx, candidate)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create vehicle: %w", err)
	}

	vehicle, err := tx.GetVehicleByPlate(ctx, plate)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load vehicle: %w", err)
	}

	update := repository.VehicleUpdate{
		Make:        dropPlaceholder(attrs.Make),
		Model:       dropPlaceholder(attrs.Model),
		Color:       dropPlaceholder(attrs.Color),
		VehicleType: category,
	}
	if image != nil {
		update.ImageURL = image.URL
		update.ImageKey = image.Key
	}

	if err := tx.RegisterVisit(ctx, vehicle.ID, update, r.fill); err != nil {
		return nil, false, fmt.Errorf("failed to update vehicle: %w", err)
	}

	vehicle, err = tx.GetVehicleByID(ctx, vehicle.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to reload vehicle: %w", err)
	}

	if created {
		r.log.Info().
			Int64("vehicle_id", vehicle.ID).
			Str("plate", plate).
			Msg("created vehicle")
	}

	return vehicle, created, nil
}

func dropPlaceholder(v string) string {
	if utils.IsPlaceholder(v) {
		return ""
	}
	return v
}

func placeholderToUnknown(v string) string {
	if utils.IsPlaceholder(v) {
		return anpr.Unknown
	}
	return v
}

func strPtr(s string) *string {
	return &s
}
