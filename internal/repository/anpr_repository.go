package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"traffic-anpr-service/internal/domain/anpr"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicateVisit  = errors.New("visit already recorded for provider event")
	ErrDuplicateCamera = errors.New("camera code already registered")
)

type ANPRRepository struct {
	db *gorm.DB
}

func NewANPRRepository(db *gorm.DB) *ANPRRepository {
	return &ANPRRepository{db: db}
}

type Vehicle struct {
	ID              int64   `gorm:"primaryKey"`
	PlateNumber     string  `gorm:"size:20;not null;uniqueIndex"`
	OwnerName       string  `gorm:"size:255;not null"`
	OwnerType       string  `gorm:"size:20;not null"`
	Make            *string `gorm:"size:100"`
	Model           *string `gorm:"size:100"`
	Color           *string `gorm:"size:50"`
	VehicleType     string  `gorm:"size:20;not null;default:other"`
	Status          string  `gorm:"size:20;not null;default:active"`
	VisitCount      int64   `gorm:"not null;default:0"`
	ViolationsCount int64   `gorm:"not null;default:0"`
	VehicleImageURL *string
	VehicleImageKey *string `gorm:"size:500"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Visit struct {
	ID              int64   `gorm:"primaryKey"`
	VehicleID       *int64  `gorm:"index"`
	CameraID        *int64  `gorm:"index"`
	CameraCode      *string `gorm:"size:50;index"`
	PlateNumber     string  `gorm:"size:20;not null;index"`
	VisitType       string  `gorm:"size:20;not null"`
	Confidence      int     `gorm:"not null;default:0"`
	Region          *string `gorm:"size:50"`
	ImageURL        *string
	ImageKey        *string `gorm:"size:500"`
	PlateImageURL   *string
	PlateImageKey   *string   `gorm:"size:500"`
	Timestamp       time.Time `gorm:"column:captured_at;not null;index"`
	Provider        string    `gorm:"size:32;not null;uniqueIndex:ux_visits_provider_event"`
	ProviderEventID *string   `gorm:"size:100;uniqueIndex:ux_visits_provider_event"`
	Metadata        datatypes.JSON
	CreatedAt       time.Time
}

type Tag struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"size:100;not null;uniqueIndex"`
	Category  string `gorm:"size:20;not null;default:custom"`
	IsActive  bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
}

type VehicleTag struct {
	VehicleID  int64 `gorm:"primaryKey"`
	TagID      int64 `gorm:"primaryKey"`
	AssignedAt time.Time
}

// VehicleUpdate carries one detection's contribution to an existing vehicle.
// Placeholder values are skipped.
type VehicleUpdate struct {
	Make        string
	Model       string
	Color       string
	VehicleType anpr.VehicleCategory
	ImageURL    string
	ImageKey    string
}

// Transaction runs fn against a repository bound to a single transaction.
func (r *ANPRRepository) Transaction(ctx context.Context, fn func(tx *ANPRRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&ANPRRepository{db: tx})
	})
}

// EnsureVehicle inserts v unless a vehicle with the same plate exists.
// It reports whether this call created the row; concurrent callers for the
// same plate converge on a single row.
func (r *ANPRRepository) EnsureVehicle(ctx context.Context, v *Vehicle) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "plate_number"}},
			DoNothing: true,
		}).
		Create(v)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *ANPRRepository) GetVehicleByPlate(ctx context.Context, plate string) (*Vehicle, error) {
	var v Vehicle
	err := r.db.WithContext(ctx).Where("plate_number = ?", plate).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *ANPRRepository) GetVehicleByID(ctx context.Context, id int64) (*Vehicle, error) {
	var v Vehicle
	err := r.db.WithContext(ctx).First(&v, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// RegisterVisit increments the visit counter and applies attribute
// enrichment in one UPDATE statement. With fill set, descriptive columns are
// only written when the stored value is missing or a placeholder; otherwise
// the incoming value wins.
func (r *ANPRRepository) RegisterVisit(ctx context.Context, vehicleID int64, u VehicleUpdate, fill bool) error {
	updates := map[string]interface{}{
		"visit_count": gorm.Expr("visit_count + ?", 1),
		"updated_at":  time.Now(),
	}

	if u.Make != "" {
		updates["make"] = enrichExpr("make", u.Make, fill)
	}
	if u.Model != "" {
		updates["model"] = enrichExpr("model", u.Model, fill)
	}
	if u.Color != "" {
		updates["color"] = enrichExpr("color", u.Color, fill)
	}
	if u.VehicleType != "" && u.VehicleType != anpr.CategoryOther {
		if fill {
			updates["vehicle_type"] = gorm.Expr(
				"CASE WHEN vehicle_type IS NULL OR vehicle_type IN ('', 'other') THEN ? ELSE vehicle_type END",
				string(u.VehicleType))
		} else {
			updates["vehicle_type"] = string(u.VehicleType)
		}
	}
	if u.ImageURL != "" {
		updates["vehicle_image_url"] = gorm.Expr(
			"CASE WHEN vehicle_image_url IS NULL OR vehicle_image_url = '' THEN ? ELSE vehicle_image_url END", u.ImageURL)
		updates["vehicle_image_key"] = gorm.Expr(
			"CASE WHEN vehicle_image_key IS NULL OR vehicle_image_key = '' THEN ? ELSE vehicle_image_key END", u.ImageKey)
	}

	res := r.db.WithContext(ctx).Model(&Vehicle{}).Where("id = ?", vehicleID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// enrichExpr builds the value for a descriptive column. column is always one
// of the fixed names above.
func enrichExpr(column, value string, fill bool) interface{} {
	if !fill {
		return value
	}
	return gorm.Expr(
		"CASE WHEN "+column+" IS NULL OR "+column+" = '' OR LOWER("+column+") = 'unknown' THEN ? ELSE "+column+" END",
		value)
}

func (r *ANPRRepository) CreateVisit(ctx context.Context, visit *Visit) error {
	if visit.CreatedAt.IsZero() {
		visit.CreatedAt = time.Now()
	}
	err := r.db.WithContext(ctx).Create(visit).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateVisit
	}
	return err
}

func (r *ANPRRepository) VisitExistsForEvent(ctx context.Context, provider, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Visit{}).
		Where("provider = ? AND provider_event_id = ?", provider, eventID).
		Count(&count).Error
	return count > 0, err
}

func (r *ANPRRepository) FindTagsForVehicle(ctx context.Context, vehicleID int64) ([]anpr.TagHit, error) {
	var hits []anpr.TagHit

	err := r.db.WithContext(ctx).
		Table("vehicle_tags").
		Select("tags.id as tag_id, tags.name as tag_name, tags.category as category").
		Joins("JOIN tags ON vehicle_tags.tag_id = tags.id").
		Where("vehicle_tags.vehicle_id = ? AND tags.is_active = ?", vehicleID, true).
		Order("tags.name").
		Scan(&hits).Error

	if err != nil {
		return nil, err
	}

	return hits, nil
}

func (r *ANPRRepository) FindVehiclesByPlate(ctx context.Context, plate string) ([]Vehicle, error) {
	var vehicles []Vehicle
	err := r.db.WithContext(ctx).
		Where("plate_number = ?", plate).
		Find(&vehicles).Error
	return vehicles, err
}

type VisitFilter struct {
	PlateNumber *string
	VehicleID   *int64
	CameraID    *int64
	CameraCode  *string
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}

func (r *ANPRRepository) FindVisits(ctx context.Context, f VisitFilter) ([]Visit, error) {
	query := r.db.WithContext(ctx).Model(&Visit{})

	if f.PlateNumber != nil {
		query = query.Where("plate_number = ?", *f.PlateNumber)
	}
	if f.VehicleID != nil {
		query = query.Where("vehicle_id = ?", *f.VehicleID)
	}
	if f.CameraID != nil {
		query = query.Where("camera_id = ?", *f.CameraID)
	}
	if f.CameraCode != nil {
		query = query.Where("camera_code = ?", *f.CameraCode)
	}
	if f.From != nil {
		query = query.Where("captured_at >= ?", *f.From)
	}
	if f.To != nil {
		query = query.Where("captured_at <= ?", *f.To)
	}

	query = query.Order("captured_at DESC").Order("id DESC")

	if f.Limit > 0 {
		if f.Limit > 100 {
			f.Limit = 100
		}
		query = query.Limit(f.Limit)
	}
	if f.Offset > 0 {
		query = query.Offset(f.Offset)
	}

	var visits []Visit
	err := query.Find(&visits).Error
	return visits, err
}

func (r *ANPRRepository) GetLastVisitTimeForVehicle(ctx context.Context, vehicleID int64) (*time.Time, error) {
	var visit Visit
	err := r.db.WithContext(ctx).
		Where("vehicle_id = ?", vehicleID).
		Order("captured_at DESC").
		First(&visit).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &visit.Timestamp, nil
}
