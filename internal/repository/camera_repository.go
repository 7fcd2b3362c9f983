package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Camera struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Code      string    `gorm:"size:50;not null;uniqueIndex" json:"code"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Type      string    `gorm:"size:20;not null" json:"type"`
	Location  *string   `gorm:"size:255" json:"location,omitempty"`
	Status    string    `gorm:"size:20;not null;default:active" json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FindCameraByCode returns nil without error when no camera has the code.
func (r *ANPRRepository) FindCameraByCode(ctx context.Context, code string) (*Camera, error) {
	var camera Camera
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&camera).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &camera, nil
}

func (r *ANPRRepository) CreateCamera(ctx context.Context, camera *Camera) error {
	err := r.db.WithContext(ctx).Create(camera).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateCamera
	}
	return err
}

func (r *ANPRRepository) ListCameras(ctx context.Context) ([]Camera, error) {
	var cameras []Camera
	err := r.db.WithContext(ctx).Order("code").Find(&cameras).Error
	return cameras, err
}
