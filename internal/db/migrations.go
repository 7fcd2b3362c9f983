package db

import (
	"fmt"

	"gorm.io/gorm"

	"traffic-anpr-service/internal/repository"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS vehicles (
		id                BIGSERIAL PRIMARY KEY,
		plate_number      VARCHAR(20) NOT NULL,
		owner_name        VARCHAR(255) NOT NULL,
		owner_type        VARCHAR(20) NOT NULL CHECK (owner_type IN ('student', 'faculty', 'staff', 'visitor')),
		make              VARCHAR(100),
		model             VARCHAR(100),
		color             VARCHAR(50),
		vehicle_type      VARCHAR(20) NOT NULL DEFAULT 'other'
		                  CHECK (vehicle_type IN ('sedan', 'suv', 'truck', 'van', 'motorcycle', 'other')),
		status            VARCHAR(20) NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'suspended', 'expired')),
		visit_count       BIGINT NOT NULL DEFAULT 0 CHECK (visit_count >= 0),
		violations_count  BIGINT NOT NULL DEFAULT 0 CHECK (violations_count >= 0),
		vehicle_image_url TEXT,
		vehicle_image_key VARCHAR(500),
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_vehicles_plate_number ON vehicles(plate_number);`,
	`CREATE TABLE IF NOT EXISTS cameras (
		id          BIGSERIAL PRIMARY KEY,
		code        VARCHAR(50) NOT NULL,
		name        VARCHAR(255) NOT NULL,
		type        VARCHAR(20) NOT NULL CHECK (type IN ('entrance', 'exit', 'both')),
		location    VARCHAR(255),
		status      VARCHAR(20) NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive', 'maintenance')),
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_cameras_code ON cameras(code);`,
	`CREATE TABLE IF NOT EXISTS visits (
		id                BIGSERIAL PRIMARY KEY,
		vehicle_id        BIGINT REFERENCES vehicles(id),
		camera_id         BIGINT REFERENCES cameras(id),
		camera_code       VARCHAR(50),
		plate_number      VARCHAR(20) NOT NULL,
		visit_type        VARCHAR(20) NOT NULL CHECK (visit_type IN ('entry', 'exit', 'pass_through')),
		confidence        INT NOT NULL DEFAULT 0 CHECK (confidence BETWEEN 0 AND 100),
		region            VARCHAR(50),
		image_url         TEXT,
		image_key         VARCHAR(500),
		plate_image_url   TEXT,
		plate_image_key   VARCHAR(500),
		captured_at       TIMESTAMPTZ NOT NULL,
		provider          VARCHAR(32) NOT NULL,
		provider_event_id VARCHAR(100),
		metadata          JSONB,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_visits_vehicle_id ON visits(vehicle_id);`,
	`CREATE INDEX IF NOT EXISTS idx_visits_camera_id ON visits(camera_id);`,
	`CREATE INDEX IF NOT EXISTS idx_visits_camera_code ON visits(camera_code);`,
	`CREATE INDEX IF NOT EXISTS idx_visits_plate_number ON visits(plate_number);`,
	`CREATE INDEX IF NOT EXISTS idx_visits_captured_at ON visits(captured_at);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_visits_provider_event ON visits(provider, provider_event_id);`,
	`CREATE TABLE IF NOT EXISTS tags (
		id          BIGSERIAL PRIMARY KEY,
		name        VARCHAR(100) NOT NULL,
		category    VARCHAR(20) NOT NULL DEFAULT 'custom'
		            CHECK (category IN ('authorization', 'status', 'priority', 'custom')),
		is_active   BOOLEAN NOT NULL DEFAULT TRUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_tags_name ON tags(name);`,
	`CREATE TABLE IF NOT EXISTS vehicle_tags (
		vehicle_id  BIGINT REFERENCES vehicles(id),
		tag_id      BIGINT REFERENCES tags(id),
		assigned_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (vehicle_id, tag_id)
	);`,
	`INSERT INTO tags (name, category) VALUES
		('blacklist', 'authorization'),
		('whitelist', 'authorization')
	ON CONFLICT (name) DO NOTHING;`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

// Migrate brings the schema up to date. Postgres uses the explicit
// statements above; SQLite falls back to AutoMigrate on the models.
func Migrate(db *gorm.DB) error {
	if db.Dialector.Name() == "postgres" {
		return runMigrations(db)
	}
	if err := db.AutoMigrate(repository.Models()...); err != nil {
		return fmt.Errorf("auto-migrate failed: %w", err)
	}
	return nil
}
