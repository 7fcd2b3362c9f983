package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, gdb.AutoMigrate(Models()...))
	return gdb
}

func createVehicle(t *testing.T, gdb *gorm.DB, plate string, visits int64) Vehicle {
	t.Helper()
	v := Vehicle{PlateNumber: plate, OwnerName: "Unknown", OwnerType: "visitor", VisitCount: visits}
	require.NoError(t, gdb.Create(&v).Error)
	return v
}

func TestRegisterVisit_IncrementsInSQL(t *testing.T) {
	gdb := newTestDB(t)
	v := createVehicle(t, gdb, "ABC123", 0)

	var (
		sql  string
		vars []interface{}
	)
	require.NoError(t, gdb.Callback().Update().After("gorm:update").Register("test:capture_sql", func(tx *gorm.DB) {
		if tx.Statement.Table == "vehicles" {
			sql = tx.Statement.SQL.String()
			vars = append([]interface{}(nil), tx.Statement.Vars...)
		}
	}))

	repo := NewANPRRepository(gdb)
	require.NoError(t, repo.RegisterVisit(context.Background(), v.ID, VehicleUpdate{}, true))

	assert.Contains(t, sql, "visit_count + ?")
	assert.Contains(t, vars, 1)
}

func TestRegisterVisit_CountsFromStoredValue(t *testing.T) {
	gdb := newTestDB(t)

	// Counts start from the stored value, not from anything the caller holds.
	v := createVehicle(t, gdb, "XYZ789", 5)
	repo := NewANPRRepository(gdb)
	ctx := context.Background()
	require.NoError(t, repo.RegisterVisit(ctx, v.ID, VehicleUpdate{}, true))
	require.NoError(t, repo.RegisterVisit(ctx, v.ID, VehicleUpdate{Make: "Toyota"}, true))

	var got Vehicle
	require.NoError(t, gdb.First(&got, v.ID).Error)
	assert.Equal(t, int64(7), got.VisitCount)
	require.NotNil(t, got.Make)
	assert.Equal(t, "Toyota", *got.Make)
}

func TestRegisterVisit_MissingVehicle(t *testing.T) {
	repo := NewANPRRepository(newTestDB(t))
	err := repo.RegisterVisit(context.Background(), 404, VehicleUpdate{}, false)
	assert.ErrorIs(t, err, ErrNotFound)
}
