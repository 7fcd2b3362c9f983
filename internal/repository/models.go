package repository

// Models lists every table owned by this service, in dependency order.
// Used by AutoMigrate for SQLite and by tests.
func Models() []interface{} {
	return []interface{}{
		&Vehicle{},
		&Camera{},
		&Visit{},
		&Tag{},
		&VehicleTag{},
	}
}
