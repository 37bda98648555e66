package repository_test

import (
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm"

	"github.com/sentinelai/sentinel/internal/db"
)

// openTestDB opens a fresh in-memory sqlite database with every migration
// applied, isolated per test via a unique DSN (":memory:" would otherwise
// give every call in a process the same connection pool identity under
// some drivers — a named, mode=memory DSN keeps each test's schema private).
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	gdb, err := db.New(db.Config{
		Driver:   "sqlite",
		DSN:      dsn,
		Logger:   zap.NewNop(),
		LogLevel: gormlogger.Silent,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}

	t.Cleanup(func() {
		sqlDB, err := gdb.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return gdb
}
