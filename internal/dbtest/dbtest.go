// Package dbtest opens throwaway in-memory SQLite databases with the
// production schema for package tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"resume-mail-import/internal/db"
	"resume-mail-import/internal/model"
)

// Open returns a migrated, isolated database that lives until the test ends.
// A single connection serializes statements the way row locks would on MySQL.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", model.NewID())
	gdb, err := db.Open(sqlite.Open(dsn))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return gdb
}

// SeedJobPosting inserts a job posting row and returns its id
func SeedJobPosting(t testing.TB, gdb *gorm.DB, id string) string {
	t.Helper()
	if err := gdb.Create(&model.JobPosting{ID: id, Title: "Backend Engineer " + id, Description: "Go, MySQL"}).Error; err != nil {
		t.Fatalf("seed job posting: %v", err)
	}
	return id
}
