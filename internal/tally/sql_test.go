package tally_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tckz/tally-counter/internal/tally"
	"github.com/tckz/tally-counter/internal/tally/tallytest"
)

func newSQLStore(t *testing.T, path string) *tally.SQLStore {
	t.Helper()
	s, err := tally.OpenSQLStore(path)
	if err != nil {
		t.Fatalf("OpenSQLStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLStore(t *testing.T) {
	tallytest.Suite{
		New: func(t *testing.T) tally.Store {
			return newSQLStore(t, filepath.Join(t.TempDir(), "tally.db"))
		},
	}.Run(t)
}

func TestSQLStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tally.db")

	s := newSQLStore(t, path)
	if _, err := s.Increment(ctx, time.Saturday); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rec, err := newSQLStore(t, path).Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.Total != 1 || rec.Weekdays[time.Saturday] != 1 {
		t.Errorf("Unexpected record after reopen %+v", rec)
	}
}

func TestSQLStore_InconsistentRowLoadsZero(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tally.db")
	s := newSQLStore(t, path)

	if _, err := s.Increment(ctx, time.Monday); err != nil {
		t.Fatalf("Increment: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	if err := db.Exec("UPDATE tally SET total = 42").Error; err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	rec, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec != (tally.Record{}) {
		t.Errorf("Expected zero record, got %+v", rec)
	}
}
