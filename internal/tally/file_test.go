package tally_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tckz/tally-counter/internal/tally"
	"github.com/tckz/tally-counter/internal/tally/tallytest"
)

func newFileStore(t *testing.T, path string) *tally.FileStore {
	t.Helper()
	s, err := tally.NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFileStore(t *testing.T) {
	tallytest.Suite{
		New: func(t *testing.T) tally.Store {
			return newFileStore(t, filepath.Join(t.TempDir(), "data.json"))
		},
	}.Run(t)
}

func TestFileStore_CreatesZeroFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "data.json")
	newFileStore(t, path)

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "{\n  \"total\": 0,\n  \"weekdays\": [\n    0,\n    0,\n    0,\n    0,\n    0,\n    0,\n    0\n  ]\n}\n"
	if string(b) != want {
		t.Errorf("Expected %q, got %q", want, b)
	}
}

func TestFileStore_KeepsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	if err := os.WriteFile(path, []byte(`{"total":2,"weekdays":[1,0,0,0,0,0,1]}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := newFileStore(t, path)
	rec, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := tally.Record{Total: 2, Weekdays: [7]int64{1, 0, 0, 0, 0, 0, 1}}
	if rec != want {
		t.Errorf("Expected %+v, got %+v", want, rec)
	}
}

func TestFileStore_CorruptOrMissingLoadsZero(t *testing.T) {
	tests := []struct {
		name    string
		content *string
	}{
		{"missing", nil},
		{"empty", ptr("")},
		{"garbage", ptr("{{{")},
		{"wrong shape", ptr(`{"total":"x","weekdays":{}}`)},
		{"inconsistent", ptr(`{"total":10,"weekdays":[1,1,1,1,1,0,0]}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "data.json")
			s := newFileStore(t, path)

			if tt.content == nil {
				if err := os.Remove(path); err != nil {
					t.Fatalf("Remove: %v", err)
				}
			} else if err := os.WriteFile(path, []byte(*tt.content), 0o644); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}

			rec, err := s.Load(context.Background())
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if rec != (tally.Record{}) {
				t.Errorf("Expected zero record, got %+v", rec)
			}

			// The next increment starts over from zero.
			rec, err = s.Increment(context.Background(), time.Tuesday)
			if err != nil {
				t.Fatalf("Increment: %v", err)
			}
			if rec.Total != 1 || rec.Weekdays[time.Tuesday] != 1 {
				t.Errorf("Unexpected record %+v", rec)
			}
		})
	}
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.json")

	s := newFileStore(t, path)
	for i := 0; i < 3; i++ {
		if _, err := s.Increment(ctx, time.Friday); err != nil {
			t.Fatalf("Increment: %v", err)
		}
	}

	reopened := newFileStore(t, path)
	rec, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.Total != 3 || rec.Weekdays[time.Friday] != 3 {
		t.Errorf("Unexpected record after reopen %+v", rec)
	}
}

func TestFileStore_WriteFailureIsReported(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "state")
	path := filepath.Join(dir, "data.json")

	s := newFileStore(t, path)
	if _, err := s.Increment(ctx, time.Monday); err != nil {
		t.Fatalf("Increment: %v", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	if _, err := s.Increment(ctx, time.Monday); err == nil {
		t.Fatal("Expected an error when the directory is gone")
	}

	// Nothing was written, so nothing was left behind either.
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("Expected directory to stay absent, got %v", err)
	}
}

func TestFileStore_ReadFailureIsReported(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.json")
	s := newFileStore(t, path)

	// A directory in place of the file fails the read with EISDIR, which is
	// neither "missing" nor "corrupt".
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	if _, err := s.Load(ctx); err == nil || !strings.Contains(err.Error(), "os.ReadFile") {
		t.Errorf("Expected read error from Load, got %v", err)
	}
	if _, err := s.Increment(ctx, time.Monday); err == nil || !strings.Contains(err.Error(), "os.ReadFile") {
		t.Errorf("Expected read error from Increment, got %v", err)
	}
	if st, err := os.Stat(path); err != nil || !st.IsDir() {
		t.Errorf("Expected the directory to be left alone, got %v, %v", st, err)
	}
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := newFileStore(t, filepath.Join(dir, "data.json"))

	for i := 0; i < 10; i++ {
		if _, err := s.Increment(ctx, time.Sunday); err != nil {
			t.Fatalf("Increment: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected only data.json, got %d entries", len(entries))
	}
}

func ptr(s string) *string {
	return &s
}
