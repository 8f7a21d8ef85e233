package tally

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

var _ Store = (*FileStore)(nil)

// FileStore persists the record as a JSON document at a fixed path.
// Writes go to a temporary file in the same directory which is then renamed
// over the target, so readers never see a half-written document.
type FileStore struct {
	path   string
	logger *zap.SugaredLogger
	mu     sync.RWMutex
}

type Option func(o *storeOptions)

type storeOptions struct {
	logger *zap.SugaredLogger
}

func WithLogger(l *zap.SugaredLogger) Option {
	return Option(func(o *storeOptions) {
		o.logger = l
	})
}

func newStoreOptions(opts []Option) storeOptions {
	o := storeOptions{logger: zap.NewNop().Sugar()}
	for _, e := range opts {
		e(&o)
	}
	return o
}

// NewFileStore prepares path, creating its directory and a zero record if the
// file does not exist yet.
func NewFileStore(path string, opts ...Option) (*FileStore, error) {
	o := newStoreOptions(opts)
	s := &FileStore{path: path, logger: o.logger.With(zap.String("store", "file"), zap.String("path", path))}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("os.MkdirAll: %w", err)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.write(Record{}); err != nil {
			return nil, err
		}
		s.logger.Infof("created zero record")
	} else if err != nil {
		return nil, fmt.Errorf("os.Stat: %w", err)
	}
	return s, nil
}

func (s *FileStore) Load(ctx context.Context) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read()
}

func (s *FileStore) Increment(ctx context.Context, day time.Weekday) (Record, error) {
	if err := checkWeekday(day); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.read()
	if err != nil {
		return Record{}, err
	}
	next, err := cur.Inc(day)
	if err != nil {
		return Record{}, err
	}
	if err := s.write(next); err != nil {
		return Record{}, err
	}
	return next, nil
}

func (s *FileStore) Close() error {
	return nil
}

// read returns the zero record for a missing or unparseable file. Any other
// I/O failure is an error so that Increment never writes over a file it
// could not read.
func (s *FileStore) read() (Record, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, nil
	} else if err != nil {
		return Record{}, fmt.Errorf("os.ReadFile: %w", err)
	}
	rec, err := Unmarshal(b)
	if err != nil {
		s.logger.Warnf("Unmarshal: %v, using zero record", err)
		return Record{}, nil
	}
	return rec, nil
}

func (s *FileStore) write(rec Record) (retErr error) {
	b, err := Marshal(rec)
	if err != nil {
		return err
	}

	fp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("os.CreateTemp: %w", err)
	}
	defer func() {
		if retErr != nil {
			os.Remove(fp.Name())
		}
	}()

	if _, err := fp.Write(b); err != nil {
		fp.Close()
		return fmt.Errorf("fp.Write: %w", err)
	}
	if err := fp.Sync(); err != nil {
		fp.Close()
		return fmt.Errorf("fp.Sync: %w", err)
	}
	if err := fp.Close(); err != nil {
		return fmt.Errorf("fp.Close: %w", err)
	}
	if err := os.Chmod(fp.Name(), 0o644); err != nil {
		return fmt.Errorf("os.Chmod: %w", err)
	}
	if err := os.Rename(fp.Name(), s.path); err != nil {
		return fmt.Errorf("os.Rename: %w", err)
	}
	return nil
}
