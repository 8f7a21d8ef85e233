package tally

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var _ Store = (*SQLStore)(nil)

const sqlRowID = 1

// tallyRow is the single row holding the record; one column per weekday keeps
// the table readable from the sqlite3 shell.
type tallyRow struct {
	ID    uint `gorm:"primaryKey"`
	Total int64
	Sun   int64
	Mon   int64
	Tue   int64
	Wed   int64
	Thu   int64
	Fri   int64
	Sat   int64
}

func (tallyRow) TableName() string {
	return "tally"
}

func (r tallyRow) record() Record {
	return Record{
		Total:    r.Total,
		Weekdays: [NumWeekdays]int64{r.Sun, r.Mon, r.Tue, r.Wed, r.Thu, r.Fri, r.Sat},
	}
}

func rowOf(rec Record) tallyRow {
	w := rec.Weekdays
	return tallyRow{
		ID:    sqlRowID,
		Total: rec.Total,
		Sun:   w[0], Mon: w[1], Tue: w[2], Wed: w[3], Thu: w[4], Fri: w[5], Sat: w[6],
	}
}

// SQLStore keeps the record in a SQLite database through gorm.
type SQLStore struct {
	db     *gorm.DB
	logger *zap.SugaredLogger
	mu     sync.Mutex
}

// OpenSQLStore opens (creating if needed) the SQLite database at path.
func OpenSQLStore(path string, opts ...Option) (*SQLStore, error) {
	o := newStoreOptions(opts)

	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("gorm.Open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&tallyRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("db.AutoMigrate: %w", err)
	}

	return &SQLStore{
		db:     db,
		logger: o.logger.With(zap.String("store", "sqlite"), zap.String("path", path)),
	}, nil
}

func (s *SQLStore) Load(ctx context.Context) (Record, error) {
	return s.load(s.db.WithContext(ctx))
}

func (s *SQLStore) Increment(ctx context.Context, day time.Weekday) (Record, error) {
	if err := checkWeekday(day); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var next Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := s.load(tx)
		if err != nil {
			return err
		}
		next, err = cur.Inc(day)
		if err != nil {
			return err
		}
		row := rowOf(next)
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("tx.Save: %w", err)
		}
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return next, nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("db.DB: %w", err)
	}
	return sqlDB.Close()
}

func (s *SQLStore) load(db *gorm.DB) (Record, error) {
	var row tallyRow
	err := db.Take(&row, sqlRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("db.Take: %w", err)
	}
	rec := row.record()
	if err := rec.Validate(); err != nil {
		s.logger.Warnf("Validate: %v, using zero record", err)
		return Record{}, nil
	}
	return rec, nil
}
