package tally

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"go.uber.org/zap"
)

var _ Store = (*DatastoreStore)(nil)

// datastoreEntity is the stored form. Weekdays must hold NumWeekdays values.
type datastoreEntity struct {
	Total     int64
	Weekdays  []int64 `datastore:",noindex"`
	UpdatedAt time.Time
}

// DatastoreStore keeps the record in one Cloud Datastore entity and
// increments it inside a transaction, which Datastore retries on contention.
type DatastoreStore struct {
	client *datastore.Client
	key    *datastore.Key
	logger *zap.SugaredLogger
}

func NewDatastoreStore(client *datastore.Client, namespace, kind, name string, opts ...Option) *DatastoreStore {
	o := newStoreOptions(opts)
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = namespace
	return &DatastoreStore{
		client: client,
		key:    key,
		logger: o.logger.With(zap.String("store", "datastore"), zap.Stringer("key", key)),
	}
}

func (s *DatastoreStore) Load(ctx context.Context) (Record, error) {
	var e datastoreEntity
	err := s.client.Get(ctx, s.key, &e)
	return s.record(&e, err)
}

func (s *DatastoreStore) Increment(ctx context.Context, day time.Weekday) (Record, error) {
	if err := checkWeekday(day); err != nil {
		return Record{}, err
	}

	var next Record
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		// May run more than once; next is recomputed on every attempt.
		var e datastoreEntity
		cur, err := s.record(&e, tx.Get(s.key, &e))
		if err != nil {
			return err
		}
		next, err = cur.Inc(day)
		if err != nil {
			return err
		}
		_, err = tx.Put(s.key, &datastoreEntity{
			Total:     next.Total,
			Weekdays:  next.Weekdays[:],
			UpdatedAt: time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("tx.Put: %w", err)
		}
		return nil
	})
	if err != nil {
		return Record{}, fmt.Errorf("RunInTransaction: %w", err)
	}
	return next, nil
}

func (s *DatastoreStore) Close() error {
	return s.client.Close()
}

func (s *DatastoreStore) record(e *datastoreEntity, getErr error) (Record, error) {
	if errors.Is(getErr, datastore.ErrNoSuchEntity) {
		return Record{}, nil
	}
	var mismatch *datastore.ErrFieldMismatch
	if errors.As(getErr, &mismatch) {
		s.logger.Warnf("Get: %v, using zero record", getErr)
		return Record{}, nil
	}
	if getErr != nil {
		return Record{}, fmt.Errorf("Get: %w", getErr)
	}
	rec, err := wireRecord{Total: &e.Total, Weekdays: e.Weekdays}.record()
	if err != nil {
		s.logger.Warnf("%v, using zero record", err)
		return Record{}, nil
	}
	return rec, nil
}
