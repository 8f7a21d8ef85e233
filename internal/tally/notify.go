package tally

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Notifier is told about every increment that has been durably applied.
type Notifier interface {
	Notify(ctx context.Context, day time.Weekday, rec Record)
	Close() error
}

var _ Store = (*NotifyingStore)(nil)

// NotifyingStore forwards successful increments to a Notifier. Notification is
// best effort and never turns a durable increment into a failure.
type NotifyingStore struct {
	Store
	notifier Notifier
	logger   *zap.SugaredLogger
}

func NewNotifyingStore(s Store, n Notifier, opts ...Option) *NotifyingStore {
	o := newStoreOptions(opts)
	return &NotifyingStore{Store: s, notifier: n, logger: o.logger}
}

func (s *NotifyingStore) Increment(ctx context.Context, day time.Weekday) (Record, error) {
	rec, err := s.Store.Increment(ctx, day)
	if err != nil {
		return Record{}, err
	}
	s.notifier.Notify(ctx, day, rec)
	return rec, nil
}

func (s *NotifyingStore) Close() error {
	if err := s.notifier.Close(); err != nil {
		s.logger.Errorf("notifier.Close: %v", err)
	}
	return s.Store.Close()
}
