package tally

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
)

// NumWeekdays is the number of weekday buckets, Sunday (0) through Saturday (6).
const NumWeekdays = 7

var (
	ErrInvalidWeekday = errors.New("weekday out of range")
	errCorrupt        = errors.New("corrupt record")
)

// Record is the persisted counter: a grand total and its split by weekday.
type Record struct {
	Total    int64              `json:"total"`
	Weekdays [NumWeekdays]int64 `json:"weekdays"`
}

// Sum adds up the weekday buckets. A consistent record has Sum() == Total.
func (r Record) Sum() int64 {
	return lo.Sum(r.Weekdays[:])
}

// Inc returns r advanced by one on the given day.
func (r Record) Inc(day time.Weekday) (Record, error) {
	if err := checkWeekday(day); err != nil {
		return r, err
	}
	r.Total++
	r.Weekdays[day]++
	return r, nil
}

// Validate reports whether r holds the counter invariants.
func (r Record) Validate() error {
	if r.Total < 0 {
		return fmt.Errorf("%w: total=%d", errCorrupt, r.Total)
	}
	for i, v := range r.Weekdays {
		if v < 0 {
			return fmt.Errorf("%w: weekdays[%d]=%d", errCorrupt, i, v)
		}
	}
	if s := r.Sum(); s != r.Total {
		return fmt.Errorf("%w: total=%d, sum(weekdays)=%d", errCorrupt, r.Total, s)
	}
	return nil
}

func checkWeekday(day time.Weekday) error {
	if day < time.Sunday || day > time.Saturday {
		return fmt.Errorf("%w: %d", ErrInvalidWeekday, int(day))
	}
	return nil
}

// wireRecord is the on-disk shape. Weekdays is a slice so that a short or long
// array is detected instead of being silently padded or truncated.
type wireRecord struct {
	Total    *int64  `json:"total"`
	Weekdays []int64 `json:"weekdays"`
}

func (w wireRecord) record() (Record, error) {
	if w.Total == nil {
		return Record{}, fmt.Errorf("%w: missing total", errCorrupt)
	}
	if len(w.Weekdays) != NumWeekdays {
		return Record{}, fmt.Errorf("%w: %d weekday buckets", errCorrupt, len(w.Weekdays))
	}
	r := Record{Total: *w.Total}
	copy(r.Weekdays[:], w.Weekdays)
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}
