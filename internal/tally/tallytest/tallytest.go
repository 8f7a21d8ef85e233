// Package tallytest checks a tally.Store implementation against the counter
// contract: zero start, exact per-weekday increments and no lost updates.
package tallytest

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tckz/tally-counter/internal/tally"
)

// Suite runs the contract tests. New must return an empty store that is closed
// when the test ends.
type Suite struct {
	New        func(t *testing.T) tally.Store
	Concurrent int
	Sequential int
}

func (s Suite) Run(t *testing.T) {
	if s.Concurrent == 0 {
		s.Concurrent = 64
	}
	if s.Sequential == 0 {
		s.Sequential = 1000
	}

	t.Run("ZeroOnFresh", s.testZeroOnFresh)
	t.Run("Wednesday", s.testWednesday)
	t.Run("SaturdayAfterWeekdays", s.testSaturdayAfterWeekdays)
	t.Run("InvalidWeekday", s.testInvalidWeekday)
	t.Run("LoadAfterIncrement", s.testLoadAfterIncrement)
	t.Run("RepeatedLoad", s.testRepeatedLoad)
	t.Run("Concurrent", s.testConcurrent)
	t.Run("Sequential", s.testSequential)
}

func (s Suite) testZeroOnFresh(t *testing.T) {
	st := s.New(t)
	rec, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec != (tally.Record{}) {
		t.Errorf("Expected zero record, got %+v", rec)
	}
}

func (s Suite) testWednesday(t *testing.T) {
	ctx := context.Background()
	st := s.New(t)

	before, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	after, err := st.Increment(ctx, time.Wednesday)
	if err != nil {
		t.Fatalf("Increment: %v", err)
	}

	if after.Total != before.Total+1 {
		t.Errorf("Expected total %d, got %d", before.Total+1, after.Total)
	}
	for i := range after.Weekdays {
		want := before.Weekdays[i]
		if i == int(time.Wednesday) {
			want++
		}
		if after.Weekdays[i] != want {
			t.Errorf("weekdays[%d]: expected %d, got %d", i, want, after.Weekdays[i])
		}
	}
}

func (s Suite) testSaturdayAfterWeekdays(t *testing.T) {
	ctx := context.Background()
	st := s.New(t)

	for d := time.Sunday; d <= time.Thursday; d++ {
		if _, err := st.Increment(ctx, d); err != nil {
			t.Fatalf("Increment(%s): %v", d, err)
		}
	}
	got, err := st.Increment(ctx, time.Saturday)
	if err != nil {
		t.Fatalf("Increment(Saturday): %v", err)
	}

	want := tally.Record{Total: 6, Weekdays: [7]int64{1, 1, 1, 1, 1, 0, 1}}
	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}

func (s Suite) testInvalidWeekday(t *testing.T) {
	ctx := context.Background()
	st := s.New(t)

	for _, d := range []time.Weekday{-1, 7} {
		if _, err := st.Increment(ctx, d); !errors.Is(err, tally.ErrInvalidWeekday) {
			t.Errorf("Increment(%d): expected ErrInvalidWeekday, got %v", d, err)
		}
	}
	rec, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec != (tally.Record{}) {
		t.Errorf("Expected untouched zero record, got %+v", rec)
	}
}

func (s Suite) testLoadAfterIncrement(t *testing.T) {
	ctx := context.Background()
	st := s.New(t)

	for i := 0; i < 5; i++ {
		inc, err := st.Increment(ctx, time.Weekday(i%7))
		if err != nil {
			t.Fatalf("Increment: %v", err)
		}
		got, err := st.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got.Total < inc.Total {
			t.Fatalf("Load after Increment went backwards: %d < %d", got.Total, inc.Total)
		}
	}
}

func (s Suite) testRepeatedLoad(t *testing.T) {
	ctx := context.Background()
	st := s.New(t)

	if _, err := st.Increment(ctx, time.Monday); err != nil {
		t.Fatalf("Increment: %v", err)
	}

	var first []byte
	for i := 0; i < 3; i++ {
		rec, err := st.Load(ctx)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		b, err := tally.Marshal(rec)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if first == nil {
			first = b
		} else if !bytes.Equal(first, b) {
			t.Fatalf("Expected identical output, got %s and %s", first, b)
		}
	}
}

func (s Suite) testConcurrent(t *testing.T) {
	ctx := context.Background()
	st := s.New(t)
	n := s.Concurrent

	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(day time.Weekday) {
			defer wg.Done()
			if _, err := st.Increment(ctx, day); err != nil {
				errs <- err
			}
		}(time.Weekday(i % 7))
		go func() {
			defer wg.Done()
			rec, err := st.Load(ctx)
			if err != nil {
				errs <- err
				return
			}
			if err := rec.Validate(); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent op: %v", err)
	}

	rec, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.Total != int64(n) {
		t.Errorf("Expected total %d, got %d", n, rec.Total)
	}
	if rec.Sum() != rec.Total {
		t.Errorf("Expected sum(weekdays) == total, got %d != %d", rec.Sum(), rec.Total)
	}
	for d := 0; d < 7; d++ {
		want := int64(n / 7)
		if d < n%7 {
			want++
		}
		if rec.Weekdays[d] != want {
			t.Errorf("weekdays[%d]: expected %d, got %d", d, want, rec.Weekdays[d])
		}
	}
}

func (s Suite) testSequential(t *testing.T) {
	ctx := context.Background()
	st := s.New(t)

	for i := 0; i < s.Sequential; i++ {
		if _, err := st.Increment(ctx, time.Weekday(i%7)); err != nil {
			t.Fatalf("Increment #%d: %v", i, err)
		}
	}
	rec, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.Total != int64(s.Sequential) || rec.Sum() != rec.Total {
		t.Errorf("Expected total=sum=%d, got total=%d sum=%d", s.Sequential, rec.Total, rec.Sum())
	}
}
