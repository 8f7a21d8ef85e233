package tally

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Store owns the canonical counter record.
//
// Increment calls are linearizable: N completed increments advance Total by
// exactly N. Load observes a record either before or after a concurrent
// increment, never one with Total and the weekday bucket out of step.
// Missing or unreadable persisted state loads as the zero Record.
type Store interface {
	Load(ctx context.Context) (Record, error)
	Increment(ctx context.Context, day time.Weekday) (Record, error)
	Close() error
}

// Marshal renders r the way it is persisted: indented JSON with exactly the
// "total" and "weekdays" keys.
func Marshal(r Record) ([]byte, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("json.MarshalIndent: %w", err)
	}
	return append(b, '\n'), nil
}

// Unmarshal parses persisted bytes. Anything that is not a well-formed record
// satisfying Validate is an error; callers recover by using the zero Record.
func Unmarshal(b []byte) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(b, &w); err != nil {
		return Record{}, fmt.Errorf("%w: %w", errCorrupt, err)
	}
	return w.record()
}
