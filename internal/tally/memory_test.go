package tally_test

import (
	"testing"

	"github.com/tckz/tally-counter/internal/tally"
	"github.com/tckz/tally-counter/internal/tally/tallytest"
)

func TestMemoryStore(t *testing.T) {
	tallytest.Suite{
		New: func(t *testing.T) tally.Store {
			return tally.NewMemoryStore()
		},
	}.Run(t)
}
