package feed

import (
	"context"
	"strconv"

	"github.com/minhtuanle/crypto-strike-bot/pkg/types"
)

// ReplayFeed replays a recorded update sequence. Used by tests and dry
// runs; delivery order equals slice order, so downstream behavior is fully
// deterministic.
type ReplayFeed struct {
	records []types.PriceUpdate
	updates chan types.PriceUpdate
}

// NewReplayFeed creates a feed over the given records.
func NewReplayFeed(records []types.PriceUpdate) *ReplayFeed {
	return &ReplayFeed{
		records: records,
		updates: make(chan types.PriceUpdate),
	}
}

// Updates implements Feed.
func (f *ReplayFeed) Updates() <-chan types.PriceUpdate {
	return f.updates
}

// Run pushes every record and then closes the stream.
func (f *ReplayFeed) Run(ctx context.Context) error {
	defer close(f.updates)
	for _, u := range f.records {
		select {
		case <-ctx.Done():
			return nil
		case f.updates <- u:
		}
	}
	return nil
}

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
