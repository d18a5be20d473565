package feed

import (
	"context"

	"github.com/minhtuanle/crypto-strike-bot/pkg/types"
)

// Feed is a push source of normalized price updates. Implementations own
// their transport; consumers only see the canonical stream.
type Feed interface {
	// Updates delivers price updates in arrival order. The channel is
	// closed when the feed stops.
	Updates() <-chan types.PriceUpdate

	// Run drives the feed until the context is cancelled.
	Run(ctx context.Context) error
}
