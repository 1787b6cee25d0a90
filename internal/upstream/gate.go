// Package upstream implements §4.5's long-lived upstream connection
// supervisors: the public ticker stream and the private user-data stream,
// each shared process-wide across every renderer, plus the connect-throttle
// gate that the ticker and user-data connects pass through.
//
// Grounded on internal/binance/user_data_stream.go's connect-loop/readLoop/
// keepAliveLoop shape, adapted from a single-exchange-client callback style
// to broadcasting normalized frames through a Broadcaster.
package upstream

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Gate enforces a ≥500ms spacing between upstream connects. It is shared by
// the ticker and user-data supervisors; the market socket connects made by
// streammanager do not pass through it.
type Gate struct {
	limiter *rate.Limiter
}

// NewGate builds a Gate admitting one connect every interval (default 500ms).
func NewGate(interval time.Duration) *Gate {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Gate{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the gate admits the next connect attempt.
func (g *Gate) Wait(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}
