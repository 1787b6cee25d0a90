// Package depthcache implements §4.2's DepthCache: a local order-book
// reconstructed from a REST snapshot plus a depth diff stream, exposing a
// sorted, formatted view for renderers.
//
// Grounded on thrasher-corp/gocryptotrader's exchanges/stream/buffer
// validate-then-apply pattern (an update with a stale id is dropped rather
// than applied, and a snapshot replaces the book wholesale), simplified from
// its buffered out-of-order replay machinery down to the single
// drop-if-stale rule §4.2 specifies — the broker always receives depth
// updates in sequence off one combined stream, so there is nothing to
// reorder.
package depthcache

import (
	"sort"
	"strconv"
	"sync"
)

// Snapshot is the REST depth response driving snapshot().
type Snapshot struct {
	LastUpdateID uint64
	Bids         [][2]string // [price, qty]
	Asks         [][2]string
}

// Update is a single depthUpdate stream frame driving update().
type Update struct {
	FinalUpdateID uint64
	Bids          [][2]string
	Asks          [][2]string
}

// Level is one (price, qty) pair in a Formatted view.
type Level struct {
	Price string
	Qty   string
}

// Formatted is the sorted view returned to renderers: bids descending by
// numeric price, asks ascending.
type Formatted struct {
	LastUpdateID uint64
	Bids         []Level
	Asks         []Level
}

// DepthCache holds one symbol's reconstructed order book.
type DepthCache struct {
	mu           sync.RWMutex
	lastUpdateID uint64
	bids         map[string]string // price -> qty
	asks         map[string]string
}

// New returns an empty DepthCache, populated by the first Snapshot call.
func New() *DepthCache {
	return &DepthCache{
		bids: make(map[string]string),
		asks: make(map[string]string),
	}
}

// ApplySnapshot replaces the book wholesale with s's entries, dropping any
// zero-quantity rows. Resets lastUpdateID to s.LastUpdateID regardless of
// its previous value — a fresh snapshot always wins.
func (d *DepthCache) ApplySnapshot(s Snapshot) {
	bids := make(map[string]string, len(s.Bids))
	for _, lvl := range s.Bids {
		if isZeroQty(lvl[1]) {
			continue
		}
		bids[lvl[0]] = lvl[1]
	}
	asks := make(map[string]string, len(s.Asks))
	for _, lvl := range s.Asks {
		if isZeroQty(lvl[1]) {
			continue
		}
		asks[lvl[0]] = lvl[1]
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastUpdateID = s.LastUpdateID
	d.bids = bids
	d.asks = asks
}

// ApplyUpdate applies a single depth diff frame per §4.2: drop if stale,
// else upsert/evict each touched price and advance lastUpdateID. Returns
// false if the update was dropped as stale.
func (d *DepthCache) ApplyUpdate(u Update) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if u.FinalUpdateID <= d.lastUpdateID {
		return false
	}

	applySide(d.bids, u.Bids)
	applySide(d.asks, u.Asks)
	d.lastUpdateID = u.FinalUpdateID
	return true
}

func applySide(side map[string]string, levels [][2]string) {
	for _, lvl := range levels {
		price, qty := lvl[0], lvl[1]
		if isZeroQty(qty) {
			delete(side, price)
			continue
		}
		side[price] = qty
	}
}

func isZeroQty(qty string) bool {
	f, err := strconv.ParseFloat(qty, 64)
	if err != nil {
		return false
	}
	return f == 0
}

// Formatted returns the current book sorted for rendering: bids descending
// by numeric price, asks ascending. The broker does not truncate depth; the
// renderer decides how much of the book to display.
func (d *DepthCache) Formatted() Formatted {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return Formatted{
		LastUpdateID: d.lastUpdateID,
		Bids:         sortLevels(d.bids, true),
		Asks:         sortLevels(d.asks, false),
	}
}

func sortLevels(side map[string]string, descending bool) []Level {
	levels := make([]Level, 0, len(side))
	for price, qty := range side {
		levels = append(levels, Level{Price: price, Qty: qty})
	}
	sort.Slice(levels, func(i, j int) bool {
		pi, _ := strconv.ParseFloat(levels[i].Price, 64)
		pj, _ := strconv.ParseFloat(levels[j].Price, 64)
		if descending {
			return pi > pj
		}
		return pi < pj
	})
	return levels
}

// LastUpdateID returns the cache's current sequence marker.
func (d *DepthCache) LastUpdateID() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastUpdateID
}
