package oracle

import (
	"sync"
	"time"
)

// feedEntry is one asset's latest accepted quote.
type feedEntry struct {
	quote         PriceQuote
	confidenceBps uint32
	publishTime   int64
	sequence      int64
}

// FeedOracle serves the latest quote pushed by a price feed. Unlike
// StaticOracle it enforces the caller's staleness and confidence bounds at
// read time, so a dead feed surfaces as ErrStaleOrLowConfidence rather than
// a frozen price.
type FeedOracle struct {
	mu      sync.RWMutex
	entries map[AssetID]feedEntry

	// now is swapped out in tests.
	now func() int64
}

func NewFeedOracle() *FeedOracle {
	return &FeedOracle{
		entries: make(map[AssetID]feedEntry),
		now:     func() int64 { return time.Now().Unix() },
	}
}

// Update stores a quote. Updates with a stale sequence are dropped so an
// out-of-order feed cannot roll the price back.
func (o *FeedOracle) Update(asset AssetID, quote PriceQuote, confidenceBps uint32, publishTime, sequence int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if prev, ok := o.entries[asset]; ok && sequence <= prev.sequence {
		return false
	}
	o.entries[asset] = feedEntry{
		quote:         quote,
		confidenceBps: confidenceBps,
		publishTime:   publishTime,
		sequence:      sequence,
	}
	return true
}

// GetPrice returns the latest quote if it is fresh and confident enough.
func (o *FeedOracle) GetPrice(asset AssetID, maxAgeSeconds uint64, maxConfidenceBps uint32) (PriceQuote, error) {
	o.mu.RLock()
	entry, ok := o.entries[asset]
	o.mu.RUnlock()

	if !ok {
		return PriceQuote{}, ErrStaleOrLowConfidence
	}
	age := o.now() - entry.publishTime
	if age < 0 {
		age = 0
	}
	if uint64(age) > maxAgeSeconds {
		return PriceQuote{}, ErrStaleOrLowConfidence
	}
	if entry.confidenceBps > maxConfidenceBps {
		return PriceQuote{}, ErrStaleOrLowConfidence
	}
	return entry.quote, nil
}
