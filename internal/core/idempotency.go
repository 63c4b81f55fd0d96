package core

import (
	"container/list"
	"fmt"
)

// DBIdempotencyChecker is the cold-path dedup lookup, backed by Postgres in
// production. Nil disables the second tier.
type DBIdempotencyChecker interface {
	IsDuplicate(kind, idempotencyKey string) (bool, error)
}

// IdempotencyChecker deduplicates commands in two tiers: an in-memory LRU
// for the hot path and the database for keys that have aged out of it.
type IdempotencyChecker struct {
	lru       *idempotencyLRU
	dbChecker DBIdempotencyChecker
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       newIdempotencyLRU(capacity),
		dbChecker: dbChecker,
	}
}

// IsDuplicate reports whether the command was already processed. A database
// error counts as not-duplicate so a storage hiccup cannot stall intake;
// replays that slip through are idempotent at the engine level.
func (ic *IdempotencyChecker) IsDuplicate(kind, idempotencyKey string) bool {
	key := fmt.Sprintf("%s:%s", kind, idempotencyKey)

	if ic.lru.contains(key) {
		return true
	}
	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(kind, idempotencyKey)
		if err != nil {
			return false
		}
		if isDup {
			ic.lru.add(key)
			return true
		}
	}
	return false
}

// MarkProcessed records a key after successful processing.
func (ic *IdempotencyChecker) MarkProcessed(kind, idempotencyKey string) {
	ic.lru.add(fmt.Sprintf("%s:%s", kind, idempotencyKey))
}

// Warm preloads composite keys, typically the most recent rows from the
// database on restart.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, key := range keys {
		ic.lru.add(key)
	}
}

// RecentKeys returns up to limit composite keys, most recent first, for
// snapshotting so a restart can warm the LRU without a DB scan.
func (ic *IdempotencyChecker) RecentKeys(limit int) []string {
	keys := make([]string, 0, limit)
	for elem := ic.lru.order.Front(); elem != nil && len(keys) < limit; elem = elem.Next() {
		keys = append(keys, elem.Value.(string))
	}
	return keys
}

// idempotencyLRU is not thread-safe; it is only touched from the processor
// goroutine.
type idempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List
}

func newIdempotencyLRU(capacity int) *idempotencyLRU {
	return &idempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

func (lru *idempotencyLRU) contains(key string) bool {
	elem, ok := lru.cache[key]
	if ok {
		lru.order.MoveToFront(elem)
	}
	return ok
}

func (lru *idempotencyLRU) add(key string) {
	if elem, ok := lru.cache[key]; ok {
		lru.order.MoveToFront(elem)
		return
	}
	lru.cache[key] = lru.order.PushFront(key)

	if lru.order.Len() > lru.capacity {
		oldest := lru.order.Back()
		lru.order.Remove(oldest)
		delete(lru.cache, oldest.Value.(string))
	}
}
