package runtime

import (
	"container/list"
	"fmt"
)

// DedupChecker implements two-tier transaction deduplication: a hot in-memory
// LRU backed by a cold Postgres lookup.
type DedupChecker struct {
	lru       *dedupLRU
	dbChecker DBDedupChecker

	duplicatesLRU int64
	duplicatesDB  int64
	tier2Errors   int64
}

// DBDedupChecker is the cold-path lookup against the transaction log.
type DBDedupChecker interface {
	IsDuplicate(callType, txID string) (bool, error)
}

// NewDedupChecker creates a checker holding up to capacity keys in memory.
// dbChecker may be nil.
func NewDedupChecker(capacity int, dbChecker DBDedupChecker) *DedupChecker {
	return &DedupChecker{
		lru:       newDedupLRU(capacity),
		dbChecker: dbChecker,
	}
}

// IsDuplicate reports whether the transaction was already processed. A cold
// lookup failure counts as "not a duplicate": the transaction log's unique
// constraint catches the rare miss, a dead database must not stall intake.
func (dc *DedupChecker) IsDuplicate(callType, txID string) bool {
	key := fmt.Sprintf("%s:%s", callType, txID)

	if dc.lru.contains(key) {
		dc.duplicatesLRU++
		return true
	}

	if dc.dbChecker != nil {
		isDup, err := dc.dbChecker.IsDuplicate(callType, txID)
		if err != nil {
			dc.tier2Errors++
			return false
		}
		if isDup {
			dc.duplicatesDB++
			dc.lru.add(key)
			return true
		}
	}
	return false
}

// MarkProcessed records the key after successful processing.
func (dc *DedupChecker) MarkProcessed(callType, txID string) {
	dc.lru.add(fmt.Sprintf("%s:%s", callType, txID))
}

// Warm preloads composite keys, typically the most recent transaction log
// entries at startup.
func (dc *DedupChecker) Warm(keys []string) {
	for _, key := range keys {
		dc.lru.add(key)
	}
}

// Stats returns duplicate and error counters for monitoring.
func (dc *DedupChecker) Stats() (lruHits, dbHits, tier2Errors int64) {
	return dc.duplicatesLRU, dc.duplicatesDB, dc.tier2Errors
}

// dedupLRU is a plain LRU over composite keys.
// Not thread-safe — only accessed from the single-threaded executive.
type dedupLRU struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List
}

func newDedupLRU(capacity int) *dedupLRU {
	return &dedupLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

func (lru *dedupLRU) contains(key string) bool {
	elem, ok := lru.cache[key]
	if ok {
		lru.order.MoveToFront(elem)
	}
	return ok
}

func (lru *dedupLRU) add(key string) {
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
