package cache

import (
	"container/list"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// Local is the in-process first cache tier: a fixed-capacity LRU with
// per-entry TTL. All methods are safe for concurrent use and never block on
// I/O, so the answer pipeline can consult it on every request without a
// latency budget.
type Local struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration

	items map[Key]*list.Element
	// order tracks recency: front is the least recently used entry and is
	// the first eviction candidate when the cache is full.
	order *list.List

	hits            uint64
	misses          uint64
	evictions       uint64
	expiredRemovals uint64
	totalRequests   uint64

	now func() time.Time
}

type localEntry struct {
	key         Key
	question    string
	resp        Response
	expiresAt   time.Time
	lastAccess  time.Time
	accessCount int
}

// LocalStats is a point-in-time snapshot of the local tier's counters.
// Counters survive Clear so operators can still see lifetime behavior after a
// manual flush.
type LocalStats struct {
	Size            int     `json:"size"`
	MaxSize         int     `json:"maxSize"`
	Hits            uint64  `json:"hits"`
	Misses          uint64  `json:"misses"`
	Evictions       uint64  `json:"evictions"`
	ExpiredRemovals uint64  `json:"expiredRemovals"`
	TotalRequests   uint64  `json:"totalRequests"`
	HitRate         float64 `json:"hitRate"`
}

// NewLocal builds a local tier holding at most maxSize entries, each valid for
// ttl after its last store.
func NewLocal(maxSize int, ttl time.Duration) (*Local, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("cache: local max size must be positive, got %d", maxSize)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("cache: local ttl must be positive, got %s", ttl)
	}
	return &Local{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[Key]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}, nil
}

// Get returns the cached response for key if present and not expired. Expired
// entries are removed on sight and reported as misses.
func (l *Local) Get(key Key) (Response, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.totalRequests++
	elem, ok := l.items[key]
	if !ok {
		l.misses++
		return Response{}, false
	}

	entry := elem.Value.(*localEntry)
	if l.now().After(entry.expiresAt) {
		l.removeLocked(elem)
		l.expiredRemovals++
		l.misses++
		return Response{}, false
	}

	entry.lastAccess = l.now()
	l.order.MoveToBack(elem)
	l.hits++
	return entry.resp, true
}

// Set stores resp under key, refreshing the TTL. The question is retained in
// its normalized form so ClearMatching can invalidate by substring later.
// Every store first sweeps expired entries so capacity is never wasted on
// dead weight, then evicts the least recently used entry if still full.
func (l *Local) Set(key Key, question string, resp Response) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepExpiredLocked(now)

	if elem, ok := l.items[key]; ok {
		entry := elem.Value.(*localEntry)
		entry.resp = resp
		entry.expiresAt = now.Add(l.ttl)
		entry.lastAccess = now
		entry.accessCount++
		l.order.MoveToBack(elem)
		return
	}

	if len(l.items) >= l.maxSize {
		if oldest := l.order.Front(); oldest != nil {
			l.removeLocked(oldest)
			l.evictions++
		}
	}

	entry := &localEntry{
		key:         key,
		question:    strings.ToLower(strings.TrimSpace(question)),
		resp:        resp,
		expiresAt:   now.Add(l.ttl),
		lastAccess:  now,
		accessCount: 1,
	}
	l.items[key] = l.order.PushBack(entry)
}

// ClearMatching removes every entry whose normalized question contains the
// given fragment and reports how many were dropped. Matching is
// case-insensitive because questions are normalized on store.
func (l *Local) ClearMatching(fragment string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	needle := strings.ToLower(strings.TrimSpace(fragment))
	removed := 0
	for elem := l.order.Front(); elem != nil; {
		next := elem.Next()
		if strings.Contains(elem.Value.(*localEntry).question, needle) {
			l.removeLocked(elem)
			removed++
		}
		elem = next
	}
	return removed
}

// Clear drops every entry. Lifetime counters are intentionally preserved.
func (l *Local) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = make(map[Key]*list.Element)
	l.order.Init()
}

// Len reports the current number of live entries, expired or not.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Stats snapshots the tier's counters.
func (l *Local) Stats() LocalStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := l.totalRequests
	if total == 0 {
		total = 1
	}
	rate := float64(l.hits) / float64(total) * 100
	return LocalStats{
		Size:            len(l.items),
		MaxSize:         l.maxSize,
		Hits:            l.hits,
		Misses:          l.misses,
		Evictions:       l.evictions,
		ExpiredRemovals: l.expiredRemovals,
		TotalRequests:   l.totalRequests,
		HitRate:         math.Round(rate*100) / 100,
	}
}

func (l *Local) sweepExpiredLocked(now time.Time) {
	for elem := l.order.Front(); elem != nil; {
		next := elem.Next()
		if now.After(elem.Value.(*localEntry).expiresAt) {
			l.removeLocked(elem)
			l.expiredRemovals++
		}
		elem = next
	}
}

func (l *Local) removeLocked(elem *list.Element) {
	entry := elem.Value.(*localEntry)
	delete(l.items, entry.key)
	l.order.Remove(elem)
}
