package cache

import (
	"container/list"
	"sync"
	"time"
)

type LRUOpts struct {
	// Size caps the number of entries (default: 128).
	Size int
}

type lruEntry struct {
	key       string
	val       any
	expiresAt time.Time // zero means no expiry
}

// LRU is an in-memory cache with least-recently-used eviction. Safe for
// concurrent use.
type LRU struct {
	mu    sync.Mutex
	size  int
	ll    *list.List
	items map[string]*list.Element
}

func NewLRU(opts LRUOpts) *LRU {
	if opts.Size <= 0 {
		opts.Size = 128
	}
	return &LRU{
		size:  opts.Size,
		ll:    list.New(),
		items: make(map[string]*list.Element),
	}
}

func (l *LRU) Get(key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ele, ok := l.items[key]
	if !ok {
		return nil, false
	}
	ent := ele.Value.(*lruEntry)
	if !ent.expiresAt.IsZero() && time.Now().After(ent.expiresAt) {
		l.removeLocked(ele)
		return nil, false
	}
	l.ll.MoveToFront(ele)
	return ent.val, true
}

func (l *LRU) Put(key string, val any, opts ...PutOption) {
	var o PutOptions
	for _, opt := range opts {
		opt(&o)
	}
	var expiresAt time.Time
	if o.TTL > 0 {
		expiresAt = time.Now().Add(o.TTL)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if ele, ok := l.items[key]; ok {
		l.ll.MoveToFront(ele)
		ent := ele.Value.(*lruEntry)
		ent.val = val
		ent.expiresAt = expiresAt
		return
	}

	ele := l.ll.PushFront(&lruEntry{key: key, val: val, expiresAt: expiresAt})
	l.items[key] = ele
	if l.ll.Len() > l.size {
		if last := l.ll.Back(); last != nil {
			l.removeLocked(last)
		}
	}
}

func (l *LRU) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ele, ok := l.items[key]; ok {
		l.removeLocked(ele)
	}
}

// Len reports the number of entries, including entries that expired but
// were not touched since.
func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ll.Len()
}

func (l *LRU) removeLocked(ele *list.Element) {
	l.ll.Remove(ele)
	delete(l.items, ele.Value.(*lruEntry).key)
}

var _ Cache = (*LRU)(nil)
