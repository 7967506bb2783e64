package acceptance

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 256

// keyLock serializes work per trade id over a fixed set of mutexes. Distinct
// ids may share a stripe, which only costs concurrency.
type keyLock struct {
	stripes [lockStripes]sync.Mutex
}

func (l *keyLock) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.stripes[h.Sum32()%lockStripes]
}

// LockAll acquires every stripe in order, excluding all keyed work until the
// returned function is called. Callers of Lock hold one stripe at a time, so
// the fixed order cannot deadlock.
func (l *keyLock) LockAll() func() {
	for i := range l.stripes {
		l.stripes[i].Lock()
	}
	return func() {
		for i := len(l.stripes) - 1; i >= 0; i-- {
			l.stripes[i].Unlock()
		}
	}
}

// Lock acquires the stripe for key and returns its unlock function.
func (l *keyLock) Lock(key string) func() {
	m := l.stripe(key)
	m.Lock()
	return m.Unlock
}
