package engine

import "sync"

// itemLocks serializes writers per item. Entries are dropped once no
// goroutine holds or waits on them.
type itemLocks struct {
	mu    sync.Mutex
	items map[string]*itemLock
}

type itemLock struct {
	mu   sync.Mutex
	refs int
}

func newItemLocks() *itemLocks {
	return &itemLocks{items: make(map[string]*itemLock)}
}

func (l *itemLocks) lock(id string) (unlock func()) {
	l.mu.Lock()
	il, ok := l.items[id]
	if !ok {
		il = &itemLock{}
		l.items[id] = il
	}
	il.refs++
	l.mu.Unlock()

	il.mu.Lock()
	return func() {
		il.mu.Unlock()
		l.mu.Lock()
		il.refs--
		if il.refs == 0 {
			delete(l.items, id)
		}
		l.mu.Unlock()
	}
}

func (l *itemLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}
