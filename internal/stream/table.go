package stream

import (
	"sort"
	"sync"
)

// table holds the live connections. Every method takes the single lock for a
// short, non-blocking critical section; streams are never touched under it.
type table struct {
	mu    sync.Mutex
	conns map[string]*Connection
}

func newTable() *table {
	return &table{conns: make(map[string]*Connection)}
}

func (t *table) get(key string) (*Connection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[key]
	return c, ok
}

// put stores c and returns the connection it replaced, if any.
func (t *table) put(c *Connection) *Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.conns[c.key]
	t.conns[c.key] = c
	return old
}

func (t *table) remove(key string) (*Connection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[key]
	if ok {
		delete(t.conns, key)
	}
	return c, ok
}

// reap removes and returns every connection matching pred.
func (t *table) reap(pred func(*Connection) bool) []*Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Connection
	for key, c := range t.conns {
		if pred(c) {
			delete(t.conns, key)
			out = append(out, c)
		}
	}
	return out
}

func (t *table) snapshot() []*Connection {
	t.mu.Lock()
	out := make([]*Connection, 0, len(t.conns))
	for _, c := range t.conns {
		out = append(out, c)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

func (t *table) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}
