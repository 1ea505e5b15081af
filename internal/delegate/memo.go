package delegate

import (
	"context"
	"sync"
)

type memoKey struct{}

type memoEntry struct {
	once  sync.Once
	value interface{}
}

// Memo holds values computed at most once per client operation.
type Memo struct {
	mu      sync.Mutex
	entries map[interface{}]*memoEntry
}

// WithMemo returns ctx carrying a fresh memo table.
func WithMemo(ctx context.Context) context.Context {
	return context.WithValue(ctx, memoKey{}, &Memo{
		entries: make(map[interface{}]*memoEntry),
	})
}

// Memoize returns the value fn computed for token in this operation, running fn the
// first time only. Without a memo table in ctx, fn runs every time.
// token must be comparable.
func Memoize(ctx context.Context, token interface{}, fn func() interface{}) interface{} {
	memo, ok := ctx.Value(memoKey{}).(*Memo)
	if !ok {
		return fn()
	}

	memo.mu.Lock()
	entry, ok := memo.entries[token]
	if !ok {
		entry = &memoEntry{}
		memo.entries[token] = entry
	}
	memo.mu.Unlock()

	entry.once.Do(func() {
		entry.value = fn()
	})
	return entry.value
}
