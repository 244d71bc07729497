package gallery

import "sync"

// Txn is an optimistic change to some piece of state of type T. Begin
// captures the state, the caller applies its change, and exactly one of
// Commit or Rollback ends the transaction. Rollback restores the
// captured value verbatim.
type Txn[T any] struct {
	once    sync.Once
	saved   T
	restore func(T)
}

// Begin captures the current state with capture and remembers restore
// for a later Rollback.
func Begin[T any](capture func() T, restore func(T)) *Txn[T] {
	return &Txn[T]{saved: capture(), restore: restore}
}

// Saved returns the captured state.
func (t *Txn[T]) Saved() T {
	return t.saved
}

// Commit ends the transaction keeping the applied change.
func (t *Txn[T]) Commit() {
	t.once.Do(func() {})
}

// Rollback restores the captured state. It has no effect after Commit
// or a previous Rollback.
func (t *Txn[T]) Rollback() {
	t.once.Do(func() {
		t.restore(t.saved)
	})
}
