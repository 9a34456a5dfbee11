package delivery

import "sync"

// Mailbox holds at most one undrained value. Put overwrites whatever is
// waiting; Drain takes it.
type Mailbox[T any] struct {
	mu    sync.Mutex
	value T
	full  bool
}

// Put stores v and reports whether an undrained value was replaced.
func (m *Mailbox[T]) Put(v T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	replaced := m.full
	m.value = v
	m.full = true
	return replaced
}

func (m *Mailbox[T]) Drain() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	if !m.full {
		return zero, false
	}
	v := m.value
	m.value = zero
	m.full = false
	return v, true
}

func (m *Mailbox[T]) Full() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.full
}

func (m *Mailbox[T]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	m.value = zero
	m.full = false
}
