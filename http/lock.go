package http

import "sync"

// ExecutionLock serializes calls into application code. It guards the invocation only,
// never socket I/O or request parsing.
type ExecutionLock interface {
	Acquire() *Guard
}

// Guard is held for the duration of one call into the application.
type Guard struct {
	once    sync.Once
	release func()
}

// Release gives the lock back. Calling it more than once is harmless.
func (guard *Guard) Release() {
	guard.once.Do(guard.release)
}

type mutexLock struct {
	mu sync.Mutex
}

func NewExecutionLock() ExecutionLock {
	return &mutexLock{}
}

func (lock *mutexLock) Acquire() *Guard {
	lock.mu.Lock()
	return &Guard{release: lock.mu.Unlock}
}

type noLock struct{}

func (noLock) Acquire() *Guard {
	return &Guard{release: func() {}}
}

var (
	// GlobalLock is shared by every pool that asks for serialized execution.
	GlobalLock = NewExecutionLock()

	NoLock ExecutionLock = noLock{}
)
