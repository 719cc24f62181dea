package governance

import "sync"

// ParamLocks serializes read-modify-write cycles per parameter name.
type ParamLocks struct {
	mu    sync.Mutex
	locks map[string]*paramLock
}

type paramLock struct {
	mu   sync.Mutex
	refs int
}

// NewParamLocks creates an empty lock set.
func NewParamLocks() *ParamLocks {
	return &ParamLocks{locks: make(map[string]*paramLock)}
}

// Lock blocks until key is held and returns its unlock func. Entries are
// dropped once no goroutine holds or waits on them.
func (p *ParamLocks) Lock(key string) (unlock func()) {
	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &paramLock{}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}

func (p *ParamLocks) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}

// PassLock admits one policy pass per process.
type PassLock struct {
	mu sync.Mutex
}

// TryLock reports whether the caller now holds the pass.
func (l *PassLock) TryLock() bool { return l.mu.TryLock() }

// Unlock releases the pass.
func (l *PassLock) Unlock() { l.mu.Unlock() }
