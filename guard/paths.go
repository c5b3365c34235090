package guard

import "sync"

// PathStore holds at most one pending redirect path. It is
// process-scoped and never persisted; a restart forgets the path.
type PathStore struct {
	mu   sync.Mutex
	path string
}

// NewPathStore returns an empty store.
func NewPathStore() *PathStore {
	return &PathStore{}
}

// SetRedirectPath records the path to return to after login. A later
// call overwrites an earlier one.
func (p *PathStore) SetRedirectPath(path string) {
	p.mu.Lock()
	p.path = path
	p.mu.Unlock()
}

// TakeRedirectPath returns the pending path and clears it, so the
// redirect fires at most once. It returns "" when nothing is pending.
func (p *PathStore) TakeRedirectPath() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	path := p.path
	p.path = ""
	return path
}

// ClearRedirectPath discards any pending path. Safe to call when the
// store is already empty.
func (p *PathStore) ClearRedirectPath() {
	p.mu.Lock()
	p.path = ""
	p.mu.Unlock()
}
