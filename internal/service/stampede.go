package service

import "sync"

// stampedeTracker counts callers waiting on the same location key. Join returns the count
// including the caller; a count above 1 means the caller is sharing an in-flight fan-out.
type stampedeTracker struct {
	mu      sync.Mutex
	waiting map[string]int
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{waiting: make(map[string]int)}
}

// Join registers a caller for key. Callers must Leave when their fetch resolves.
func (st *stampedeTracker) Join(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.waiting[key]++
	return st.waiting[key]
}

// Leave undoes one Join for key.
func (st *stampedeTracker) Leave(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if n, ok := st.waiting[key]; ok && n > 0 {
		if n == 1 {
			delete(st.waiting, key)
			return
		}
		st.waiting[key] = n - 1
	}
}

// Waiting returns the number of callers currently joined on key.
func (st *stampedeTracker) Waiting(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.waiting[key]
}
