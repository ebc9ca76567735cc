package testutil

import "sync"

// RefreshRecorder counts feed refresh notifications.
type RefreshRecorder struct {
	mu    sync.Mutex
	count int
}

// Hook is passed to the promoter as its refresh callback.
func (r *RefreshRecorder) Hook() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
}

func (r *RefreshRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
