package sinks

import "sync"

// runTracker counts finished entries per active run.
type runTracker struct {
	mu   sync.Mutex
	runs map[string]*runState
}

type runState struct {
	total int
	done  int
}

func newRunTracker() *runTracker {
	return &runTracker{runs: map[string]*runState{}}
}

// start registers runID and reports whether it was not already active.
func (t *runTracker) start(runID string, total int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.runs[runID]; ok {
		return false
	}
	t.runs[runID] = &runState{total: total}
	return true
}

// advance counts one finished entry and returns the run's done and total counts.
func (t *runTracker) advance(runID string) (done, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.runs[runID]
	if !ok {
		st = &runState{}
		t.runs[runID] = st
	}
	st.done++
	return st.done, st.total
}

// complete forgets runID and reports whether it was active.
func (t *runTracker) complete(runID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.runs[runID]; !ok {
		return false
	}
	delete(t.runs, runID)
	return true
}
