package calls

import (
	"context"
	"sync"
)

// tracker counts running coordinators so shutdown can cancel and wait for
// them. Registering an id twice releases the older entry.
type tracker struct {
	mu      sync.Mutex
	running map[string]*trackedRun
	wg      sync.WaitGroup
}

type trackedRun struct {
	cancel func()
	once   sync.Once
}

func newTracker() *tracker {
	return &tracker{running: make(map[string]*trackedRun)}
}

func (t *tracker) register(callID string, cancel func()) (release func()) {
	entry := &trackedRun{cancel: cancel}

	t.mu.Lock()
	old := t.running[callID]
	t.running[callID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.release(callID, old)
	}
	return func() { t.release(callID, entry) }
}

func (t *tracker) release(callID string, entry *trackedRun) {
	entry.once.Do(func() {
		t.mu.Lock()
		if t.running[callID] == entry {
			delete(t.running, callID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.running)
}

func (t *tracker) cancelAll() (canceled int) {
	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.running {
		if entry.cancel != nil {
			cancels = append(cancels, entry.cancel)
		}
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// wait blocks until every registered run is released or ctx is done.
func (t *tracker) wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
