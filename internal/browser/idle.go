package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

// idleTracker counts in-flight network requests of one tab and remembers since when the count has
// been at or below the tolerated maximum.
type idleTracker struct {
	mu          sync.Mutex
	now         func() time.Time
	maxInflight int
	inflight    map[string]struct{}
	quietSince  time.Time
}

func newIdleTracker(maxInflight int, now func() time.Time) *idleTracker {
	if now == nil {
		now = time.Now
	}
	if maxInflight < 0 {
		maxInflight = 0
	}
	return &idleTracker{
		now:         now,
		maxInflight: maxInflight,
		inflight:    make(map[string]struct{}),
		quietSince:  now(),
	}
}

// handle is registered with chromedp.ListenTarget.
func (t *idleTracker) handle(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.begin(string(e.RequestID))
	case *network.EventLoadingFinished:
		t.end(string(e.RequestID))
	case *network.EventLoadingFailed:
		t.end(string(e.RequestID))
	}
}

func (t *idleTracker) begin(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight[id] = struct{}{}
	t.updateLocked()
}

func (t *idleTracker) end(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, id)
	t.updateLocked()
}

func (t *idleTracker) updateLocked() {
	if len(t.inflight) > t.maxInflight {
		t.quietSince = time.Time{}
		return
	}
	if t.quietSince.IsZero() {
		t.quietSince = t.now()
	}
}

// quietFor reports how long the tab has been at or under the in-flight limit.
func (t *idleTracker) quietFor() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.quietSince.IsZero() {
		return 0
	}
	return t.now().Sub(t.quietSince)
}

func (t *idleTracker) inflightCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

// wait blocks until the tab has been quiet for settle, or ctx ends.
func (t *idleTracker) wait(ctx context.Context, settle time.Duration) error {
	if settle <= 0 {
		return nil
	}
	poll := settle / 5
	if poll < 10*time.Millisecond {
		poll = 10 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if t.quietFor() >= settle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
