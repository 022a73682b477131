package service

import (
	"sync"

	"github.com/veranemoloko/media-harvester/internal/domain"
)

// activityLog keeps the most recent status events in a ring buffer.
type activityLog struct {
	mu   sync.Mutex
	buf  []domain.StatusEvent
	next int
	full bool
}

func newActivityLog(size int) *activityLog {
	if size < 1 {
		size = 1
	}
	return &activityLog{buf: make([]domain.StatusEvent, size)}
}

func (a *activityLog) add(ev domain.StatusEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buf[a.next] = ev
	a.next = (a.next + 1) % len(a.buf)
	if a.next == 0 {
		a.full = true
	}
}

// list returns the events newest first.
func (a *activityLog) list() []domain.StatusEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := a.next
	if a.full {
		n = len(a.buf)
	}

	out := make([]domain.StatusEvent, 0, n)
	for i := 1; i <= n; i++ {
		idx := (a.next - i + len(a.buf)) % len(a.buf)
		out = append(out, a.buf[idx])
	}
	return out
}
