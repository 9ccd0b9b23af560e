package bridge

import "sync"

// Loop queues work posted from host goroutines until the goroutine running
// the guest drains it between guest calls. This keeps every state change
// outside the guest's view while a guest call is in progress.
type Loop struct {
	mu    sync.Mutex
	queue []func()
}

// Post implements fileexchange.Dispatcher. It never blocks.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
}

// Drain runs queued work in posting order and returns how many items ran.
// Work posted while draining runs on the next Drain.
func (l *Loop) Drain() int {
	l.mu.Lock()
	queue := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, fn := range queue {
		fn()
	}
	return len(queue)
}

// Pending returns the number of queued items.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}
