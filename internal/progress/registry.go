// Package progress fans report milestones out to the streams that clients
// opened for them.
package progress

import (
	"context"
	"sync"
)

// subscriberBuffer bounds how far a slow stream may fall behind before
// messages to it are dropped.
const subscriberBuffer = 64

// Reporter accepts progress messages for a client.
type Reporter interface {
	Report(ctx context.Context, clientID, message string)
}

// Registry keeps the open progress streams of this process. Messages for a
// client without an open stream are dropped.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]map[chan string]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]map[chan string]struct{})}
}

// Subscribe opens a stream for clientID. The returned function unsubscribes
// and closes the channel; it is safe to call more than once.
func (r *Registry) Subscribe(clientID string) (<-chan string, func()) {
	ch := make(chan string, subscriberBuffer)

	r.mu.Lock()
	set, ok := r.subs[clientID]
	if !ok {
		set = make(map[chan string]struct{})
		r.subs[clientID] = set
	}
	set[ch] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if set, ok := r.subs[clientID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(r.subs, clientID)
				}
			}
			close(ch)
		})
	}
	return ch, unsubscribe
}

// Report delivers message to every open stream of clientID without blocking.
func (r *Registry) Report(_ context.Context, clientID, message string) {
	if clientID == "" {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for ch := range r.subs[clientID] {
		select {
		case ch <- message:
		default:
		}
	}
}

// Subscribers returns the number of open streams for clientID.
func (r *Registry) Subscribers(clientID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[clientID])
}

// Nop discards every message.
type Nop struct{}

// Report implements Reporter.
func (Nop) Report(context.Context, string, string) {}
