package service

import "sync"

// Mode names which backing store is authoritative for the cart.
type Mode string

const (
	ModeAnonymous     Mode = "anonymous"
	ModeAuthenticated Mode = "authenticated"
)

// SessionObserver tracks authentication-state transitions and is the only
// component that decides the authoritative store at a given instant.
//
// Note: on logout the local cart mirror is retained and adopted as the
// next anonymous cart. A different anonymous user on the same device can
// therefore see a prior user's cart; changing that is a pending product
// decision, not something this engine resolves on its own.
type SessionObserver struct {
	mu   sync.Mutex
	mode Mode
	subs []func(Mode)
}

// NewSessionObserver starts in anonymous mode.
func NewSessionObserver() *SessionObserver {
	return &SessionObserver{mode: ModeAnonymous}
}

func (o *SessionObserver) Mode() Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

// OnChange registers a callback fired on every actual mode transition.
// Callbacks run synchronously on the goroutine that triggered the change.
func (o *SessionObserver) OnChange(fn func(Mode)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subs = append(o.subs, fn)
}

// SetAuthenticated records the auth collaborator's current session state.
// Subscribers are only notified when the mode actually flips.
func (o *SessionObserver) SetAuthenticated(authenticated bool) {
	next := ModeAnonymous
	if authenticated {
		next = ModeAuthenticated
	}

	o.mu.Lock()
	if o.mode == next {
		o.mu.Unlock()
		return
	}
	o.mode = next
	subs := append([]func(Mode){}, o.subs...)
	o.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
}

// Invalidate is the escalation path for an Unauthorized remote response:
// the session is no longer valid, so the engine drops back to anonymous.
func (o *SessionObserver) Invalidate() {
	o.SetAuthenticated(false)
}
