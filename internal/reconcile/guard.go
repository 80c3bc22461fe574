package reconcile

import (
	"sync"
	"sync/atomic"
	"time"

	"storefront/internal/callback"
)

// GuardState is the lifecycle of one reconciliation attempt.
type GuardState int32

const (
	GuardNotStarted GuardState = iota
	GuardInProgress
	GuardDone
)

func (s GuardState) String() string {
	switch s {
	case GuardNotStarted:
		return "not-started"
	case GuardInProgress:
		return "in-progress"
	case GuardDone:
		return "done"
	default:
		return "unknown"
	}
}

// Guard lets the finalize sequence start once per mount.
// The zero value is ready to use.
type Guard struct {
	state atomic.Int32
}

// TryEnter returns true for the first caller only.
func (g *Guard) TryEnter() bool {
	return g.state.CompareAndSwap(int32(GuardNotStarted), int32(GuardInProgress))
}

// Done marks the attempt finished. It never reopens the guard.
func (g *Guard) Done() {
	g.state.CompareAndSwap(int32(GuardInProgress), int32(GuardDone))
}

// State returns the current guard state.
func (g *Guard) State() GuardState {
	return GuardState(g.state.Load())
}

// Mount is one callback view lifetime: a guard plus a liveness flag that
// goes false when every request attached to it has gone away.
type Mount struct {
	key       string
	guard     Guard
	alive     atomic.Bool
	holders   int // guarded by MountTable.mu
	createdAt time.Time
}

func newMount(key string, now time.Time) *Mount {
	m := &Mount{key: key, createdAt: now}
	m.alive.Store(true)
	return m
}

// NewMount returns a standalone live mount.
func NewMount(key string) *Mount {
	return newMount(key, time.Now())
}

// Key identifies the mount.
func (m *Mount) Key() string { return m.key }

// Guard returns the mount's guard.
func (m *Mount) Guard() *Guard { return &m.guard }

// Alive reports whether post-await effects may still be applied.
func (m *Mount) Alive() bool { return m.alive.Load() }

// Unmount marks the view gone.
func (m *Mount) Unmount() { m.alive.Store(false) }

// MountKey derives the mount identity of a callback within a session.
func MountKey(sessionID string, p callback.Payload) string {
	return sessionID + "|" + p.OrderID + "|" + p.TransactionID + "|" + p.ResponseCode
}

// MountTable keeps mounts alive for a TTL so a re-delivered callback
// (refresh, double navigation) lands on the same guard.
type MountTable struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	mounts map[string]*Mount
}

// NewMountTable constructs a table; ttl <= 0 defaults to ten minutes.
func NewMountTable(ttl time.Duration) *MountTable {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MountTable{
		ttl:    ttl,
		now:    time.Now,
		mounts: make(map[string]*Mount),
	}
}

// Mount attaches the caller to the live mount for key, creating a fresh one
// if needed. Each Mount call holds the mount until a matching Release.
func (t *MountTable) Mount(key string) *Mount {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.sweep(now)
	m, ok := t.mounts[key]
	if !ok || !m.Alive() {
		m = newMount(key, now)
		t.mounts[key] = m
	}
	m.holders++
	return m
}

// Release drops one hold on m. The mount is unmounted once no request
// holds it, so a duplicate that already answered keeps the owner's
// effects alive.
func (t *MountTable) Release(m *Mount) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m.holders > 0 {
		m.holders--
	}
	if m.holders > 0 {
		return
	}
	m.Unmount()
	if t.mounts[m.key] == m {
		delete(t.mounts, m.key)
	}
}

// Unmount destroys the mount for key regardless of holders; in-flight
// work sees Alive() == false.
func (t *MountTable) Unmount(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.mounts[key]; ok {
		m.Unmount()
		delete(t.mounts, key)
	}
}

// Len returns the number of tracked mounts.
func (t *MountTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.mounts)
}

func (t *MountTable) sweep(now time.Time) {
	for key, m := range t.mounts {
		if now.Sub(m.createdAt) >= t.ttl {
			m.Unmount()
			delete(t.mounts, key)
		}
	}
}
