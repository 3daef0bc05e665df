package limiter

import (
	"sync"
	"time"
)

// Gate is a non-blocking in-process slot. A caller either gets the slot at
// once or is told the gate is busy; nobody waits in line.
type Gate struct {
	name  string
	slot  chan struct{}
	mu    sync.Mutex
	since time.Time
	owner string
}

func NewGate(name string) *Gate {
	return &Gate{name: name, slot: make(chan struct{}, 1)}
}

// TryAcquire reserves the slot for owner. It returns a release func and true
// when allowed; otherwise a no-op func and false. Release is idempotent.
func (g *Gate) TryAcquire(owner string) (func(), bool) {
	select {
	case g.slot <- struct{}{}:
	default:
		return func() {}, false
	}
	g.mu.Lock()
	g.since, g.owner = time.Now(), owner
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.since, g.owner = time.Time{}, ""
			g.mu.Unlock()
			<-g.slot
		})
	}, true
}

// Busy reports whether the slot is taken.
func (g *Gate) Busy() bool { return len(g.slot) > 0 }

// Holder returns who holds the slot and since when; empty when free.
func (g *Gate) Holder() (string, time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.owner, g.since
}

func (g *Gate) Name() string { return g.name }
