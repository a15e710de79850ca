package state

import (
	"sync"
	"time"
)

// minTickInterval clamps the playback timer so a high fps cannot produce
// sub-20ms ticks.
const minTickInterval = 20 * time.Millisecond

// Interval converts a playback rate to the auto-advance tick interval:
// max(1000/fps, 20) milliseconds.
func Interval(fps int) time.Duration {
	if fps <= 0 {
		fps = 1
	}
	interval := time.Second / time.Duration(fps)
	if interval < minTickInterval {
		return minTickInterval
	}
	return interval
}

// Playback auto-advances the store's frame position on a recurring timer.
// At most one timer is active; Sync restarts it whenever the playing state
// or fps changes, and Stop cancels it on teardown.
type Playback struct {
	store *Store

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewPlayback(store *Store) *Playback {
	return &Playback{store: store}
}

// Sync reconciles the timer with the store: running exactly when the store
// says playback is on, at the store's current fps. Call after every fps or
// playing-state change.
func (p *Playback) Sync() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	if !p.store.Playing() {
		return
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	p.stop = stop
	p.done = done

	interval := Interval(p.store.FPS())
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.store.AdvanceFrame()
			}
		}
	}()
}

// Stop cancels the active timer, if any, and waits for it to exit.
func (p *Playback) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Playback) stopLocked() {
	if p.stop == nil {
		return
	}
	close(p.stop)
	<-p.done
	p.stop = nil
	p.done = nil
}
