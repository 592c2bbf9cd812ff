package exfile

import (
	"sync"
	"time"
)

// syncManager drives a background goroutine that periodically msyncs every
// currently-mapped slot of a single File with SyncAsync semantics. It is
// additive to explicit SyncMmap/Sync calls and never returns its own errors;
// failures are logged and swallowed, matching the "best effort" nature of a
// periodic flush.
type syncManager struct {
	f      *File
	ticker *time.Ticker

	mu       sync.Mutex
	stopChan chan struct{}
	stopped  bool
}

func newSyncManager(f *File, interval time.Duration) *syncManager {
	sm := &syncManager{
		f:        f,
		ticker:   time.NewTicker(interval),
		stopChan: make(chan struct{}),
	}
	go sm.run()
	return sm
}

func (sm *syncManager) run() {
	for {
		select {
		case <-sm.ticker.C:
			sm.syncOnce()
		case <-sm.stopChan:
			return
		}
	}
}

func (sm *syncManager) syncOnce() {
	sm.f.lock.RLock()
	slots := sm.f.slots.all()
	closed := sm.f.closed
	sm.f.lock.RUnlock()

	if closed {
		return
	}

	for _, s := range slots {
		if s.len == 0 {
			continue
		}
		if err := msyncRegion(s.addr, false); err != nil {
			sm.f.logger.Warn().Err(err).Int64("offset", s.off).Msg("exfile: periodic msync failed")
		}
	}
}

// stop signals the background goroutine to exit. It does not wait for the
// goroutine to observe the signal: syncOnce takes f.lock.RLock, so a caller
// holding f.lock.Lock (Close, most notably) would deadlock against its own
// write lock if stop blocked here. stop is idempotent against repeated
// calls; Close reaches it at most once, since a second Close returns
// ErrInvalidState first.
func (sm *syncManager) stop() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.stopped {
		return
	}
	sm.stopped = true
	sm.ticker.Stop()
	close(sm.stopChan)
}
