//go:build !windows

package exfile

import (
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"
)

// sigbusGuard marks every registered File as faulted when the process is
// notified of a SIGBUS through os/signal; the next access through
// ReadAt/WriteAt/GetMmap of a faulted File observes it and returns ErrIO.
// os/signal only delivers SIGBUS signals sent to the process (kill and the
// like). A SIGBUS raised by touching a mapping whose backing file was
// truncated underneath it is a synchronous fault handled by the Go runtime
// itself; this guard neither sees nor contains it.
type sigbusGuard struct {
	mu      sync.RWMutex
	files   map[*File]struct{}
	faulted map[*File]struct{}
	sigChan chan os.Signal
	enabled bool
}

var (
	globalSigbusGuard     *sigbusGuard
	globalSigbusGuardOnce sync.Once
)

func getSigbusGuard() *sigbusGuard {
	globalSigbusGuardOnce.Do(func() {
		globalSigbusGuard = &sigbusGuard{
			files:   make(map[*File]struct{}),
			faulted: make(map[*File]struct{}),
			sigChan: make(chan os.Signal, 1),
		}
	})
	return globalSigbusGuard
}

func (g *sigbusGuard) register(f *File) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.files[f] = struct{}{}
	if !g.enabled {
		signal.Notify(g.sigChan, unix.SIGBUS)
		g.enabled = true
		go g.run()
	}
}

func (g *sigbusGuard) unregister(f *File) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.files, f)
	delete(g.faulted, f)
	if len(g.files) == 0 && g.enabled {
		signal.Stop(g.sigChan)
		g.enabled = false
	}
}

func (g *sigbusGuard) run() {
	for range g.sigChan {
		g.mu.Lock()
		for f := range g.files {
			g.faulted[f] = struct{}{}
			f.logger.Warn().Msg("exfile: SIGBUS received, marking file faulted")
		}
		g.mu.Unlock()
	}
}

func (g *sigbusGuard) isFaulted(f *File) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.faulted[f]
	return ok
}

func (g *sigbusGuard) clearFault(f *File) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.faulted, f)
}
