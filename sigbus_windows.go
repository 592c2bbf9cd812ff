//go:build windows

package exfile

// sigbusGuard is a no-op on Windows: SIGBUS has no equivalent, and
// truncation of a mapped file is instead reported synchronously by the
// Windows mapping APIs.
type sigbusGuard struct{}

func getSigbusGuard() *sigbusGuard { return &sigbusGuard{} }

func (g *sigbusGuard) register(f *File)   {}
func (g *sigbusGuard) unregister(f *File) {}
func (g *sigbusGuard) isFaulted(f *File) bool { return false }
func (g *sigbusGuard) clearFault(f *File)     {}
