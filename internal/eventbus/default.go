package eventbus

import "sync"

var (
	defaultMu  sync.Mutex
	defaultBus *Bus
)

// Default returns the process-wide bus, creating an empty one on first use.
// It never returns nil.
func Default() *Bus {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultBus == nil {
		defaultBus = NewBus(nil)
	}
	return defaultBus
}

// SetDefault replaces the process-wide bus. Tests use this to inject an
// isolated instance; passing nil resets to a fresh bus on the next Default.
func SetDefault(b *Bus) {
	defaultMu.Lock()
	defaultBus = b
	defaultMu.Unlock()
}
