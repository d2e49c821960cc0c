package monitor

import "time"

// Config holds probe worker runtime configuration.
type Config struct {
	ProbeInterval     time.Duration
	HTTPTimeout       time.Duration
	FailureThreshold  int
	RecoveryThreshold int
}

// DefaultConfig returns sensible probe defaults.
func DefaultConfig() Config {
	return Config{
		ProbeInterval:     30 * time.Second,
		HTTPTimeout:       5 * time.Second,
		FailureThreshold:  3,
		RecoveryThreshold: 2,
	}
}
