package redis

// Config is the ambient configuration surface for a Store, following the
// same EnsureDefaults pattern as lsm.Options: a nil Config is valid.
type Config struct {
	// BackgroundExpireQueueSize bounds how many lazily-discovered expired
	// keys are buffered for best-effort background cleanup before new
	// discoveries are dropped on the floor.
	BackgroundExpireQueueSize int
}

// EnsureDefaults returns c, or a fresh Config if c is nil, with every zero
// field replaced by its default.
func (c *Config) EnsureDefaults() *Config {
	if c == nil {
		c = &Config{}
	} else {
		clone := *c
		c = &clone
	}
	if c.BackgroundExpireQueueSize <= 0 {
		c.BackgroundExpireQueueSize = 256
	}
	return c
}
