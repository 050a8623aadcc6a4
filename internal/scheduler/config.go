// Package scheduler provides cooperative run-to-completion task dispatching.
package scheduler

// PoolSize is the default capacity of the task pool.
const PoolSize = 16

// Config defines the scheduler configuration.
type Config struct {
	// PoolSize is the maximum number of tasks waiting to run.
	PoolSize int `yaml:"pool_size"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		PoolSize: PoolSize,
	}
}
