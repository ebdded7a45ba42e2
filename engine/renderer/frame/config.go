package frame

import (
	"time"

	"github.com/spaghettifunk/anima/engine/core"
	"github.com/spaghettifunk/anima/engine/renderer/gpu"
	"github.com/spaghettifunk/anima/engine/renderer/pool"
	"github.com/spaghettifunk/anima/engine/renderer/resources"
)

// BufferAllocationStrategy decides how buffer allocations share blocks.
type BufferAllocationStrategy int

const (
	// MultipleAllocationsPerBuffer sub-allocates from shared blocks.
	MultipleAllocationsPerBuffer BufferAllocationStrategy = iota
	// OneAllocationPerBuffer gives every allocation a block of its own size.
	OneAllocationPerBuffer
)

func ParseBufferAllocationStrategy(name string) (BufferAllocationStrategy, error) {
	switch name {
	case "multiple", "":
		return MultipleAllocationsPerBuffer, nil
	case "one":
		return OneAllocationPerBuffer, nil
	}
	return 0, gpu.ConfigError("unknown buffer allocation strategy '%s'", name)
}

// DescriptorManagementStrategy decides whether descriptor sets outlive the
// frame cycle that requested them.
type DescriptorManagementStrategy int

const (
	// StoreInCache keeps sets per thread and only rewrites changed bindings.
	StoreInCache DescriptorManagementStrategy = iota
	// CreateDirectly allocates and writes a new set on every request. The
	// sets are dropped on Reset.
	CreateDirectly
)

func ParseDescriptorManagementStrategy(name string) (DescriptorManagementStrategy, error) {
	switch name {
	case "store_in_cache", "":
		return StoreInCache, nil
	case "create_directly":
		return CreateDirectly, nil
	}
	return 0, gpu.ConfigError("unknown descriptor management strategy '%s'", name)
}

type Config struct {
	Threads         int
	FenceTimeout    time.Duration
	BufferBlockSize uint64
	// BufferUsages maps every usage the frame can allocate to the multiple of
	// BufferBlockSize its blocks get.
	BufferUsages         map[gpu.BufferUsage]uint64
	BufferAllocation     BufferAllocationStrategy
	DescriptorManagement DescriptorManagementStrategy
	DescriptorPoolSize   uint32
}

func DefaultConfig() Config {
	return Config{
		Threads:         1,
		FenceTimeout:    pool.DefaultFenceTimeout,
		BufferBlockSize: 256 * 1024,
		BufferUsages: map[gpu.BufferUsage]uint64{
			gpu.BufferUsageUniform: 1,
			gpu.BufferUsageStorage: 2,
			gpu.BufferUsageVertex:  1,
			gpu.BufferUsageIndex:   1,
		},
		BufferAllocation:     MultipleAllocationsPerBuffer,
		DescriptorManagement: StoreInCache,
		DescriptorPoolSize:   resources.DefaultMaxSetsPerPool,
	}
}

// ConfigFromCore converts the [frame] section of the engine configuration.
func ConfigFromCore(c core.FrameConfig) (Config, error) {
	cfg := Config{
		Threads:            c.Threads,
		FenceTimeout:       time.Duration(c.FenceTimeoutMS) * time.Millisecond,
		BufferBlockSize:    c.BufferBlockSize,
		BufferUsages:       make(map[gpu.BufferUsage]uint64, len(c.BufferUsages)),
		DescriptorPoolSize: c.DescriptorPoolMaxSets,
	}

	var err error
	if cfg.BufferAllocation, err = ParseBufferAllocationStrategy(c.BufferAllocationStrategy); err != nil {
		return Config{}, err
	}
	if cfg.DescriptorManagement, err = ParseDescriptorManagementStrategy(c.DescriptorManagementStrategy); err != nil {
		return Config{}, err
	}
	for name, multiplier := range c.BufferUsages {
		usage, ok := gpu.ParseBufferUsage(name)
		if !ok {
			return Config{}, gpu.ConfigError("unknown buffer usage '%s'", name)
		}
		cfg.BufferUsages[usage] = max(multiplier, 1)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch {
	case c.Threads <= 0:
		return gpu.ConfigError("a render frame needs at least one thread, got %d", c.Threads)
	case c.BufferBlockSize == 0:
		return gpu.ConfigError("buffer block size must be positive")
	case c.FenceTimeout <= 0:
		return gpu.ConfigError("fence timeout must be positive, got %s", c.FenceTimeout)
	}
	if c.DescriptorPoolSize == 0 {
		c.DescriptorPoolSize = resources.DefaultMaxSetsPerPool
	}
	return nil
}
