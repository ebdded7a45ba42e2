package core

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
)

// ErrInvalidConfig marks every validation failure reported by Config.Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

type LogConfig struct {
	Level string `toml:"level"`
}

type DeviceConfig struct {
	ApplicationName string `toml:"application_name"`
	Validation      bool   `toml:"validation"`
}

type FrameConfig struct {
	Threads                      int               `toml:"threads"`
	FramesInFlight               int               `toml:"frames_in_flight"`
	FenceTimeoutMS               uint64            `toml:"fence_timeout_ms"`
	BufferBlockSize              uint64            `toml:"buffer_block_size"`
	BufferAllocationStrategy     string            `toml:"buffer_allocation_strategy"`
	DescriptorManagementStrategy string            `toml:"descriptor_management_strategy"`
	DescriptorPoolMaxSets        uint32            `toml:"descriptor_pool_max_sets"`
	BufferUsages                 map[string]uint64 `toml:"buffer_usages"`
}

type CacheConfig struct {
	BlobPath string `toml:"blob_path"`
	Warmup   bool   `toml:"warmup"`
}

type AssetsConfig struct {
	ShaderDir string `toml:"shader_dir"`
	Watch     bool   `toml:"watch"`
}

type Config struct {
	Log    LogConfig    `toml:"log"`
	Device DeviceConfig `toml:"device"`
	Frame  FrameConfig  `toml:"frame"`
	Cache  CacheConfig  `toml:"cache"`
	Assets AssetsConfig `toml:"assets"`
}

// DefaultConfig mirrors the values the frame pools were tuned with.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Device: DeviceConfig{
			ApplicationName: "Anima",
		},
		Frame: FrameConfig{
			Threads:                      1,
			FramesInFlight:               3,
			FenceTimeoutMS:               10_000,
			BufferBlockSize:              256 * 1024,
			BufferAllocationStrategy:     "multiple",
			DescriptorManagementStrategy: "store_in_cache",
			DescriptorPoolMaxSets:        16,
			BufferUsages: map[string]uint64{
				"uniform": 1,
				"storage": 2,
				"vertex":  1,
				"index":   1,
			},
		},
		Cache: CacheConfig{
			BlobPath: "anima-cache.bin",
			Warmup:   true,
		},
		Assets: AssetsConfig{
			ShaderDir: "assets/shaders",
			Watch:     false,
		},
	}
}

// LoadConfig overlays the TOML file at path on top of DefaultConfig.
// A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			LogInfo("config '%s' not found, using defaults", path)
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "decode config %s", path), ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Frame.Threads <= 0:
		return errors.Mark(errors.Newf("frame.threads must be positive, got %d", c.Frame.Threads), ErrInvalidConfig)
	case c.Frame.FramesInFlight <= 0:
		return errors.Mark(errors.Newf("frame.frames_in_flight must be positive, got %d", c.Frame.FramesInFlight), ErrInvalidConfig)
	case c.Frame.BufferBlockSize == 0:
		return errors.Mark(errors.New("frame.buffer_block_size must be positive"), ErrInvalidConfig)
	case c.Frame.DescriptorPoolMaxSets == 0:
		return errors.Mark(errors.New("frame.descriptor_pool_max_sets must be positive"), ErrInvalidConfig)
	}
	switch c.Frame.BufferAllocationStrategy {
	case "one", "multiple":
	default:
		return errors.Mark(errors.Newf("unknown buffer allocation strategy '%s'", c.Frame.BufferAllocationStrategy), ErrInvalidConfig)
	}
	switch c.Frame.DescriptorManagementStrategy {
	case "store_in_cache", "create_directly":
	default:
		return errors.Mark(errors.Newf("unknown descriptor management strategy '%s'", c.Frame.DescriptorManagementStrategy), ErrInvalidConfig)
	}
	return nil
}
