package allocator

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/blockalloc/memutils"
	"github.com/vkngwrapper/blockalloc/memutils/arena"
	"github.com/vkngwrapper/blockalloc/memutils/dynarray"
)

const (
	// defaultMinimumBlockSize is the value that is used as Config.MinimumBlockSize when none is
	// provided. It is equal to 4Mb.
	defaultMinimumBlockSize int = 4 * 1024 * 1024
	// defaultInitialCapacity is the number of blocks the allocator's block list has room for before
	// it first grows
	defaultInitialCapacity int = 16
)

// Config contains optional settings when creating a BlockAllocator. Zero-valued fields select the
// default, which for every limit means unlimited.
type Config struct {
	// InitialCapacity is the number of blocks the allocator's bookkeeping has room for before it grows
	InitialCapacity int
	// MinimumBlockSize is the smallest block that will be allocated for a shared request. Smaller
	// requests are placed into a block of this size.
	MinimumBlockSize int
	// MaximumBlockSize is the largest block that will be allocated. Requests larger than this fail
	// with ErrOutOfDeviceMemory.
	MaximumBlockSize int
	// MaximumBlockCount is the largest number of blocks that may exist at once
	MaximumBlockCount int
	// MaximumPoolSize is the largest number of bytes that may be allocated across all blocks at once
	MaximumPoolSize int
	// NearestMultiple rounds every block size up to a multiple of this value
	NearestMultiple int
	// MinimumAlignment is applied to every region in addition to the alignment of each request. It must
	// be a power of two.
	MinimumAlignment uint
}

// DefaultConfig returns a Config with every default filled in
func DefaultConfig() Config {
	return Config{
		InitialCapacity:  defaultInitialCapacity,
		MinimumBlockSize: defaultMinimumBlockSize,
	}
}

func (c Config) withDefaults() Config {
	if c.InitialCapacity == 0 {
		c.InitialCapacity = defaultInitialCapacity
	}
	if c.MinimumBlockSize == 0 {
		c.MinimumBlockSize = defaultMinimumBlockSize
		if c.MaximumBlockSize > 0 {
			c.MinimumBlockSize = min(c.MinimumBlockSize, c.MaximumBlockSize)
		}
		if c.MaximumPoolSize > 0 {
			c.MinimumBlockSize = min(c.MinimumBlockSize, c.MaximumPoolSize)
		}
	}

	return c
}

// Validate returns an error wrapping ErrInvalidConfig if any of the settings are unusable
func (c Config) Validate() error {
	if c.InitialCapacity < 0 || c.MinimumBlockSize < 0 || c.MaximumBlockSize < 0 ||
		c.MaximumBlockCount < 0 || c.MaximumPoolSize < 0 || c.NearestMultiple < 0 {
		return errors.Wrapf(ErrInvalidConfig, "settings may not be negative: %+v", c)
	}

	err := memutils.CheckPow2(c.MinimumAlignment, "MinimumAlignment")
	if err != nil {
		return errors.Mark(errors.Wrap(err, "invalid MinimumAlignment"), ErrInvalidConfig)
	}

	if c.MaximumBlockSize > 0 && c.MinimumBlockSize > c.MaximumBlockSize {
		return errors.Wrapf(ErrInvalidConfig, "MinimumBlockSize %d is larger than MaximumBlockSize %d", c.MinimumBlockSize, c.MaximumBlockSize)
	}
	if c.MaximumPoolSize > 0 && c.MinimumBlockSize > c.MaximumPoolSize {
		return errors.Wrapf(ErrInvalidConfig, "MinimumBlockSize %d is larger than MaximumPoolSize %d", c.MinimumBlockSize, c.MaximumPoolSize)
	}

	return nil
}

// ParseConfig reads a Config from a colon-separated list of key=value settings, such as
// "MinimumBlockSize=1024:MaximumBlockCount=8". Keys are case-insensitive and unrecognized keys are
// an error. Settings that are not present are left at zero.
func ParseConfig(settings string) (Config, error) {
	var config Config

	var entries dynarray.StringTable
	entries.Init(nil, 0)
	defer entries.Destroy()

	entries.Parse(settings, ":")
	for _, entry := range entries.Strings() {
		key, value, found := strings.Cut(entry, "=")
		if !found {
			return Config{}, errors.Wrapf(ErrInvalidConfig, "setting %q is not of the form key=value", entry)
		}

		number, err := strconv.ParseUint(strings.TrimSpace(value), 0, 63)
		if err != nil {
			return Config{}, errors.Mark(errors.Wrapf(err, "setting %q has an invalid value", entry), ErrInvalidConfig)
		}

		switch strings.ToLower(strings.TrimSpace(key)) {
		case "initialcapacity":
			config.InitialCapacity = int(number)
		case "minimumblocksize":
			config.MinimumBlockSize = int(number)
		case "maximumblocksize":
			config.MaximumBlockSize = int(number)
		case "maximumblockcount":
			config.MaximumBlockCount = int(number)
		case "maximumpoolsize":
			config.MaximumPoolSize = int(number)
		case "nearestmultiple":
			config.NearestMultiple = int(number)
		case "minimumalignment":
			config.MinimumAlignment = uint(number)
		default:
			return Config{}, errors.Wrapf(ErrInvalidConfig, "unknown setting %q", key)
		}
	}

	return config, nil
}

// New creates a new BlockAllocator
//
// logger - The logger that block and region events are written to. nil uses slog.Default()
//
// callbacks - The backend that allocates blocks and regions, plus the host allocator used for bookkeeping
//
// config - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, callbacks Callbacks, config Config) (*BlockAllocator, error) {
	config = config.withDefaults()
	err := config.Validate()
	if err != nil {
		return nil, err
	}

	if callbacks.Block == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "block callbacks are required")
	}
	if callbacks.Region == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "region callbacks are required")
	}

	if logger == nil {
		logger = slog.Default()
	}

	allocator := &BlockAllocator{
		logger:    logger,
		config:    config,
		callbacks: &callbacks,
		index:     swiss.NewMap[int, arena.Handle](uint32(config.InitialCapacity)),
	}
	allocator.blocks.Init(callbacks.Host, arena.Config{InitialCapacity: config.InitialCapacity})
	allocator.allocators.Init(callbacks.Host, arena.Config{InitialCapacity: config.InitialCapacity})

	return allocator, nil
}
