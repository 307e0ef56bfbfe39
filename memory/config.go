package memory

import (
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// EnvVar is the single environment variable this module reads (spec §6).
const EnvVar = "PYTORCH_NPU_ALLOC_CONF"

const mib = 1 << 20

// AllocatorConfig holds the process-wide tunables parsed from EnvVar
// (spec §5).
type AllocatorConfig struct {
	// MaxSplitSize is the size, in bytes, above which the fragmentation
	// guards in spec §4.2 kick in. math.MaxInt64 means "unlimited",
	// the default.
	MaxSplitSize int64
	// GarbageCollectionThreshold is the fraction of the memory-fraction
	// cap above which GC is triggered on allocation pressure. 0 means
	// disabled, the default.
	GarbageCollectionThreshold float64
}

// DefaultConfig returns the configuration in effect when EnvVar is
// unset.
func DefaultConfig() AllocatorConfig {
	return AllocatorConfig{
		MaxSplitSize:               math.MaxInt64,
		GarbageCollectionThreshold: 0,
	}
}

// ParseConfig parses the comma-separated key:value grammar of EnvVar
// (spec §6). An empty string returns DefaultConfig(). Unknown keys are a
// hard error, matching spec §7's "config parse errors: hard failure at
// process init."
func ParseConfig(env string) (AllocatorConfig, error) {
	cfg := DefaultConfig()
	env = strings.TrimSpace(env)
	if env == "" {
		return cfg, nil
	}

	for _, pair := range strings.Split(env, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return AllocatorConfig{}, errors.Newf("%s: malformed entry %q, expected key:value", EnvVar, pair)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "max_split_size_mb":
			mb, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return AllocatorConfig{}, errors.Wrapf(err, "%s: invalid max_split_size_mb value %q", EnvVar, value)
			}
			minMB := int64(LargeBuffer / mib)
			if mb <= minMB {
				return AllocatorConfig{}, errors.Newf(
					"%s: max_split_size_mb must be greater than %d, got %d", EnvVar, minMB, mb)
			}
			maxMB := int64(math.MaxInt64 / mib)
			if mb > maxMB {
				mb = maxMB
			}
			cfg.MaxSplitSize = mb * mib
		case "garbage_collection_threshold":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return AllocatorConfig{}, errors.Wrapf(err, "%s: invalid garbage_collection_threshold value %q", EnvVar, value)
			}
			if !(f > 0 && f < 1) {
				return AllocatorConfig{}, errors.Newf(
					"%s: garbage_collection_threshold must be in (0, 1), got %v", EnvVar, f)
			}
			cfg.GarbageCollectionThreshold = f
		default:
			return AllocatorConfig{}, errors.Newf("%s: unrecognized key %q", EnvVar, key)
		}
	}

	return cfg, nil
}
