package memory

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseConfigEmptyReturnsDefault(t *testing.T) {
	cfg, err := ParseConfig("")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestParseConfigMaxSplitSize(t *testing.T) {
	cfg, err := ParseConfig("max_split_size_mb:128")
	require.NoError(t, err)
	require.Equal(t, int64(128*mib), cfg.MaxSplitSize)
}

func TestParseConfigMaxSplitSizeTooSmallErrors(t *testing.T) {
	_, err := ParseConfig("max_split_size_mb:1")
	require.Error(t, err)
}

func TestParseConfigMaxSplitSizeClampsToMax(t *testing.T) {
	cfg, err := ParseConfig("max_split_size_mb:9223372036854775807")
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64/mib)*mib, cfg.MaxSplitSize)
}

func TestParseConfigGCThreshold(t *testing.T) {
	cfg, err := ParseConfig("garbage_collection_threshold:0.8")
	require.NoError(t, err)
	require.InDelta(t, 0.8, cfg.GarbageCollectionThreshold, 1e-9)
}

func TestParseConfigGCThresholdOutOfRangeErrors(t *testing.T) {
	_, err := ParseConfig("garbage_collection_threshold:1.5")
	require.Error(t, err)

	_, err = ParseConfig("garbage_collection_threshold:0")
	require.Error(t, err)
}

func TestParseConfigMultipleKeys(t *testing.T) {
	cfg, err := ParseConfig("max_split_size_mb:64, garbage_collection_threshold:0.5")
	require.NoError(t, err)
	require.Equal(t, int64(64*mib), cfg.MaxSplitSize)
	require.InDelta(t, 0.5, cfg.GarbageCollectionThreshold, 1e-9)
}

func TestParseConfigUnknownKeyErrors(t *testing.T) {
	_, err := ParseConfig("bogus_key:1")
	require.Error(t, err)
}

func TestParseConfigMalformedPairErrors(t *testing.T) {
	_, err := ParseConfig("max_split_size_mb")
	require.Error(t, err)
}
