package prober

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// Config carries the tunables the original source leaves as named
// constants, plus a sample seed for reproducible runs.
type Config struct {
	MaxNBlockOrder   uint8  `json:"max_n_block_order,omitempty"`
	NBlockSamples    int    `json:"n_block_samples,omitempty"`
	MinCacheSizeByte uint64 `json:"min_cache_size_byte,omitempty"`
	MaxCacheSizeByte uint64 `json:"max_cache_size_byte,omitempty"`
	MaxBlocksFudge   uint64 `json:"max_blocks_fudge,omitempty"`

	// SampleSeed seeds the PRNG used to pick probabilistic sample
	// positions. Zero means "derive from the wall clock", matching the
	// original's srand(time(NULL)).
	SampleSeed uint64 `json:"sample_seed,omitempty"`
}

// DefaultConfig returns the tunables from the original source.
func DefaultConfig() Config {
	return Config{
		MaxNBlockOrder:   10,
		NBlockSamples:    64,
		MinCacheSizeByte: 1 << 20,
		MaxCacheSizeByte: 1 << 30,
		MaxBlocksFudge:   128,
	}
}

// LoadConfig loads an optional JSONC file at path and merges it over
// DefaultConfig(); an empty path returns DefaultConfig(), while a path
// that cannot be read is an error. Unlike the multi-source precedence
// chain a project tool needs, a standalone probe invocation only ever
// takes one optional --config flag.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC in %s: %w", path, err)
	}

	var overlay Config
	if err := json.Unmarshal(standardized, &overlay); err != nil {
		return Config{}, fmt.Errorf("invalid JSON in %s: %w", path, err)
	}

	// A second raw decode distinguishes a present-but-zero field from
	// an absent one, the same way the ticket config's explicitEmpty
	// map does for its own fields.
	var raw map[string]any
	_ = json.Unmarshal(standardized, &raw)

	if _, ok := raw["max_n_block_order"]; ok {
		cfg.MaxNBlockOrder = overlay.MaxNBlockOrder
	}
	if _, ok := raw["n_block_samples"]; ok {
		cfg.NBlockSamples = overlay.NBlockSamples
	}
	if _, ok := raw["min_cache_size_byte"]; ok {
		cfg.MinCacheSizeByte = overlay.MinCacheSizeByte
	}
	if _, ok := raw["max_cache_size_byte"]; ok {
		cfg.MaxCacheSizeByte = overlay.MaxCacheSizeByte
	}
	if _, ok := raw["max_blocks_fudge"]; ok {
		cfg.MaxBlocksFudge = overlay.MaxBlocksFudge
	}
	if _, ok := raw["sample_seed"]; ok {
		cfg.SampleSeed = overlay.SampleSeed
	}

	return cfg, nil
}
