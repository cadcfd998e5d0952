package daengine

import (
	"github.com/mitchellh/mapstructure"
)

// MaxDynamicTreeSize and MaxDynamicDataSize are the chunk-count
// thresholds SPEC_FULL §6 fixes at 20 chunks each, used by output-level
// assignment (§4.5).
const (
	MaxDynamicTreeSize = 20
	MaxDynamicDataSize = 20
)

// Tunables is the DA's runtime configuration surface (SPEC_FULL §6).
type Tunables struct {
	UseSSDLeafNodes    bool `mapstructure:"use_ssd_leaf_nodes"`
	DynamicDriverMerge bool `mapstructure:"dynamic_driver_merge"`
	IOSRate            int  `mapstructure:"ios_rate"`
}

// DefaultTunables matches the spec's implied defaults: SSD leaves
// allowed, dynamic driver selection on, inserts unthrottled.
func DefaultTunables() Tunables {
	return Tunables{
		UseSSDLeafNodes:    true,
		DynamicDriverMerge: true,
		IOSRate:            int(^uint(0) >> 1),
	}
}

// DecodeTunables overlays a generic config map (for example one decoded
// from a config file) onto the defaults via mapstructure, so a
// deployment can set a subset of tunables from e.g. a TOML/YAML file.
func DecodeTunables(raw map[string]any) (Tunables, error) {
	t := DefaultTunables()
	if err := mapstructure.Decode(raw, &t); err != nil {
		return Tunables{}, err
	}
	return t, nil
}
