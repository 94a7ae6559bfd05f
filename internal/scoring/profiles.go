package scoring

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/OmniNode-ai/omniintelligence-sub016/pkg/textx"
)

// profilesFile is the YAML shape of an operator-provided scoring config.
type profilesFile struct {
	Weights  *Weights          `yaml:"weights"`
	Bounds   *Bounds           `yaml:"bounds"`
	Adaptive *bool             `yaml:"adaptive"`
	Profiles map[string]string `yaml:"profiles"`
}

// LoadConfig reads a YAML scoring configuration from path. An empty path
// returns the built-in defaults. File profiles extend and override the
// built-in domain table; omitted sections keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	// #nosec G304 -- operator-provided configuration path
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read scoring profiles: %w", err)
	}

	var pf profilesFile
	if err := yaml.Unmarshal(content, &pf); err != nil {
		return Config{}, fmt.Errorf("parse scoring profiles %s: %w", path, err)
	}

	if pf.Weights != nil {
		cfg.Weights = *pf.Weights
	}
	if pf.Bounds != nil {
		cfg.Bounds = *pf.Bounds
	}
	if pf.Adaptive != nil {
		cfg.Adaptive = *pf.Adaptive
	}
	for dom, dim := range pf.Profiles {
		d := Dimension(textx.Fold(dim))
		switch d {
		case DimKeyword, DimSemantic, DimQuality, DimSuccessRate:
			cfg.Profiles[textx.Fold(dom)] = d
		default:
			return Config{}, fmt.Errorf("scoring profile %q: unknown dimension %q", dom, dim)
		}
	}

	b := cfg.Bounds
	if b.Min < 0 || b.Max <= b.Min || b.Min*4 > 1 || b.Max*4 < 1 {
		return Config{}, fmt.Errorf("scoring bounds [%g, %g] cannot hold four weights summing to 1", b.Min, b.Max)
	}
	return cfg, nil
}
