package scoring_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OmniNode-ai/omniintelligence-sub016/internal/scoring"
)

func writeProfiles(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scoring.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := scoring.LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, scoring.DefaultConfig(), cfg)
}

func TestLoadConfig_OverridesAndMerges(t *testing.T) {
	path := writeProfiles(t, `
weights:
  keyword: 0.40
  semantic: 0.30
  quality: 0.15
  success_rate: 0.15
bounds:
  min: 0.05
  max: 0.70
adaptive: false
profiles:
  fintech: quality
  ml: keyword
`)

	cfg, err := scoring.LoadConfig(path)
	require.NoError(t, err)

	assert.InDelta(t, 0.40, cfg.Weights.Keyword, 1e-9)
	assert.InDelta(t, 0.05, cfg.Bounds.Min, 1e-9)
	assert.InDelta(t, 0.70, cfg.Bounds.Max, 1e-9)
	assert.False(t, cfg.Adaptive)

	assert.Equal(t, scoring.DimQuality, cfg.Profiles["fintech"], "file adds new domains")
	assert.Equal(t, scoring.DimKeyword, cfg.Profiles["ml"], "file overrides built-ins")
	assert.Equal(t, scoring.DimKeyword, cfg.Profiles["api"], "untouched built-ins survive")
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	path := writeProfiles(t, `
profiles:
  gamedev: keyword
`)

	cfg, err := scoring.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, scoring.DefaultWeights(), cfg.Weights)
	assert.Equal(t, scoring.DefaultBounds(), cfg.Bounds)
	assert.True(t, cfg.Adaptive)
	assert.Equal(t, scoring.DimKeyword, cfg.Profiles["gamedev"])
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := scoring.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeProfiles(t, "weights: [not a map")
		_, err := scoring.LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("unknown dimension", func(t *testing.T) {
		path := writeProfiles(t, "profiles:\n  ml: vibes\n")
		_, err := scoring.LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown dimension")
	})

	t.Run("unsatisfiable bounds", func(t *testing.T) {
		path := writeProfiles(t, "bounds:\n  min: 0.30\n  max: 0.95\n")
		_, err := scoring.LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bounds")
	})
}
