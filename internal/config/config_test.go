package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linetally/internal/count"
	"linetally/internal/tune"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadPartialConfigKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"counting": {"start_x": 100, "start_y": 400, "end_x": 900, "end_y": 410, "direction": "far_to_near"},
		"tracking": {"match_thresh": 0.6},
		"storage": {"sqlite_path": "/tmp/test.db"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	line := cfg.Counting.Line()
	assert.Equal(t, 100.0, line.Start.X)
	assert.Equal(t, 410.0, line.End.Y)
	assert.Equal(t, count.FarToNear, line.Direction)
	// Omitted fields fall back to defaults.
	assert.Equal(t, 6.0, line.HysteresisPx)
	assert.Equal(t, 3, line.MinVisibleFrames)
	assert.Equal(t, 0.6, cfg.Tracking.GetMatchThresh())
	assert.Equal(t, 150.0, cfg.Tracking.GetMinBoxArea())
	assert.Equal(t, "/tmp/test.db", cfg.Storage.GetSQLitePath())
	assert.Equal(t, "data/csv", cfg.Storage.GetCSVDir())
	assert.Equal(t, "mock", cfg.Camera.GetSource())
	assert.Equal(t, ":8093", cfg.Server.GetAddr())
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	_, err := Load("config.yaml")
	assert.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestValidateRejectsDegenerateLine(t *testing.T) {
	path := writeConfig(t, `{
		"counting": {"start_x": 50, "start_y": 50, "end_x": 50, "end_y": 50}
	}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "counting line")
}

func TestValidateRejectsBadDirection(t *testing.T) {
	path := writeConfig(t, `{"counting": {"direction": "sideways"}}`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadPolicy(t *testing.T) {
	path := writeConfig(t, `{"tuner": {"optimize_for": "vibes"}}`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestDefaultsValidate(t *testing.T) {
	cfg := &Config{}
	assert.NoError(t, cfg.Validate())
}

func TestApplyProfileOverrides(t *testing.T) {
	cfg := &Config{}
	conf, area := 0.35, 120.0

	cfg.ApplyProfile(&tune.Profile{ConfThresh: &conf, MinBoxArea: &area})

	assert.Equal(t, 0.35, cfg.Detector.GetConfThresh())
	assert.Equal(t, 120.0, cfg.Tracking.GetMinBoxArea())
	// Untouched by the partial profile.
	assert.Equal(t, 0.80, cfg.Tracking.GetMatchThresh())

	cfg.ApplyProfile(nil)
	assert.Equal(t, 0.35, cfg.Detector.GetConfThresh())
}

func TestComponentConfigConversion(t *testing.T) {
	path := writeConfig(t, `{
		"detector": {"conf_thresh": 0.45, "class_filter": ["cup"], "label_map": {"cup": 41}},
		"roi": {"band_height_px": 180},
		"drift": {"ssim_thresh": 0.5}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	fc := cfg.FilterConfig()
	assert.Equal(t, 0.45, fc.ConfThresh)
	assert.Equal(t, []string{"cup"}, fc.ClassFilter)

	assert.Equal(t, 180.0, cfg.ROIGateConfig().BandHeightPx)
	assert.Equal(t, 40.0, cfg.ROIGateConfig().MarginPx)

	dc := cfg.DriftMonitorConfig()
	assert.Equal(t, 0.5, dc.SSIMThresh)
	assert.Equal(t, 10.0, dc.CooldownMinutes)

	cc := cfg.CalibratorConfig()
	assert.Equal(t, 600, cc.WarmupFrames)
	assert.Equal(t, 6.0, cc.HysteresisPx)
}
