// Package config loads the service configuration from JSON. All fields are
// pointers so a partial file only overrides what it names; Get* methods
// supply the defaults for everything else.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"linetally/internal/calibrate"
	"linetally/internal/count"
	"linetally/internal/detect"
	"linetally/internal/drift"
	"linetally/internal/geom"
	"linetally/internal/roi"
	"linetally/internal/track"
	"linetally/internal/tune"
)

// Config is the top-level service configuration.
type Config struct {
	Camera      CameraConfig      `json:"camera"`
	Detector    DetectorConfig    `json:"detector"`
	Tracking    TrackingConfig    `json:"tracking"`
	Counting    CountingConfig    `json:"counting"`
	ROI         ROIConfig         `json:"roi"`
	Drift       DriftConfig       `json:"drift"`
	Calibration CalibrationConfig `json:"calibration"`
	Tuner       TunerConfig       `json:"tuner"`
	Storage     StorageConfig     `json:"storage"`
	Server      ServerConfig      `json:"server"`
}

// CameraConfig describes the frame source.
type CameraConfig struct {
	// Source is "mock" or a directory of replay frames.
	Source *string `json:"source,omitempty"`
	Width  *int    `json:"width,omitempty"`
	Height *int    `json:"height,omitempty"`
	FPS    *int    `json:"fps,omitempty"`
}

// DetectorConfig describes the detector backend and post-filter.
type DetectorConfig struct {
	// Endpoint is the HTTP detector URL; empty selects the mock backend.
	Endpoint      *string        `json:"endpoint,omitempty"`
	ConfThresh    *float64       `json:"conf_thresh,omitempty"`
	IoUThresh     *float64       `json:"iou_thresh,omitempty"`
	MaxDetections *int           `json:"max_detections,omitempty"`
	ClassFilter   []string       `json:"class_filter,omitempty"`
	LabelMap      map[string]int `json:"label_map,omitempty"`
	TimeoutSecs   *float64       `json:"timeout_secs,omitempty"`
}

// TrackingConfig mirrors the tracker knobs.
type TrackingConfig struct {
	TrackThresh *float64 `json:"track_thresh,omitempty"`
	MatchThresh *float64 `json:"match_thresh,omitempty"`
	MinBoxArea  *float64 `json:"min_box_area,omitempty"`
	LostTTL     *int     `json:"lost_ttl,omitempty"`
}

// CountingConfig places the counting line.
type CountingConfig struct {
	StartX           *float64 `json:"start_x,omitempty"`
	StartY           *float64 `json:"start_y,omitempty"`
	EndX             *float64 `json:"end_x,omitempty"`
	EndY             *float64 `json:"end_y,omitempty"`
	Direction        *string  `json:"direction,omitempty"`
	HysteresisPx     *float64 `json:"hysteresis_px,omitempty"`
	MinVisibleFrames *int     `json:"min_visible_frames,omitempty"`
}

// ROIConfig shapes the masking band around the line.
type ROIConfig struct {
	BandHeightPx   *float64 `json:"band_height_px,omitempty"`
	MarginPx       *float64 `json:"margin_px,omitempty"`
	CooldownFrames *int     `json:"cooldown_frames,omitempty"`
}

// DriftConfig controls drift detection and recalibration gating.
type DriftConfig struct {
	SSIMThresh          *float64 `json:"ssim_thresh,omitempty"`
	EdgeOverlapThresh   *float64 `json:"edge_overlap_thresh,omitempty"`
	BrightnessVarThresh *float64 `json:"brightness_var_thresh,omitempty"`
	CooldownMinutes     *float64 `json:"cooldown_minutes,omitempty"`
	CheckEveryFrames    *int     `json:"check_every_frames,omitempty"`
	AutoApplyConfidence *float64 `json:"auto_apply_confidence,omitempty"`
}

// CalibrationConfig controls warmup line proposal.
type CalibrationConfig struct {
	WarmupFrames   *int     `json:"warmup_frames,omitempty"`
	SampleEvery    *int     `json:"sample_every,omitempty"`
	MinTrajPoints  *int     `json:"min_traj_points,omitempty"`
	FlowDeadZonePx *float64 `json:"flow_dead_zone_px,omitempty"`
	MinFlowRatio   *float64 `json:"min_flow_ratio,omitempty"`
	MaxAngleDeg    *float64 `json:"max_angle_deg,omitempty"`
	TopK           *int     `json:"top_k,omitempty"`
	HeatmapSigma   *float64 `json:"heatmap_sigma,omitempty"`
}

// TunerConfig controls replay grid search.
type TunerConfig struct {
	Enabled         *bool     `json:"enabled,omitempty"`
	OptimizeFor     *string   `json:"optimize_for,omitempty"`
	KeepBestProfile *bool     `json:"keep_best_profile,omitempty"`
	ProfilePath     *string   `json:"profile_path,omitempty"`
	Grid            tune.Grid `json:"grid"`
}

// StorageConfig places the database and CSV exports.
type StorageConfig struct {
	SQLitePath *string `json:"sqlite_path,omitempty"`
	CSVDir     *string `json:"csv_dir,omitempty"`
}

// ServerConfig is the stats HTTP/WebSocket listener.
type ServerConfig struct {
	Addr *string `json:"addr,omitempty"`
}

// Load reads and validates a JSON config file. Fields omitted from the file
// keep their defaults, so partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges and rejects a degenerate counting line.
func (c *Config) Validate() error {
	line := c.Counting.Line()
	if line.Start == line.End {
		return fmt.Errorf("counting line start and end must differ, both are (%g, %g)", line.Start.X, line.Start.Y)
	}
	if d := c.Counting.GetDirection(); d != count.NearToFar && d != count.FarToNear {
		return fmt.Errorf("direction must be %q or %q, got %q", count.NearToFar, count.FarToNear, d)
	}
	if h := c.Counting.GetHysteresisPx(); h < 0 {
		return fmt.Errorf("hysteresis_px must be non-negative, got %g", h)
	}
	if v := c.Detector.GetConfThresh(); v < 0 || v > 1 {
		return fmt.Errorf("conf_thresh must be between 0 and 1, got %g", v)
	}
	if v := c.Tracking.GetMatchThresh(); v <= 0 || v > 1 {
		return fmt.Errorf("match_thresh must be in (0, 1], got %g", v)
	}
	if v := c.Calibration.GetMinFlowRatio(); v < 0.5 || v > 1 {
		return fmt.Errorf("min_flow_ratio must be between 0.5 and 1, got %g", v)
	}
	if p := c.Tuner.GetOptimizeFor(); p != tune.StableCrossings && p != tune.MinDoubleCounts {
		return fmt.Errorf("optimize_for must be %q or %q, got %q", tune.StableCrossings, tune.MinDoubleCounts, p)
	}
	return nil
}

func (c CameraConfig) GetSource() string {
	if c.Source == nil {
		return "mock"
	}
	return *c.Source
}

func (c CameraConfig) GetWidth() int {
	if c.Width == nil {
		return 1280
	}
	return *c.Width
}

func (c CameraConfig) GetHeight() int {
	if c.Height == nil {
		return 720
	}
	return *c.Height
}

func (c CameraConfig) GetFPS() int {
	if c.FPS == nil {
		return 15
	}
	return *c.FPS
}

func (d DetectorConfig) GetEndpoint() string {
	if d.Endpoint == nil {
		return ""
	}
	return *d.Endpoint
}

func (d DetectorConfig) GetConfThresh() float64 {
	if d.ConfThresh == nil {
		return 0.40
	}
	return *d.ConfThresh
}

func (d DetectorConfig) GetIoUThresh() float64 {
	if d.IoUThresh == nil {
		return 0.50
	}
	return *d.IoUThresh
}

func (d DetectorConfig) GetMaxDetections() int {
	if d.MaxDetections == nil {
		return 50
	}
	return *d.MaxDetections
}

func (d DetectorConfig) GetTimeoutSecs() float64 {
	if d.TimeoutSecs == nil {
		return 5.0
	}
	return *d.TimeoutSecs
}

func (t TrackingConfig) GetTrackThresh() float64 {
	if t.TrackThresh == nil {
		return 0.50
	}
	return *t.TrackThresh
}

func (t TrackingConfig) GetMatchThresh() float64 {
	if t.MatchThresh == nil {
		return 0.80
	}
	return *t.MatchThresh
}

func (t TrackingConfig) GetMinBoxArea() float64 {
	if t.MinBoxArea == nil {
		return 150
	}
	return *t.MinBoxArea
}

func (t TrackingConfig) GetLostTTL() int {
	if t.LostTTL == nil {
		return 30
	}
	return *t.LostTTL
}

func (c CountingConfig) GetDirection() count.Direction {
	if c.Direction == nil {
		return count.NearToFar
	}
	return count.Direction(*c.Direction)
}

func (c CountingConfig) GetHysteresisPx() float64 {
	if c.HysteresisPx == nil {
		return 6.0
	}
	return *c.HysteresisPx
}

func (c CountingConfig) GetMinVisibleFrames() int {
	if c.MinVisibleFrames == nil {
		return 3
	}
	return *c.MinVisibleFrames
}

// Line assembles the configured counting line. The default spans the lower
// third of a 1280x720 frame.
func (c CountingConfig) Line() count.Line {
	start := geom.Point{X: 0, Y: 520}
	end := geom.Point{X: 1280, Y: 520}
	if c.StartX != nil {
		start.X = *c.StartX
	}
	if c.StartY != nil {
		start.Y = *c.StartY
	}
	if c.EndX != nil {
		end.X = *c.EndX
	}
	if c.EndY != nil {
		end.Y = *c.EndY
	}
	return count.Line{
		Start:            start,
		End:              end,
		Direction:        c.GetDirection(),
		HysteresisPx:     c.GetHysteresisPx(),
		MinVisibleFrames: c.GetMinVisibleFrames(),
	}
}

func (r ROIConfig) GetBandHeightPx() float64 {
	if r.BandHeightPx == nil {
		return 200
	}
	return *r.BandHeightPx
}

func (r ROIConfig) GetMarginPx() float64 {
	if r.MarginPx == nil {
		return 40
	}
	return *r.MarginPx
}

func (r ROIConfig) GetCooldownFrames() int {
	if r.CooldownFrames == nil {
		return 30
	}
	return *r.CooldownFrames
}

func (d DriftConfig) GetCheckEveryFrames() int {
	if d.CheckEveryFrames == nil {
		return 30
	}
	return *d.CheckEveryFrames
}

func (d DriftConfig) GetAutoApplyConfidence() float64 {
	if d.AutoApplyConfidence == nil {
		return 0.7
	}
	return *d.AutoApplyConfidence
}

func (t TunerConfig) GetEnabled() bool {
	if t.Enabled == nil {
		return false
	}
	return *t.Enabled
}

func (t TunerConfig) GetOptimizeFor() tune.Policy {
	if t.OptimizeFor == nil {
		return tune.StableCrossings
	}
	return tune.Policy(*t.OptimizeFor)
}

func (t TunerConfig) GetKeepBestProfile() bool {
	if t.KeepBestProfile == nil {
		return true
	}
	return *t.KeepBestProfile
}

func (t TunerConfig) GetProfilePath() string {
	if t.ProfilePath == nil {
		return "data/profiles/best.json"
	}
	return *t.ProfilePath
}

func (s StorageConfig) GetSQLitePath() string {
	if s.SQLitePath == nil {
		return "data/linetally.db"
	}
	return *s.SQLitePath
}

func (s StorageConfig) GetCSVDir() string {
	if s.CSVDir == nil {
		return "data/csv"
	}
	return *s.CSVDir
}

func (s ServerConfig) GetAddr() string {
	if s.Addr == nil {
		return ":8093"
	}
	return *s.Addr
}

func (cal CalibrationConfig) GetWarmupFrames() int {
	if cal.WarmupFrames == nil {
		return 600
	}
	return *cal.WarmupFrames
}

func (cal CalibrationConfig) GetSampleEvery() int {
	if cal.SampleEvery == nil {
		return 10
	}
	return *cal.SampleEvery
}

func (cal CalibrationConfig) GetMinTrajPoints() int {
	if cal.MinTrajPoints == nil {
		return 5
	}
	return *cal.MinTrajPoints
}

func (cal CalibrationConfig) GetFlowDeadZonePx() float64 {
	if cal.FlowDeadZonePx == nil {
		return 10.0
	}
	return *cal.FlowDeadZonePx
}

func (cal CalibrationConfig) GetMinFlowRatio() float64 {
	if cal.MinFlowRatio == nil {
		return 0.6
	}
	return *cal.MinFlowRatio
}

func (cal CalibrationConfig) GetMaxAngleDeg() float64 {
	if cal.MaxAngleDeg == nil {
		return 15.0
	}
	return *cal.MaxAngleDeg
}

func (cal CalibrationConfig) GetTopK() int {
	if cal.TopK == nil {
		return 3
	}
	return *cal.TopK
}

func (cal CalibrationConfig) GetHeatmapSigma() float64 {
	if cal.HeatmapSigma == nil {
		return 3.0
	}
	return *cal.HeatmapSigma
}

// FilterConfig builds the detection post-filter settings.
func (c *Config) FilterConfig() detect.FilterConfig {
	return detect.FilterConfig{
		ConfThresh:    c.Detector.GetConfThresh(),
		IoUThresh:     c.Detector.GetIoUThresh(),
		MaxDetections: c.Detector.GetMaxDetections(),
		ClassFilter:   c.Detector.ClassFilter,
		LabelMap:      c.Detector.LabelMap,
	}
}

// TrackerConfig builds the tracker settings.
func (c *Config) TrackerConfig() track.Config {
	return track.Config{
		TrackThresh: c.Tracking.GetTrackThresh(),
		MatchThresh: c.Tracking.GetMatchThresh(),
		MinBoxArea:  c.Tracking.GetMinBoxArea(),
		LostTTL:     c.Tracking.GetLostTTL(),
	}
}

// ROIGateConfig builds the masking band settings.
func (c *Config) ROIGateConfig() roi.Config {
	return roi.Config{
		BandHeightPx:   c.ROI.GetBandHeightPx(),
		MarginPx:       c.ROI.GetMarginPx(),
		CooldownFrames: c.ROI.GetCooldownFrames(),
	}
}

// DriftMonitorConfig builds the drift detection settings.
func (c *Config) DriftMonitorConfig() drift.Config {
	out := drift.DefaultConfig()
	if c.Drift.SSIMThresh != nil {
		out.SSIMThresh = *c.Drift.SSIMThresh
	}
	if c.Drift.EdgeOverlapThresh != nil {
		out.EdgeOverlapThresh = *c.Drift.EdgeOverlapThresh
	}
	if c.Drift.BrightnessVarThresh != nil {
		out.BrightnessVarThresh = *c.Drift.BrightnessVarThresh
	}
	if c.Drift.CooldownMinutes != nil {
		out.CooldownMinutes = *c.Drift.CooldownMinutes
	}
	return out
}

// CalibratorConfig builds the warmup calibration settings.
func (c *Config) CalibratorConfig() calibrate.Config {
	return calibrate.Config{
		WarmupFrames:   c.Calibration.GetWarmupFrames(),
		SampleEvery:    c.Calibration.GetSampleEvery(),
		MinTrajPoints:  c.Calibration.GetMinTrajPoints(),
		FlowDeadZonePx: c.Calibration.GetFlowDeadZonePx(),
		MinFlowRatio:   c.Calibration.GetMinFlowRatio(),
		MaxAngleDeg:    c.Calibration.GetMaxAngleDeg(),
		TopK:           c.Calibration.GetTopK(),
		HysteresisPx:   c.Counting.GetHysteresisPx(),
		HeatmapSigma:   c.Calibration.GetHeatmapSigma(),
	}
}

// TunerSettings builds the grid search settings.
func (c *Config) TunerSettings() tune.Config {
	return tune.Config{
		Enabled:         c.Tuner.GetEnabled(),
		Grid:            c.Tuner.Grid,
		OptimizeFor:     c.Tuner.GetOptimizeFor(),
		KeepBestProfile: c.Tuner.GetKeepBestProfile(),
	}
}

// ApplyProfile overlays a tuner override onto the detector and tracking
// sections.
func (c *Config) ApplyProfile(prof *tune.Profile) {
	if prof == nil {
		return
	}
	if prof.ConfThresh != nil {
		c.Detector.ConfThresh = prof.ConfThresh
	}
	if prof.MatchThresh != nil {
		c.Tracking.MatchThresh = prof.MatchThresh
	}
	if prof.MinBoxArea != nil {
		c.Tracking.MinBoxArea = prof.MinBoxArea
	}
}
