package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override values from rig.yml.
const (
	EnvRedisURL     = "OLFACTO_REDIS_URL"
	EnvTrialLogDSN  = "OLFACTO_TRIAL_LOG_DSN"
	EnvUploadBucket = "OLFACTO_UPLOAD_BUCKET"
	EnvSerialPort   = "OLFACTO_SERIAL_PORT"
)

// RigConfig represents the top-level rig.yml configuration
type RigConfig struct {
	Version     string             `yaml:"version"`
	Rig         string             `yaml:"rig"`
	Experiment  ExperimentConfig   `yaml:"experiment"`
	Hardware    HardwareConfig     `yaml:"hardware"`
	Files       FilesConfig        `yaml:"files"`
	TrialLog    TrialLogConfig     `yaml:"trial_log"`
	Monitor     MonitorConfig      `yaml:"monitor,omitempty"`
	Maintenance *MaintenanceConfig `yaml:"maintenance,omitempty"`
	Upload      UploadConfig       `yaml:"upload,omitempty"`
	HTTP        HTTPConfig         `yaml:"http,omitempty"`
}

// ExperimentConfig holds the trial timing parameters. Every field is
// optional at the YAML level; an unset value skips the corresponding step.
type ExperimentConfig struct {
	StartTrialTime      Optional[Seconds] `yaml:"start_trial_time"`
	OpenOdorDuration    Optional[Seconds] `yaml:"open_odor_duration"` // required
	LoadOdorDuration    Optional[Seconds] `yaml:"load_odor_duration"` // required
	TimeToLickAfterStim Optional[Seconds] `yaml:"time_to_lick_after_stim"`
	LickTimeBinSize     Optional[Seconds] `yaml:"lick_time_bin_size"`
	LickThreshold       Optional[int]     `yaml:"lick_threshold"`
	OpenValveDuration   Optional[Seconds] `yaml:"open_valve_duration"`
	TimeoutPunishment   Optional[Seconds] `yaml:"timeout_punishment"`
	ITITime             Optional[Seconds] `yaml:"iti_time"` // also accepted as ITI_time
}

// UnmarshalYAML decodes the experiment block, accepting ITI_time as an
// alias for iti_time.
func (e *ExperimentConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain ExperimentConfig
	if err := node.Decode((*plain)(e)); err != nil {
		return err
	}
	var alias struct {
		ITITime Optional[Seconds] `yaml:"ITI_time"`
	}
	if err := node.Decode(&alias); err != nil {
		return err
	}
	if alias.ITITime.IsSet() {
		if e.ITITime.IsSet() {
			return fmt.Errorf("experiment: set either iti_time or ITI_time, not both")
		}
		e.ITITime = alias.ITITime
	}
	return nil
}

// HardwareConfig describes the GPIO chip, serial tag reader and line map
type HardwareConfig struct {
	Chip       string      `yaml:"chip,omitempty"`        // default: gpiochip0
	SerialPort string      `yaml:"serial_port,omitempty"` // empty = first /dev/ttyUSB*
	Baud       int         `yaml:"baud,omitempty"`        // default: 9600
	Lines      LineConfig  `yaml:"lines,omitempty"`
	Odors      map[int]int `yaml:"odors"` // odor number -> supply valve line
}

// LineConfig maps the rig's fixed roles to GPIO line offsets
type LineConfig struct {
	RewardValve    *int `yaml:"reward_valve,omitempty"`    // default: 4
	PresenceSensor *int `yaml:"presence_sensor,omitempty"` // default: 27
	LickSensor     *int `yaml:"lick_sensor,omitempty"`     // default: 17
	DeliveryValve  *int `yaml:"delivery_valve,omitempty"`  // default: 21
}

// FilesConfig lists the data files the rig reads at startup
type FilesConfig struct {
	Subjects       string `yaml:"subjects"`
	Levels         string `yaml:"levels"`
	Noise          string `yaml:"noise,omitempty"`
	DiagnosticsLog string `yaml:"diagnostics_log,omitempty"`
}

// TrialLogConfig selects the persisted trial log backend
type TrialLogConfig struct {
	Driver string `yaml:"driver,omitempty"` // csv (default), sqlite, postgres
	Path   string `yaml:"path,omitempty"`
	DSN    string `yaml:"dsn,omitempty"`
}

// MonitorConfig configures the live dashboard publisher
type MonitorConfig struct {
	RedisURL string `yaml:"redis_url,omitempty"`
}

// MaintenanceConfig controls the idle-time maintenance scheduler
type MaintenanceConfig struct {
	Tick             *Seconds `yaml:"tick,omitempty"`              // default: 60s
	UploadEvery      *int     `yaml:"upload_every,omitempty"`      // ticks, default: 30
	DiagnosticsEvery *int     `yaml:"diagnostics_every,omitempty"` // ticks, default: 5
}

// UploadConfig selects where data files are copied during maintenance
type UploadConfig struct {
	Driver    string `yaml:"driver,omitempty"` // "", dir, s3
	Dir       string `yaml:"dir,omitempty"`
	Bucket    string `yaml:"bucket,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`
	Region    string `yaml:"region,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	PathStyle bool   `yaml:"path_style,omitempty"`
}

// HTTPConfig configures the health and metrics listener
type HTTPConfig struct {
	Addr string `yaml:"addr,omitempty"` // default: :8080, "-" disables
}

// Validate performs strict validation on the configuration and applies defaults
func (c *RigConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Rig == "" {
		return fmt.Errorf("rig name is required")
	}

	if err := c.Experiment.Validate(); err != nil {
		return err
	}

	if err := c.Hardware.Validate(); err != nil {
		return err
	}

	if c.Files.Subjects == "" {
		return fmt.Errorf("files.subjects is required")
	}
	if c.Files.Levels == "" {
		return fmt.Errorf("files.levels is required")
	}
	if c.Files.Noise == "" {
		c.Files.Noise = "stimuli/white_noise.npz"
	}

	switch c.TrialLog.Driver {
	case "":
		c.TrialLog.Driver = "csv"
		fallthrough
	case "csv", "sqlite":
		if c.TrialLog.Path == "" {
			c.TrialLog.Path = "trials.txt"
			if c.TrialLog.Driver == "sqlite" {
				c.TrialLog.Path = "trials.db"
			}
		}
	case "postgres":
		if c.TrialLog.DSN == "" {
			return fmt.Errorf("trial_log.dsn is required for driver 'postgres'")
		}
	default:
		return fmt.Errorf("invalid trial_log.driver: %s (must be 'csv', 'sqlite' or 'postgres')", c.TrialLog.Driver)
	}

	if c.Maintenance == nil {
		c.Maintenance = &MaintenanceConfig{}
	}
	if err := c.Maintenance.Validate(); err != nil {
		return err
	}

	switch c.Upload.Driver {
	case "":
	case "dir":
		if c.Upload.Dir == "" {
			return fmt.Errorf("upload.dir is required for driver 'dir'")
		}
	case "s3":
		if c.Upload.Bucket == "" {
			return fmt.Errorf("upload.bucket is required for driver 's3'")
		}
	default:
		return fmt.Errorf("invalid upload.driver: %s (must be 'dir', 's3' or omitted)", c.Upload.Driver)
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}

	return nil
}

// Validate checks the timing parameters
func (e *ExperimentConfig) Validate() error {
	open, ok := e.OpenOdorDuration.Get()
	if !ok {
		return fmt.Errorf("experiment.open_odor_duration is required")
	}
	if open <= 0 {
		return fmt.Errorf("experiment.open_odor_duration must be > 0, got %s", open)
	}
	load, ok := e.LoadOdorDuration.Get()
	if !ok {
		return fmt.Errorf("experiment.load_odor_duration is required")
	}
	if load <= 0 {
		return fmt.Errorf("experiment.load_odor_duration must be > 0, got %s", load)
	}
	window, ok := e.TimeToLickAfterStim.Get()
	if !ok {
		return fmt.Errorf("experiment.time_to_lick_after_stim is required")
	}
	if window <= 0 {
		return fmt.Errorf("experiment.time_to_lick_after_stim must be > 0, got %s", window)
	}
	if n, ok := e.LickThreshold.Get(); ok && n < 1 {
		return fmt.Errorf("experiment.lick_threshold must be >= 1, got %d", n)
	}

	optional := map[string]Optional[Seconds]{
		"start_trial_time":    e.StartTrialTime,
		"lick_time_bin_size":  e.LickTimeBinSize,
		"open_valve_duration": e.OpenValveDuration,
		"timeout_punishment":  e.TimeoutPunishment,
		"iti_time":            e.ITITime,
	}
	for name, o := range optional {
		if v, ok := o.Get(); ok && v < 0 {
			return fmt.Errorf("experiment.%s must be >= 0, got %s", name, v)
		}
	}
	return nil
}

// Validate applies hardware defaults and checks that no line is claimed twice
func (h *HardwareConfig) Validate() error {
	if h.Chip == "" {
		h.Chip = "gpiochip0"
	}
	if h.Baud == 0 {
		h.Baud = 9600
	}
	if h.Baud < 0 {
		return fmt.Errorf("hardware.baud must be > 0, got %d", h.Baud)
	}

	setDefault(&h.Lines.RewardValve, 4)
	setDefault(&h.Lines.PresenceSensor, 27)
	setDefault(&h.Lines.LickSensor, 17)
	setDefault(&h.Lines.DeliveryValve, 21)

	if len(h.Odors) == 0 {
		return fmt.Errorf("hardware.odors must map at least one odor to a line")
	}

	used := map[int]string{}
	claim := func(line int, role string) error {
		if line < 0 {
			return fmt.Errorf("hardware: %s line must be >= 0, got %d", role, line)
		}
		if prev, exists := used[line]; exists {
			return fmt.Errorf("hardware: line %d assigned to both %s and %s", line, prev, role)
		}
		used[line] = role
		return nil
	}
	if err := claim(*h.Lines.RewardValve, "reward_valve"); err != nil {
		return err
	}
	if err := claim(*h.Lines.PresenceSensor, "presence_sensor"); err != nil {
		return err
	}
	if err := claim(*h.Lines.LickSensor, "lick_sensor"); err != nil {
		return err
	}
	if err := claim(*h.Lines.DeliveryValve, "delivery_valve"); err != nil {
		return err
	}

	odors := make([]int, 0, len(h.Odors))
	for odor := range h.Odors {
		odors = append(odors, odor)
	}
	sort.Ints(odors)
	for _, odor := range odors {
		if err := claim(h.Odors[odor], fmt.Sprintf("odor %d", odor)); err != nil {
			return err
		}
	}
	return nil
}

// Validate applies maintenance defaults
func (m *MaintenanceConfig) Validate() error {
	if m.Tick == nil {
		tick := Seconds(60 * time.Second)
		m.Tick = &tick
	}
	if *m.Tick <= 0 {
		return fmt.Errorf("maintenance.tick must be > 0, got %s", *m.Tick)
	}
	setDefault(&m.UploadEvery, 30)
	setDefault(&m.DiagnosticsEvery, 5)
	if *m.UploadEvery < 0 {
		return fmt.Errorf("maintenance.upload_every must be >= 0 (0 = never), got %d", *m.UploadEvery)
	}
	if *m.DiagnosticsEvery < 0 {
		return fmt.Errorf("maintenance.diagnostics_every must be >= 0 (0 = never), got %d", *m.DiagnosticsEvery)
	}
	return nil
}

func setDefault(p **int, v int) {
	if *p == nil {
		*p = &v
	}
}

// applyEnv overrides selected values from the environment
func (c *RigConfig) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvRedisURL); ok && v != "" {
		c.Monitor.RedisURL = v
	}
	if v, ok := lookup(EnvTrialLogDSN); ok && v != "" {
		c.TrialLog.DSN = v
	}
	if v, ok := lookup(EnvUploadBucket); ok && v != "" {
		c.Upload.Bucket = v
	}
	if v, ok := lookup(EnvSerialPort); ok && v != "" {
		c.Hardware.SerialPort = v
	}
}

// Load reads rig.yml from the specified path, applies environment overrides
// and validates the result
func Load(path string) (*RigConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config RigConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	config.applyEnv(os.LookupEnv)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
