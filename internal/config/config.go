package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultSampleRate    = 44100
	DefaultChannels      = 1
	DefaultBitsPerSample = 16
	DefaultThreshold     = 100.0
	DefaultFileName      = "recording.pcm"
	DefaultStopTimeout   = 2 * time.Second
)

type GlobalsConfig struct {
	Output GlobalOutputConfig `mapstructure:"output" yaml:"output"`
}

type GlobalOutputConfig struct {
	RecordingsDirectory string `mapstructure:"recordings_directory" yaml:"recordings_directory"`
}

type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig     `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Audio     AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Detection DetectionConfig `mapstructure:"detection" yaml:"detection"`
	Output    OutputConfig    `mapstructure:"output" yaml:"output"`
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`

	// Name of the profile this config was resolved from
	Profile string `mapstructure:"-" yaml:"-"`

	// Internal field to track inheritance information for info command
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

type InheritanceInfo struct {
	Audio struct {
		Backend    string // "inherited" or "profile-specific"
		Device     string
		SampleRate string
		Buffer     string
	}
	Detection struct {
		Threshold string
	}
	Output struct {
		Directory string
		FileName  string
	}
	Session struct {
		StopTimeout string
	}
}

type AudioConfig struct {
	Backend       string `mapstructure:"backend" yaml:"backend"` // "auto", "portaudio", "malgo", "pipewire", "file"
	Device        string `mapstructure:"device" yaml:"device"`   // device name, PipeWire target, or PCM path for the file backend
	SampleRate    int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels      int    `mapstructure:"channels" yaml:"channels"`
	BitsPerSample int    `mapstructure:"bits_per_sample" yaml:"bits_per_sample"`
	BufferFrames  int    `mapstructure:"buffer_frames" yaml:"buffer_frames"` // 0 = device minimum
	Realtime      bool   `mapstructure:"realtime" yaml:"realtime"`           // pace file replay at the sample rate
}

type DetectionConfig struct {
	// Pointer so that an explicit 0 is distinguishable from unset
	Threshold *float64 `mapstructure:"threshold" yaml:"threshold,omitempty"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
	FileName  string `mapstructure:"file_name" yaml:"file_name"`
}

type SessionConfig struct {
	StopTimeout time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
}

type LoggingConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Default returns the built-in configuration used when no file exists
func Default() *Config {
	threshold := DefaultThreshold
	return &Config{
		Audio: AudioConfig{
			Backend:       "auto",
			SampleRate:    DefaultSampleRate,
			Channels:      DefaultChannels,
			BitsPerSample: DefaultBitsPerSample,
		},
		Detection: DetectionConfig{Threshold: &threshold},
		Output: OutputConfig{
			Directory: filepath.Join(os.Getenv("HOME"), "Audio", "SoundSentry"),
			FileName:  DefaultFileName,
		},
		Session: SessionConfig{StopTimeout: DefaultStopTimeout},
		Logging: LoggingConfig{MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28},
		Profile: "default",
	}
}

// Load reads configFile and resolves the requested profile. An empty profile
// selects active_config, then "default". A missing file yields Default().
func Load(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		slog.Debug("Config file not found, using built-in defaults", "path", configFile)
		cfg := Default()
		cfg.Output.Directory = expandPath(cfg.Output.Directory)
		return cfg, nil
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	// Determine which config to use
	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selected, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	// Profiles fall back to the file's default profile, then to built-in defaults
	base := Default()
	if configName != "default" {
		if defaultProfile, ok := rootConfig.Configs["default"]; ok {
			base = mergeConfigs(base, defaultProfile)
		}
	}
	resolved := mergeConfigs(base, selected)
	resolved.Profile = configName

	// Global recordings directory takes priority over profile-specific directory
	if rootConfig.Globals != nil && rootConfig.Globals.Output.RecordingsDirectory != "" {
		resolved.Output.Directory = rootConfig.Globals.Output.RecordingsDirectory
	}

	resolved.Output.Directory = expandPath(resolved.Output.Directory)
	resolved.Audio.Device = expandPath(resolved.Audio.Device)
	resolved.Logging.File = expandPath(resolved.Logging.File)

	if err := resolved.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return resolved, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	if !v.IsSet("configs." + newActiveConfig) {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// ProfileNames lists the profiles defined in configFile, sorted
func ProfileNames(configFile string) ([]string, error) {
	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(rootConfig.Configs))
	for name := range rootConfig.Configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ValidateConfigurationFormat reads the configuration file and returns the parsed root config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	// Environment overrides, e.g. SOUNDSENTRY_ACTIVE_CONFIG
	v.SetEnvPrefix("SOUNDSENTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section is required and cannot be empty")
	}

	for name, profile := range rootConfig.Configs {
		if profile == nil {
			return nil, fmt.Errorf("config '%s' is empty", name)
		}
	}

	return &rootConfig, nil
}

// mergeConfigs overlays the fields set in profile onto base and records
// which values were inherited
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{}
	result.Inheritance = &InheritanceInfo{}

	if base != nil {
		result.Audio = base.Audio
		result.Detection = base.Detection
		result.Output = base.Output
		result.Session = base.Session
		result.Logging = base.Logging
		result.Metrics = base.Metrics

		result.Inheritance.Audio.Backend = "inherited"
		result.Inheritance.Audio.Device = "inherited"
		result.Inheritance.Audio.SampleRate = "inherited"
		result.Inheritance.Audio.Buffer = "inherited"
		result.Inheritance.Detection.Threshold = "inherited"
		result.Inheritance.Output.Directory = "inherited"
		result.Inheritance.Output.FileName = "inherited"
		result.Inheritance.Session.StopTimeout = "inherited"
	}

	if profile == nil {
		return result
	}

	if profile.Audio.Backend != "" {
		result.Audio.Backend = profile.Audio.Backend
		result.Inheritance.Audio.Backend = "profile-specific"
	}
	if profile.Audio.Device != "" {
		result.Audio.Device = profile.Audio.Device
		result.Inheritance.Audio.Device = "profile-specific"
	}
	if profile.Audio.SampleRate != 0 {
		result.Audio.SampleRate = profile.Audio.SampleRate
		result.Inheritance.Audio.SampleRate = "profile-specific"
	}
	if profile.Audio.Channels != 0 {
		result.Audio.Channels = profile.Audio.Channels
	}
	if profile.Audio.BitsPerSample != 0 {
		result.Audio.BitsPerSample = profile.Audio.BitsPerSample
	}
	if profile.Audio.BufferFrames != 0 {
		result.Audio.BufferFrames = profile.Audio.BufferFrames
		result.Inheritance.Audio.Buffer = "profile-specific"
	}
	if profile.Audio.Realtime {
		result.Audio.Realtime = true
	}

	if profile.Detection.Threshold != nil {
		threshold := *profile.Detection.Threshold
		result.Detection.Threshold = &threshold
		result.Inheritance.Detection.Threshold = "profile-specific"
	}

	if profile.Output.Directory != "" {
		result.Output.Directory = profile.Output.Directory
		result.Inheritance.Output.Directory = "profile-specific"
	}
	if profile.Output.FileName != "" {
		result.Output.FileName = profile.Output.FileName
		result.Inheritance.Output.FileName = "profile-specific"
	}

	if profile.Session.StopTimeout != 0 {
		result.Session.StopTimeout = profile.Session.StopTimeout
		result.Inheritance.Session.StopTimeout = "profile-specific"
	}

	if profile.Logging.File != "" {
		result.Logging.File = profile.Logging.File
	}
	if profile.Logging.MaxSizeMB != 0 {
		result.Logging.MaxSizeMB = profile.Logging.MaxSizeMB
	}
	if profile.Logging.MaxBackups != 0 {
		result.Logging.MaxBackups = profile.Logging.MaxBackups
	}
	if profile.Logging.MaxAgeDays != 0 {
		result.Logging.MaxAgeDays = profile.Logging.MaxAgeDays
	}

	// Metrics: profile value always takes precedence if the profile is loaded
	result.Metrics = profile.Metrics

	return result
}

// Validate checks that the resolved configuration can drive a capture session
func (c *Config) Validate() error {
	switch strings.ToLower(c.Audio.Backend) {
	case "", "auto", "portaudio", "malgo", "pipewire":
	case "file":
		if c.Audio.Device == "" {
			return fmt.Errorf("audio.device must name a PCM file when backend is 'file'")
		}
	default:
		return fmt.Errorf("audio.backend must be one of auto, portaudio, malgo, pipewire, file, got: %s", c.Audio.Backend)
	}

	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be > 0, got: %d", c.Audio.SampleRate)
	}
	if c.Audio.Channels != 1 {
		return fmt.Errorf("audio.channels must be 1 (mono), got: %d", c.Audio.Channels)
	}
	if c.Audio.BitsPerSample != 16 {
		return fmt.Errorf("audio.bits_per_sample must be 16, got: %d", c.Audio.BitsPerSample)
	}
	if c.Audio.BufferFrames < 0 {
		return fmt.Errorf("audio.buffer_frames must be >= 0, got: %d", c.Audio.BufferFrames)
	}

	if c.Detection.Threshold != nil && *c.Detection.Threshold < 0 {
		return fmt.Errorf("detection.threshold must be >= 0, got: %.2f", *c.Detection.Threshold)
	}

	if c.Output.Directory == "" {
		return fmt.Errorf("output.directory is required")
	}
	if c.Output.FileName == "" {
		return fmt.Errorf("output.file_name is required")
	}
	if strings.ContainsRune(c.Output.FileName, os.PathSeparator) {
		return fmt.Errorf("output.file_name must not contain a path separator, got: %s", c.Output.FileName)
	}

	if c.Session.StopTimeout <= 0 {
		return fmt.Errorf("session.stop_timeout must be > 0, got: %s", c.Session.StopTimeout)
	}

	return nil
}

// Threshold returns the detection threshold, falling back to the default
func (c *Config) Threshold() float64 {
	if c.Detection.Threshold == nil {
		return DefaultThreshold
	}
	return *c.Detection.Threshold
}

// OutputPath returns the recording path for name, or the configured file
// name when name is empty
func (c *Config) OutputPath(name string) string {
	if name == "" {
		return filepath.Join(c.Output.Directory, c.Output.FileName)
	}
	return filepath.Join(c.Output.Directory, CleanFileName(name)+filepath.Ext(c.Output.FileName))
}

// CleanFileName sanitizes a recording name.
// Allows: letters, numbers, spaces, hyphens, underscores
func CleanFileName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
