package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	inherited       = "inherited"
	profileSpecific = "profile-specific"
	fromEnvironment = "environment"
)

// EnvPrefix is prepended to environment overrides, e.g. AUDIOBRIDGE_AUDIO_BACKEND.
const EnvPrefix = "AUDIOBRIDGE"

type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Audio        *AudioConfig       `mapstructure:"audio,omitempty" yaml:"audio,omitempty"`
	Output       *OutputConfig      `mapstructure:"output,omitempty" yaml:"output,omitempty"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Audio    AudioConfig    `mapstructure:"audio" yaml:"audio"`
	Transfer TransferConfig `mapstructure:"transfer" yaml:"transfer"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`

	// Where each resolved value came from, keyed by dotted field name.
	Inheritance map[string]string `mapstructure:"-" yaml:"-"`
}

type AudioConfig struct {
	Backend    string     `mapstructure:"backend" yaml:"backend"`   // "device", "tone", "auto"
	Playback   string     `mapstructure:"playback" yaml:"playback"` // "device", "simulated", "auto"
	SampleRate int        `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int        `mapstructure:"channels" yaml:"channels"`
	Source     string     `mapstructure:"source" yaml:"source"` // empty = system default
	Tone       ToneConfig `mapstructure:"tone" yaml:"tone"`
}

type ToneConfig struct {
	Frequency         float64 `mapstructure:"frequency" yaml:"frequency"`
	Permission        string  `mapstructure:"permission" yaml:"permission"` // "granted", "denied", "unavailable"
	PermissionDelayMs int     `mapstructure:"permission_delay_ms" yaml:"permission_delay_ms"`
}

type TransferConfig struct {
	IntervalMs  int `mapstructure:"interval_ms" yaml:"interval_ms"`
	StepPercent int `mapstructure:"step_percent" yaml:"step_percent"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
	Format    string `mapstructure:"format" yaml:"format"` // "wav", "flac"
}

type ServerConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			Backend:    "auto",
			Playback:   "auto",
			SampleRate: 48000,
			Channels:   1,
			Tone: ToneConfig{
				Frequency:  440,
				Permission: "granted",
			},
		},
		Transfer: TransferConfig{
			IntervalMs:  200,
			StepPercent: 5,
		},
		Output: OutputConfig{
			Directory: filepath.Join(os.Getenv("HOME"), "Audio", "AudioBridge"),
			Format:    "wav",
		},
		Server: ServerConfig{
			Port: "8080",
		},
		Inheritance: map[string]string{},
	}
}

// DefaultPath returns $HOME/.config/audiobridge.yaml.
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/audiobridge.yaml")
}

// LoadWithProfile resolves the configuration for profile (or the file's
// active_config when empty). Precedence, lowest first: built-in defaults,
// root-level audio/output sections, the "default" profile, the selected
// profile, AUDIOBRIDGE_* environment variables.
//
// A missing file is not an error when no profile was requested; the
// built-in defaults are used.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	var rootConfig *RootConfig
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if profile != "" {
			return nil, fmt.Errorf("configuration profile '%s' requested but %s does not exist", profile, configFile)
		}
		slog.Debug("Config file not found, using defaults", "path", configFile)
		rootConfig = &RootConfig{}
	} else {
		rootConfig, err = ReadRootConfig(configFile)
		if err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	result := Default()

	if rootConfig.Audio != nil {
		result = mergeConfigs(result, &Config{Audio: *rootConfig.Audio})
	}
	if rootConfig.Output != nil {
		result = mergeConfigs(result, &Config{Output: *rootConfig.Output})
	}
	// Root sections are globals, not profile values.
	for k := range result.Inheritance {
		result.Inheritance[k] = inherited
	}

	if defaultProfile, exists := rootConfig.Configs["default"]; exists && configName != "default" {
		result = mergeConfigs(result, defaultProfile)
		for k := range result.Inheritance {
			result.Inheritance[k] = inherited
		}
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists && configName != "default" {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}
	if exists {
		result = mergeConfigs(result, selectedProfile)
	}

	applyEnvOverrides(result)

	result.Output.Directory = expandPath(result.Output.Directory)

	if err := Validate(result); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return result, nil
}

// ReadRootConfig parses the configuration file without resolving profiles.
func ReadRootConfig(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	for name, profile := range rootConfig.Configs {
		if profile == nil {
			return nil, fmt.Errorf("configuration profile '%s' is empty", name)
		}
	}

	return &rootConfig, nil
}

// ProfileNames returns the profiles defined in configFile.
func ProfileNames(configFile string) ([]string, error) {
	rootConfig, err := ReadRootConfig(configFile)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rootConfig.Configs))
	for name := range rootConfig.Configs {
		names = append(names, name)
	}
	return names, nil
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

	profiles := v.GetStringMap("configs")
	if _, ok := profiles[newActiveConfig]; !ok {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// WriteStarter writes a starter file holding the built-in
// defaults as the "default" profile plus a headless "demo" profile. It
// refuses to overwrite an existing file.
func WriteStarter(configFile string) error {
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file %s already exists", configFile)
	}

	def := Default()
	def.Output.Directory = "~/Audio/AudioBridge"
	demo := &Config{
		Audio: AudioConfig{
			Backend:  "tone",
			Playback: "simulated",
		},
	}
	root := RootConfig{
		ActiveConfig: "default",
		Configs: map[string]*Config{
			"default": def,
			"demo":    demo,
		},
	}

	data, err := yaml.Marshal(root)
	if err != nil {
		return fmt.Errorf("failed to marshal starter config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// mergeConfigs overlays the non-zero fields of profile onto base and records
// which values the profile supplied.
func mergeConfigs(base, profile *Config) *Config {
	result := *base
	result.Inheritance = make(map[string]string, len(base.Inheritance))
	for k, v := range base.Inheritance {
		result.Inheritance[k] = v
	}

	if profile == nil {
		return &result
	}

	set := func(key string) { result.Inheritance[key] = profileSpecific }

	if profile.Audio.Backend != "" {
		result.Audio.Backend = profile.Audio.Backend
		set("audio.backend")
	}
	if profile.Audio.Playback != "" {
		result.Audio.Playback = profile.Audio.Playback
		set("audio.playback")
	}
	if profile.Audio.SampleRate != 0 {
		result.Audio.SampleRate = profile.Audio.SampleRate
		set("audio.sample_rate")
	}
	if profile.Audio.Channels != 0 {
		result.Audio.Channels = profile.Audio.Channels
		set("audio.channels")
	}
	if profile.Audio.Source != "" {
		result.Audio.Source = profile.Audio.Source
		set("audio.source")
	}
	if profile.Audio.Tone.Frequency != 0 {
		result.Audio.Tone.Frequency = profile.Audio.Tone.Frequency
		set("audio.tone.frequency")
	}
	if profile.Audio.Tone.Permission != "" {
		result.Audio.Tone.Permission = profile.Audio.Tone.Permission
		set("audio.tone.permission")
	}
	if profile.Audio.Tone.PermissionDelayMs != 0 {
		result.Audio.Tone.PermissionDelayMs = profile.Audio.Tone.PermissionDelayMs
		set("audio.tone.permission_delay_ms")
	}
	if profile.Transfer.IntervalMs != 0 {
		result.Transfer.IntervalMs = profile.Transfer.IntervalMs
		set("transfer.interval_ms")
	}
	if profile.Transfer.StepPercent != 0 {
		result.Transfer.StepPercent = profile.Transfer.StepPercent
		set("transfer.step_percent")
	}
	if profile.Output.Directory != "" {
		result.Output.Directory = profile.Output.Directory
		set("output.directory")
	}
	if profile.Output.Format != "" {
		result.Output.Format = profile.Output.Format
		set("output.format")
	}
	if profile.Server.Port != "" {
		result.Server.Port = profile.Server.Port
		set("server.port")
	}

	return &result
}

// applyEnvOverrides applies AUDIOBRIDGE_* variables for the keys users most
// often tweak per invocation.
func applyEnvOverrides(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
			cfg.Inheritance[key] = fromEnvironment
		}
	}
	num := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
			cfg.Inheritance[key] = fromEnvironment
		}
	}

	str("audio.backend", &cfg.Audio.Backend)
	str("audio.playback", &cfg.Audio.Playback)
	str("audio.source", &cfg.Audio.Source)
	num("audio.sample_rate", &cfg.Audio.SampleRate)
	num("audio.channels", &cfg.Audio.Channels)
	str("audio.tone.permission", &cfg.Audio.Tone.Permission)
	num("transfer.interval_ms", &cfg.Transfer.IntervalMs)
	str("output.directory", &cfg.Output.Directory)
	str("output.format", &cfg.Output.Format)
	str("server.port", &cfg.Server.Port)
}

// Validate checks every resolved value.
func Validate(cfg *Config) error {
	switch strings.ToLower(cfg.Audio.Backend) {
	case "auto", "device", "tone":
	default:
		return fmt.Errorf("audio.backend must be 'auto', 'device' or 'tone', got: %s", cfg.Audio.Backend)
	}

	switch strings.ToLower(cfg.Audio.Playback) {
	case "auto", "device", "simulated":
	default:
		return fmt.Errorf("audio.playback must be 'auto', 'device' or 'simulated', got: %s", cfg.Audio.Playback)
	}

	if cfg.Audio.SampleRate < 8000 || cfg.Audio.SampleRate > 192000 {
		return fmt.Errorf("audio.sample_rate must be between 8000 and 192000, got: %d", cfg.Audio.SampleRate)
	}

	if cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		return fmt.Errorf("audio.channels must be 1 or 2, got: %d", cfg.Audio.Channels)
	}

	switch cfg.Audio.Tone.Permission {
	case "granted", "denied", "unavailable":
	default:
		return fmt.Errorf("audio.tone.permission must be 'granted', 'denied' or 'unavailable', got: %s", cfg.Audio.Tone.Permission)
	}

	if cfg.Audio.Tone.Frequency <= 0 {
		return fmt.Errorf("audio.tone.frequency must be > 0, got: %.1f", cfg.Audio.Tone.Frequency)
	}

	if cfg.Audio.Tone.PermissionDelayMs < 0 {
		return fmt.Errorf("audio.tone.permission_delay_ms must be >= 0, got: %d", cfg.Audio.Tone.PermissionDelayMs)
	}

	if cfg.Transfer.IntervalMs <= 0 {
		return fmt.Errorf("transfer.interval_ms must be > 0, got: %d", cfg.Transfer.IntervalMs)
	}

	if cfg.Transfer.StepPercent < 1 || cfg.Transfer.StepPercent > 100 {
		return fmt.Errorf("transfer.step_percent must be between 1 and 100, got: %d", cfg.Transfer.StepPercent)
	}

	switch strings.ToLower(cfg.Output.Format) {
	case "wav", "flac":
	default:
		return fmt.Errorf("output.format must be 'wav' or 'flac', got: %s", cfg.Output.Format)
	}

	if cfg.Output.Directory == "" {
		return fmt.Errorf("output.directory is required")
	}

	port, err := strconv.Atoi(cfg.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("server.port must be a port number, got: %s", cfg.Server.Port)
	}

	return nil
}

// Source reports where the value for key came from.
func (c *Config) Source(key string) string {
	if c.Inheritance == nil {
		return "default"
	}
	if s, ok := c.Inheritance[key]; ok {
		return s
	}
	return "default"
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
