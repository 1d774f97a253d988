package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"pipewire backend", func(c *Config) { c.Audio.Backend = "pipewire" }, ""},
		{"unknown backend", func(c *Config) { c.Audio.Backend = "jack" }, "audio.backend"},
		{"file backend without device", func(c *Config) { c.Audio.Backend = "file" }, "audio.device"},
		{"file backend with device", func(c *Config) { c.Audio.Backend = "file"; c.Audio.Device = "/tmp/in.pcm" }, ""},
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }, "audio.sample_rate"},
		{"stereo", func(c *Config) { c.Audio.Channels = 2 }, "audio.channels"},
		{"8-bit", func(c *Config) { c.Audio.BitsPerSample = 8 }, "audio.bits_per_sample"},
		{"negative buffer", func(c *Config) { c.Audio.BufferFrames = -1 }, "audio.buffer_frames"},
		{"negative threshold", func(c *Config) { c.Detection.Threshold = floatPtr(-1) }, "detection.threshold"},
		{"zero threshold", func(c *Config) { c.Detection.Threshold = floatPtr(0) }, ""},
		{"no directory", func(c *Config) { c.Output.Directory = "" }, "output.directory"},
		{"file name with separator", func(c *Config) { c.Output.FileName = "a/b.pcm" }, "output.file_name"},
		{"zero stop timeout", func(c *Config) { c.Session.StopTimeout = 0 }, "session.stop_timeout"},
		{"short stop timeout", func(c *Config) { c.Session.StopTimeout = time.Millisecond }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateConfigurationFormat_EmptyConfigs(t *testing.T) {
	configFile := createTempConfig(t, "active_config: default\n")

	_, err := ValidateConfigurationFormat(configFile)
	if err == nil || !strings.Contains(err.Error(), "configs section is required") {
		t.Errorf("Expected missing configs error, got: %v", err)
	}
}

func TestValidateConfigurationFormat_InvalidYAML(t *testing.T) {
	configFile := createTempConfig(t, "configs: [unterminated\n")

	if _, err := ValidateConfigurationFormat(configFile); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}

func TestLoad_RejectsInvalidProfile(t *testing.T) {
	configFile := createTempConfig(t, `
configs:
  default:
    audio:
      channels: 2
`)

	_, err := Load(configFile, "")
	if err == nil || !strings.Contains(err.Error(), "audio.channels") {
		t.Errorf("Expected channel validation error, got: %v", err)
	}
}
