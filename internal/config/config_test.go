package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "soundsentry.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write temporary config file: %v", err)
	}
	return path
}

func floatPtr(v float64) *float64 { return &v }

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "")
	if err != nil {
		t.Fatalf("Expected defaults, got error: %v", err)
	}

	if cfg.Audio.SampleRate != 44100 || cfg.Audio.Channels != 1 || cfg.Audio.BitsPerSample != 16 {
		t.Errorf("Unexpected default audio format: %+v", cfg.Audio)
	}
	if cfg.Threshold() != 100 {
		t.Errorf("Expected default threshold 100, got %f", cfg.Threshold())
	}
	if cfg.Output.FileName != "recording.pcm" {
		t.Errorf("Expected default file name 'recording.pcm', got '%s'", cfg.Output.FileName)
	}
	if cfg.Session.StopTimeout != 2*time.Second {
		t.Errorf("Expected default stop timeout 2s, got %s", cfg.Session.StopTimeout)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	if _, err := Load("", ""); err == nil {
		t.Error("Expected error for empty config path")
	}
}

func TestLoad_ProfileInheritsDefault(t *testing.T) {
	configFile := createTempConfig(t, `
active_config: quiet_room
configs:
  default:
    audio:
      backend: portaudio
      sample_rate: 48000
    output:
      directory: /recordings
  quiet_room:
    detection:
      threshold: 40
    session:
      stop_timeout: 500ms
`)

	cfg, err := Load(configFile, "")
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.Profile != "quiet_room" {
		t.Errorf("Expected active profile 'quiet_room', got '%s'", cfg.Profile)
	}
	if cfg.Audio.SampleRate != 48000 || cfg.Audio.Backend != "portaudio" {
		t.Errorf("Expected audio settings inherited from default, got %+v", cfg.Audio)
	}
	if cfg.Threshold() != 40 {
		t.Errorf("Expected threshold 40, got %f", cfg.Threshold())
	}
	if cfg.Session.StopTimeout != 500*time.Millisecond {
		t.Errorf("Expected stop timeout 500ms, got %s", cfg.Session.StopTimeout)
	}
	if cfg.Output.Directory != "/recordings" {
		t.Errorf("Expected directory '/recordings', got '%s'", cfg.Output.Directory)
	}

	if cfg.Inheritance.Audio.SampleRate != "inherited" {
		t.Errorf("Expected sample rate to be inherited, got %s", cfg.Inheritance.Audio.SampleRate)
	}
	if cfg.Inheritance.Detection.Threshold != "profile-specific" {
		t.Errorf("Expected threshold to be profile-specific, got %s", cfg.Inheritance.Detection.Threshold)
	}
}

func TestLoad_ExplicitProfileOverridesActive(t *testing.T) {
	configFile := createTempConfig(t, `
active_config: default
configs:
  default:
    output:
      directory: /recordings
  replay:
    audio:
      backend: file
      device: /tmp/input.pcm
`)

	cfg, err := Load(configFile, "replay")
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Audio.Backend != "file" || cfg.Audio.Device != "/tmp/input.pcm" {
		t.Errorf("Expected file backend from 'replay', got %+v", cfg.Audio)
	}
}

func TestLoad_UnknownProfile(t *testing.T) {
	configFile := createTempConfig(t, `
configs:
  default:
    output:
      directory: /recordings
`)

	_, err := Load(configFile, "studio")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("Expected 'not found' error, got: %v", err)
	}
}

func TestLoad_ExplicitZeroThreshold(t *testing.T) {
	configFile := createTempConfig(t, `
configs:
  default:
    detection:
      threshold: 0
`)

	cfg, err := Load(configFile, "")
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Threshold() != 0 {
		t.Errorf("Expected explicit threshold 0, got %f", cfg.Threshold())
	}
}

func TestGlobalsRecordingsDirectory(t *testing.T) {
	configFile := createTempConfig(t, `
active_config: test
globals:
  output:
    recordings_directory: /global/recordings
configs:
  test:
    output:
      directory: /profile/recordings
      file_name: take.pcm
`)

	cfg, err := Load(configFile, "test")
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}

	// Verify that global recordings directory overrides profile directory
	if cfg.Output.Directory != "/global/recordings" {
		t.Errorf("Expected directory '/global/recordings' from globals, got '%s'", cfg.Output.Directory)
	}
	// Verify other output settings still come from profile
	if cfg.Output.FileName != "take.pcm" {
		t.Errorf("Expected file name 'take.pcm' from profile, got '%s'", cfg.Output.FileName)
	}
}

func TestMergeConfigs_EmptyProfile(t *testing.T) {
	base := Default()
	base.Audio.Device = "USB Microphone"

	result := mergeConfigs(base, &Config{})

	if result.Audio.Device != "USB Microphone" {
		t.Errorf("Expected device to be inherited, got '%s'", result.Audio.Device)
	}
	if result.Threshold() != DefaultThreshold {
		t.Errorf("Expected threshold to be inherited, got %f", result.Threshold())
	}
	if result.Inheritance.Audio.Device != "inherited" {
		t.Errorf("Expected device inheritance 'inherited', got %s", result.Inheritance.Audio.Device)
	}
}

func TestMergeConfigs_ThresholdIsCopied(t *testing.T) {
	profile := &Config{Detection: DetectionConfig{Threshold: floatPtr(250)}}
	result := mergeConfigs(Default(), profile)

	*profile.Detection.Threshold = 1
	if result.Threshold() != 250 {
		t.Errorf("Expected merged threshold to be independent of the profile, got %f", result.Threshold())
	}
}

func TestUpdateActiveConfig(t *testing.T) {
	configFile := createTempConfig(t, `
active_config: default
configs:
  default:
    output:
      directory: /recordings
  studio:
    detection:
      threshold: 300
`)

	if err := UpdateActiveConfig(configFile, "studio"); err != nil {
		t.Fatalf("UpdateActiveConfig failed: %v", err)
	}

	cfg, err := Load(configFile, "")
	if err != nil {
		t.Fatalf("Failed to reload configuration: %v", err)
	}
	if cfg.Profile != "studio" || cfg.Threshold() != 300 {
		t.Errorf("Expected active profile 'studio' with threshold 300, got '%s' with %f", cfg.Profile, cfg.Threshold())
	}

	if err := UpdateActiveConfig(configFile, "missing"); err == nil {
		t.Error("Expected error for unknown profile")
	}
}

func TestProfileNames(t *testing.T) {
	configFile := createTempConfig(t, `
configs:
  studio:
    detection:
      threshold: 300
  default:
    output:
      directory: /recordings
`)

	names, err := ProfileNames(configFile)
	if err != nil {
		t.Fatalf("ProfileNames failed: %v", err)
	}
	if len(names) != 2 || names[0] != "default" || names[1] != "studio" {
		t.Errorf("Expected [default studio], got %v", names)
	}
}

func TestOutputPath(t *testing.T) {
	cfg := Default()
	cfg.Output.Directory = "/recordings"

	if got := cfg.OutputPath(""); got != "/recordings/recording.pcm" {
		t.Errorf("Expected configured file name, got %s", got)
	}
	if got := cfg.OutputPath("Morning take #1"); got != "/recordings/Morning_take_1.pcm" {
		t.Errorf("Expected sanitized name, got %s", got)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := expandPath("~/Audio"); got != filepath.Join(home, "Audio") {
		t.Errorf("Expected home expansion, got %s", got)
	}
	if got := expandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("Expected absolute path unchanged, got %s", got)
	}
}
