package audio

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/audiolibrelab/soundsentry/internal/config"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypeAuto      BackendType = "auto"
	BackendTypePortAudio BackendType = "portaudio"
	BackendTypeMalgo     BackendType = "malgo"
	BackendTypePipeWire  BackendType = "pipewire"
	BackendTypeFile      BackendType = "file"
)

// NewSource creates the capture source selected by the configuration
func NewSource(cfg *config.Config) (Source, error) {
	backendType := determineBackend(cfg)
	slog.Debug("Selected audio backend", "backend", backendType, "device", cfg.Audio.Device)

	switch backendType {
	case BackendTypePortAudio:
		return NewPortAudioSource(cfg.Audio.Device, cfg.Audio.BufferFrames), nil
	case BackendTypeMalgo:
		return NewMalgoSource(cfg.Audio.BufferFrames), nil
	case BackendTypePipeWire:
		return NewPipeWireSource(cfg.Audio.Device, cfg.Audio.BufferFrames), nil
	case BackendTypeFile:
		if cfg.Audio.Device == "" {
			return nil, fmt.Errorf("%w: file backend needs audio.device set to a PCM file", ErrDeviceUnavailable)
		}
		return NewFileSource(cfg.Audio.Device, cfg.Audio.BufferFrames, cfg.Audio.Realtime), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrDeviceUnavailable, cfg.Audio.Backend)
	}
}

// FormatFromConfig returns the capture format described by the configuration
func FormatFromConfig(cfg *config.Config) Format {
	return Format{
		SampleRate:    cfg.Audio.SampleRate,
		Channels:      cfg.Audio.Channels,
		BitsPerSample: cfg.Audio.BitsPerSample,
	}
}

// determineBackend determines which backend to use based on configuration
func determineBackend(cfg *config.Config) BackendType {
	switch strings.ToLower(cfg.Audio.Backend) {
	case "", "auto":
		return BackendTypePortAudio
	default:
		return BackendType(strings.ToLower(cfg.Audio.Backend))
	}
}

// GetAvailableBackends returns list of available backends on current system
func GetAvailableBackends() []BackendType {
	backends := []BackendType{BackendTypePortAudio, BackendTypeMalgo}
	if PipeWireAvailable() {
		backends = append(backends, BackendTypePipeWire)
	}
	return append(backends, BackendTypeFile)
}

// ListDevices returns the capture devices of the given backend
func ListDevices(backend BackendType) ([]DeviceInfo, error) {
	switch backend {
	case BackendTypeAuto, BackendTypePortAudio:
		return ListPortAudioDevices()
	case BackendTypePipeWire:
		ports, err := NewPipeWire().ListPorts()
		if err != nil {
			return nil, err
		}
		devices := make([]DeviceInfo, 0, len(ports))
		for _, port := range ports {
			devices = append(devices, DeviceInfo{Name: port, HostAPI: "PipeWire", MaxInputChannels: 1})
		}
		return devices, nil
	default:
		return nil, fmt.Errorf("backend %s does not support device listing", backend)
	}
}
