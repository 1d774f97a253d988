package audio

import (
	"errors"
	"os/exec"
	"strings"
	"testing"
)

func fakePipeWire(output string, err error) *PipeWire {
	return &PipeWire{run: func(string, ...string) ([]byte, error) {
		return []byte(output), err
	}}
}

func TestListPorts(t *testing.T) {
	pw := fakePipeWire("alsa_input.usb-mic:capture_MONO\n\n  Chrome:output_FL  \nOutput ports:\n", nil)

	ports, err := pw.ListPorts()
	if err != nil {
		t.Fatalf("ListPorts failed: %v", err)
	}
	if len(ports) != 2 || ports[0] != "alsa_input.usb-mic:capture_MONO" || ports[1] != "Chrome:output_FL" {
		t.Errorf("Unexpected ports: %v", ports)
	}
}

func TestValidatePort_Success(t *testing.T) {
	pw := fakePipeWire("Chrome:output_FL\nsystem:capture_1\n", nil)

	if err := pw.ValidatePort("system:capture_1"); err != nil {
		t.Errorf("Expected no error for valid single port, got: %v", err)
	}
}

func TestValidatePort_NotFound(t *testing.T) {
	pw := fakePipeWire("Chrome:output_FL\n", nil)

	err := pw.ValidatePort("nonexistent:port")
	if err == nil || !strings.Contains(err.Error(), "port not found") {
		t.Errorf("Expected 'port not found' error, got: %v", err)
	}
}

func TestValidatePort_DuplicateDetection(t *testing.T) {
	pw := fakePipeWire("Chrome:output_FL\nChrome:output_FL\n", nil)

	err := pw.ValidatePort("Chrome:output_FL")
	if err == nil || !strings.Contains(err.Error(), "duplicate sources detected") {
		t.Errorf("Expected duplicate error, got: %v", err)
	}
}

func TestValidatePort_Empty(t *testing.T) {
	pw := fakePipeWire("", errors.New("pw-link not installed"))

	if err := pw.ValidatePort(""); err != nil {
		t.Errorf("Expected empty port to mean the default source, got: %v", err)
	}
}

func TestPipeWireSource_Args(t *testing.T) {
	src := NewPipeWireSource("usb-mic", 0)
	args := strings.Join(src.args(DefaultFormat()), " ")

	want := "--format s16 --rate 44100 --channels 1 --latency 1024/44100 --target usb-mic -"
	if args != want {
		t.Errorf("Expected args %q, got %q", want, args)
	}
}

func TestPipeWireSource_MissingTarget(t *testing.T) {
	src := NewPipeWireSource("usb-mic", 0)
	src.pw = fakePipeWire("Chrome:output_FL\n", nil)

	if _, err := src.Open(DefaultFormat()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestPipeWireSource_MissingCommand(t *testing.T) {
	src := NewPipeWireSource("", 0)
	src.command = "soundsentry-no-such-command"

	if _, err := src.Open(DefaultFormat()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestPipeWireSource_FailedExitIsReadError(t *testing.T) {
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("false not available")
	}

	// false ignores its arguments and exits with status 1 without output
	src := NewPipeWireSource("", 0)
	src.command = "false"

	stream, err := src.Open(DefaultFormat())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer stream.Close()

	buf := make([]byte, stream.BufferSize()*2)
	_, err = stream.ReadChunk(buf)
	if err == nil || errors.Is(err, ErrSourceClosed) {
		t.Fatalf("Expected a read error for a failed exit, got %v", err)
	}
	if !strings.Contains(err.Error(), "pw-record exited") {
		t.Errorf("Expected exit error, got %v", err)
	}
}

func TestPipeWireSource_CleanExitEndsInput(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true not available")
	}

	src := NewPipeWireSource("", 0)
	src.command = "true"

	stream, err := src.Open(DefaultFormat())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	buf := make([]byte, stream.BufferSize()*2)
	if _, err := stream.ReadChunk(buf); !errors.Is(err, ErrSourceClosed) {
		t.Errorf("Expected ErrSourceClosed, got %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Errorf("Expected clean close, got %v", err)
	}
}
