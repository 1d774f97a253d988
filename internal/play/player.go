package play

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/audiolibrelab/soundsentry/internal/audio"
)

// Player plays headerless PCM recordings through an external player
type Player struct {
	format   audio.Format
	lookPath func(string) (string, error)
	run      func(name string, args ...string) error
}

func New(format audio.Format) *Player {
	return &Player{
		format:   format,
		lookPath: exec.LookPath,
		run: func(name string, args ...string) error {
			cmd := exec.Command(name, args...)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			return cmd.Run()
		},
	}
}

func (p *Player) Play(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("audio file not found: %s", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("audio file is empty: %s", path)
	}

	player, err := p.findAudioPlayer()
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	args, err := p.args(player, path)
	if err != nil {
		return err
	}

	slog.Info("Playing recording", "file", path, "player", player)
	if err := p.run(player, args...); err != nil {
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}

	slog.Debug("Playback completed", "file", path)
	return nil
}

// args builds the command line for a raw signed 16-bit little-endian stream
func (p *Player) args(player, path string) ([]string, error) {
	rate := strconv.Itoa(p.format.SampleRate)
	channels := strconv.Itoa(p.format.Channels)

	switch player {
	case "ffplay":
		layout := "mono"
		if p.format.Channels != 1 {
			layout = channels + "c"
		}
		return []string{"-nodisp", "-autoexit", "-loglevel", "error",
			"-f", "s16le", "-ar", rate, "-ch_layout", layout, path}, nil
	case "aplay":
		return []string{"-f", "S16_LE", "-r", rate, "-c", channels, "-t", "raw", path}, nil
	default:
		return nil, fmt.Errorf("unsupported player: %s", player)
	}
}

func (p *Player) findAudioPlayer() (string, error) {
	// Only players that accept raw PCM with an explicit format
	players := []string{"ffplay", "aplay"}

	for _, player := range players {
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}
