package cmd

import (
	"fmt"

	"github.com/audiolibrelab/soundsentry/internal/audio"
	"github.com/audiolibrelab/soundsentry/internal/play"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [file]",
	Short: "Play a raw recording",
	Long: `Play a raw PCM recording with ffplay or aplay, whichever is installed.
Defaults to the configured output file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.OutputPath("")
		if len(args) == 1 {
			path = args[0]
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Playing: %s\n", path)
		if err := play.New(audio.FormatFromConfig(cfg)).Play(path); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}
