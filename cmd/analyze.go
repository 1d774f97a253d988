package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/audiolibrelab/soundsentry/internal/audio"
	"github.com/audiolibrelab/soundsentry/internal/config"

	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [file]",
	Short: "Replay a recording through the sound detector",
	Long: `Re-chunk a raw PCM recording with the configured buffer size, measure every chunk
and print the QUIET/ACTIVE transitions the detector would have reported while recording.
Defaults to the configured output file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.OutputPath("")
		if len(args) == 1 {
			path = args[0]
		}

		showLevels, _ := cmd.Flags().GetBool("levels")
		_, err := analyzeRecording(path, showLevels, cmd.OutOrStdout())
		return err
	},
}

func init() {
	analyzeCmd.Flags().Bool("levels", false, "print the loudness of every chunk")
}

// chunkBytes returns the size of the chunks a recording is captured in
func chunkBytes(c *config.Config) int {
	frames := c.Audio.BufferFrames
	if frames <= 0 {
		frames = audio.DefaultFileBufferFrames
	}
	return frames * audio.FormatFromConfig(c).FrameBytes()
}

func analyzeRecording(path string, showLevels bool, out io.Writer) (audio.Analysis, error) {
	size := chunkBytes(cfg)
	result, err := audio.AnalyzeFile(path, size, cfg.Threshold())
	if err != nil {
		return result, fmt.Errorf("analysis failed: %w", err)
	}

	format := audio.FormatFromConfig(cfg)
	frames := result.Bytes / int64(format.FrameBytes())
	duration := time.Duration(frames) * time.Second / time.Duration(format.SampleRate)

	fmt.Fprintf(out, "=== ANALYSIS ===\n")
	fmt.Fprintf(out, "file: %s\n", path)
	fmt.Fprintf(out, "size: %d bytes (%s)\n", result.Bytes, duration.Round(time.Millisecond))
	fmt.Fprintf(out, "chunks: %d of %d bytes\n", len(result.Levels), size)
	fmt.Fprintf(out, "threshold: %.1f\n", cfg.Threshold())

	if showLevels {
		fmt.Fprintf(out, "\n[Levels]\n")
		for i, level := range result.Levels {
			fmt.Fprintf(out, "%6d  %.1f\n", i, level)
		}
	}

	fmt.Fprintf(out, "\n[Events]\n")
	for _, ev := range result.Events {
		fmt.Fprintf(out, "- %s\n", ev)
	}

	fmt.Fprintf(out, "\n[Summary]\n")
	fmt.Fprintf(out, "transitions: %d\n", len(result.Transitions()))
	if result.EverDetected {
		fmt.Fprintln(out, "Sound detected during recording")
	} else {
		fmt.Fprintln(out, "No significant sound detected during recording")
	}

	return result, nil
}
