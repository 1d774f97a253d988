package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/audiolibrelab/soundsentry/internal/audio"

	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export [in.pcm] [out.wav]",
	Short: "Convert a raw recording to WAV",
	Long: `Wrap a raw PCM recording in an uncompressed WAV container so that any player can open it.
The input defaults to the configured output file and the WAV file is written next to it.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cfg.OutputPath("")
		if len(args) >= 1 {
			in = args[0]
		}
		out := wavPath(in)
		if len(args) == 2 {
			out = args[1]
		}

		return exportRecording(in, out, cmd.OutOrStdout())
	},
}

func exportRecording(in, out string, w io.Writer) error {
	format := audio.FormatFromConfig(cfg)
	slog.Debug("Exporting recording", "input", in, "output", out, "sample_rate", format.SampleRate)

	samples, err := audio.ExportWAVFile(in, out, format)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	fmt.Fprintf(w, "Exported %d samples to %s\n", samples, out)
	return nil
}
