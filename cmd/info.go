package cmd

import (
	"fmt"
	"io"

	"github.com/audiolibrelab/soundsentry/internal/audio"
	"github.com/audiolibrelab/soundsentry/internal/config"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info [name]",
	Short: "Show resolved configuration and output path",
	Long:  `Display the resolved configuration with inheritance indicators, the available backends and the output path for the given recording name. Shows which values are inherited from default vs profile-specific.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var name string
		if len(args) == 1 {
			name = args[0]
		}
		printInfo(cmd.OutOrStdout(), cfg, name)
		return nil
	},
}

func printInfo(out io.Writer, c *config.Config, name string) {
	inh := c.Inheritance
	if inh == nil {
		inh = &config.InheritanceInfo{}
	}

	pcmPath := c.OutputPath(name)

	// Display file paths
	fmt.Fprintf(out, "=== FILE PATHS ===\n")
	fmt.Fprintf(out, "output_pcm: %s\n", pcmPath)
	fmt.Fprintf(out, "output_wav: %s\n", wavPath(pcmPath))
	fmt.Fprintf(out, "profile: %s\n", c.Profile)

	fmt.Fprintf(out, "\n=== RESOLVED CONFIGURATION ===\n")

	fmt.Fprintf(out, "\n[Audio]\n")
	fmt.Fprintf(out, "backend: %s %s\n", c.Audio.Backend, getInheritanceIndicator(inh.Audio.Backend))
	fmt.Fprintf(out, "device: %s %s\n", c.Audio.Device, getInheritanceIndicator(inh.Audio.Device))
	fmt.Fprintf(out, "sample_rate: %d %s\n", c.Audio.SampleRate, getInheritanceIndicator(inh.Audio.SampleRate))
	fmt.Fprintf(out, "buffer_frames: %d %s\n", c.Audio.BufferFrames, getInheritanceIndicator(inh.Audio.Buffer))
	fmt.Fprintf(out, "format: %d-bit, %d channel(s)\n", c.Audio.BitsPerSample, c.Audio.Channels)

	fmt.Fprintf(out, "\n[Detection]\n")
	fmt.Fprintf(out, "threshold: %.1f %s\n", c.Threshold(), getInheritanceIndicator(inh.Detection.Threshold))

	fmt.Fprintf(out, "\n[Output]\n")
	fmt.Fprintf(out, "directory: %s %s\n", c.Output.Directory, getInheritanceIndicator(inh.Output.Directory))
	fmt.Fprintf(out, "file_name: %s %s\n", c.Output.FileName, getInheritanceIndicator(inh.Output.FileName))

	fmt.Fprintf(out, "\n[Session]\n")
	fmt.Fprintf(out, "stop_timeout: %s %s\n", c.Session.StopTimeout, getInheritanceIndicator(inh.Session.StopTimeout))

	fmt.Fprintf(out, "\n[Backends]\n")
	for _, backend := range audio.GetAvailableBackends() {
		fmt.Fprintf(out, "- %s\n", backend)
	}
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	default:
		return "[default]"
	}
}
