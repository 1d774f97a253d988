package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"github.com/audiolibrelab/soundsentry/internal/audio"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available capture devices",
	Long: `List the capture devices of every available backend. Device names can be used
as audio.device in the configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Audio capture devices (%s)\n", runtime.GOOS)
		fmt.Fprintf(out, "═══════════════════════════════════════\n\n")

		for _, backend := range audio.GetAvailableBackends() {
			if backend == audio.BackendTypeFile || backend == audio.BackendTypeMalgo {
				continue
			}
			if err := listBackendDevices(out, backend); err != nil {
				slog.Warn("Could not list devices", "backend", backend, "error", err)
			}
		}

		fmt.Fprintf(out, "Usage:\n")
		fmt.Fprintf(out, "  • Set audio.backend to one of: %v\n", audio.GetAvailableBackends())
		fmt.Fprintf(out, "  • Set audio.device to a device name, or leave it empty for the default input\n")
		fmt.Fprintf(out, "  • malgo always records from the default input\n\n")
		return nil
	},
}

func listBackendDevices(out io.Writer, backend audio.BackendType) error {
	devices, err := audio.ListDevices(backend)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s (%d found):\n", backend, len(devices))
	for i, dev := range devices {
		marker := ""
		if dev.IsDefault {
			marker = " [default]"
		}
		if dev.DefaultSampleRate > 0 {
			fmt.Fprintf(out, "  %d. %s (%s, %d ch, %.0f Hz)%s\n",
				i+1, dev.Name, dev.HostAPI, dev.MaxInputChannels, dev.DefaultSampleRate, marker)
		} else {
			fmt.Fprintf(out, "  %d. %s%s\n", i+1, dev.Name, marker)
		}
	}
	fmt.Fprintln(out)
	return nil
}
