package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [name]",
	Short: "Execute pipeline steps on a recording",
	Long: `Execute the steps given with --steps on the recording called name, in order:
r records until Ctrl+C or the end of the input, a analyzes the recording,
e exports it to WAV next to the PCM file and p plays it.
Without --steps the recording is only made.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var name string
		if len(args) == 1 {
			name = args[0]
		}

		pipelineSteps := []rune(strings.ToLower(steps))
		if len(pipelineSteps) == 0 {
			pipelineSteps = []rune{'r'}
		}

		return runSteps(cmd.Context(), name, pipelineSteps, cmd.OutOrStdout())
	},
}
