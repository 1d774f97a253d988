package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/audiolibrelab/soundsentry/internal/config"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	cfg          *config.Config
	cfgFile      string
	steps        string
	profile      string
	logFile      string
	verboseLevel int

	logWriter io.WriteCloser
)

var rootCmd = &cobra.Command{
	Use:   "soundsentry [name]",
	Short: "Microphone recorder with sound detection",
	Long: `SoundSentry records the microphone to a raw PCM file and reports, chunk by
chunk, whether the input is above the loudness threshold.

When a name is provided, it acts as 'soundsentry run [name]'.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel, nil)

		// Use default config path if not specified
		if cfgFile == "" {
			cfgFile = os.ExpandEnv("$HOME/.config/soundsentry.yaml")
		}

		var err error
		cfg, err = config.Load(cfgFile, profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if logFile != "" {
			cfg.Logging.File = logFile
		}
		if cfg.Logging.File != "" {
			logWriter = newLogWriter(cfg.Logging)
			setupLogging(verboseLevel, logWriter)
			slog.Debug("Logging to file", "path", cfg.Logging.File)
		}

		return validateSteps(steps)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logWriter != nil {
			return logWriter.Close()
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// If a name is provided, delegate to run command
		if len(args) == 1 {
			return runCmd.RunE(cmd, args)
		}
		return cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/soundsentry.yaml)")
	rootCmd.PersistentFlags().StringVarP(&steps, "steps", "s", "", "pipeline steps: r=record, a=analyze, e=export, p=play (e.g., 'rap', 'ep')")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file, rotated by size")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 3=max tracing")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(serveCmd)
}

// setupLogging configures slog based on the verbose level. When file is not
// nil, records are written to it as well as to stderr.
func setupLogging(level int, file io.Writer) {
	var slogLevel slog.Level
	switch level {
	case 0:
		slogLevel = slog.LevelInfo
	case 1, 2, 3:
		slogLevel = slog.LevelDebug
	default:
		slogLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if file != nil {
		out = io.MultiWriter(os.Stderr, file)
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(handler))

	// Level 3 also turns on PipeWire client tracing for pw-record
	if level >= 3 {
		os.Setenv("PIPEWIRE_DEBUG", "3")
	}
}

// newLogWriter returns a size-rotated log file
func newLogWriter(lc config.LoggingConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   lc.File,
		MaxSize:    lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAge:     lc.MaxAgeDays,
	}
}
