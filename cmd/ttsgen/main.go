// Command ttsgen renders fixed lines to WAV files for playback on the
// device: a single line, a JSON file of answers, or lines typed in
// interactively.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chytonpide/chipi/internal/app"
	"github.com/chytonpide/chipi/internal/config"
	"github.com/chytonpide/chipi/internal/resilience"
	"github.com/chytonpide/chipi/internal/ttsgen"
)

// defaultDocument selects SuperTone when no config file is given.
const defaultDocument = "providers:\n  tts:\n    name: supertone\n"

var (
	configPath  string
	outputDir   string
	voiceID     string
	concurrency int
	verbose     bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ttsgen",
		Short: "Render lines to WAV files with the configured TTS provider",
		Long: `ttsgen renders lines to WAV files for playback on the device.

Lines containing a sad keyword are rendered with the sad profile
(style "sad", pitch -10); everything else uses the neutral profile.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML config providing the tts provider (default: supertone from the environment)")
	pf.StringVarP(&outputDir, "output", "o", "audio", "output directory")
	pf.StringVar(&voiceID, "voice", "", "voice id, overrides the config")
	pf.IntVar(&concurrency, "concurrency", 4, "parallel synthesis calls for the file command")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newTextCmd(), newFileCmd(), newInteractiveCmd())
	return root
}

func newTextCmd() *cobra.Command {
	var filename string
	cmd := &cobra.Command{
		Use:   "text [text]",
		Short: "Render a single line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, err := newGenerator()
			if err != nil {
				return err
			}
			path, err := gen.Generate(cmd.Context(), args[0], filename)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&filename, "filename", "", "file name (default: derived from the text)")
	return cmd
}

func newFileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "file [answers.json]",
		Short: "Render every answer in a JSON file as a_01.wav, a_02.wav, ...",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			answers, err := ttsgen.LoadAnswersFile(args[0])
			if err != nil {
				return err
			}
			gen, err := newGenerator()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d answers, writing to %s\n", len(answers), gen.OutputDir())
			paths, err := gen.GenerateAll(cmd.Context(), answers)
			fmt.Fprintf(cmd.OutOrStdout(), "generated %d of %d files\n", len(paths), len(answers))
			return err
		},
	}
}

func newInteractiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interactive",
		Short: "Render lines typed on stdin until quit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, err := newGenerator()
			if err != nil {
				return err
			}
			return gen.Interactive(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// newGenerator builds the tts chain from the config and wraps it in a
// Generator.
func newGenerator() (*ttsgen.Generator, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	reg := config.NewRegistry()
	app.RegisterBuiltins(reg)

	primary, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, err
	}
	chain := resilience.NewTTSFallback(cfg.Providers.TTS.Name, primary, resilience.BreakerConfig{})
	for _, e := range cfg.Providers.TTSFallbacks {
		p, err := reg.CreateTTS(e)
		if err != nil {
			return nil, err
		}
		chain.AddFallback(e.Name, p)
	}

	voice := voiceID
	if voice == "" {
		voice = cfg.Voice.VoiceID
	}
	return ttsgen.New(chain,
		ttsgen.WithOutputDir(outputDir),
		ttsgen.WithVoiceID(voice),
		ttsgen.WithConcurrency(concurrency),
	), nil
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath, config.WithProviders("tts"))
	}
	return config.LoadFromReader(strings.NewReader(defaultDocument),
		config.WithEnv(os.LookupEnv),
		config.WithProviders("tts"),
	)
}
