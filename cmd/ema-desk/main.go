package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	orchestration "github.com/koscakluka/ema-desk/core"
	"github.com/koscakluka/ema-desk/core/audio/miniaudio"
	"github.com/koscakluka/ema-desk/core/audio/portaudio"
	"github.com/koscakluka/ema-desk/core/config"
	"github.com/koscakluka/ema-desk/core/llms/ollama"
	"github.com/koscakluka/ema-desk/core/memory"
	stt "github.com/koscakluka/ema-desk/core/speechtotext/deepgram"
	"github.com/koscakluka/ema-desk/core/texttospeech"
	tts "github.com/koscakluka/ema-desk/core/texttospeech/deepgram"
	"github.com/koscakluka/ema-desk/core/tools"
	"github.com/koscakluka/ema-desk/core/tools/builtin"
	"github.com/koscakluka/ema-desk/core/tools/keyboard"
)

var version = "dev"

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFCC00"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var (
		configPath string
		textOnly   bool
		noTools    bool
	)

	rootCmd := &cobra.Command{
		Use:   "ema-desk",
		Short: "Local voice assistant for the desktop",
		Long: `ema-desk listens to the microphone, answers through a local model and
can type what you say into the focused window.

Say "start typing mode" to dictate and "stop typing mode" to get back to
conversation. "stop" or "cancel" interrupts a reply, "quit" ends the session.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if textOnly {
				v.Set("speech_input_enabled", false)
				v.Set("speech_output_enabled", false)
			}
			if noTools {
				v.Set("tools_enabled", false)
			}
			cfg, err := config.Load(configPath, v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to the YAML configuration file")
	flags.BoolVar(&textOnly, "text-only", false, "disable microphone and speaker, typed input only")
	flags.BoolVar(&noTools, "no-tools", false, "do not offer tools to the model")
	flags.String("model", "", "model name served by the LLM endpoint")
	_ = v.BindPFlag("llm.model", flags.Lookup("model"))

	return rootCmd
}

func run(ctx context.Context, cfg *config.Config) error {
	var notices []string

	store, err := memory.Open(memory.Backend(cfg.Memory.Backend), cfg.Memory.Path, cfg.Memory.MaxHistory)
	if err != nil {
		return fmt.Errorf("failed to open memory: %w", err)
	}
	defer store.Close()

	registry, registryNotices, err := buildRegistry(cfg, store)
	if err != nil {
		return err
	}
	notices = append(notices, registryNotices...)

	llm := ollama.NewClient(
		ollama.WithBaseURL(cfg.LLM.BaseURL),
		ollama.WithAPIKey(cfg.LLM.APIKey),
		ollama.WithModel(cfg.LLM.Model),
	)

	opts := []orchestration.OrchestratorOption{
		orchestration.WithConfig(cfg),
		orchestration.WithStreamingLLM(llm),
		orchestration.WithToolRegistry(registry),
		orchestration.WithMemory(store),
	}

	if cfg.VoiceEnabled() {
		voiceOpts, closeVoice, voiceNotices := buildVoice(cfg)
		defer closeVoice()
		opts = append(opts, voiceOpts...)
		notices = append(notices, voiceNotices...)
	}

	ui := NewTUI(cfg)
	opts = append(opts, orchestration.WithEventCallback(ui.SendEvent))

	o, err := orchestration.NewOrchestrator(opts...)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	ui.Attach(o)
	for _, notice := range notices {
		ui.SendNotice(notice)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	orchestrateErr := make(chan error, 1)
	go func() {
		err := o.Orchestrate(ctx)
		// the session may end on its own, by quit word
		cancel()
		orchestrateErr <- err
	}()

	uiErr := ui.Run(ctx)
	cancel()

	select {
	case err = <-orchestrateErr:
	case <-time.After(5 * time.Second):
		err = errors.New("session did not shut down in time")
	}

	fmt.Println(titleStyle.Render("Goodbye."))
	return errors.Join(uiErr, err)
}

func buildRegistry(cfg *config.Config, store memory.Store) (*tools.Registry, []string, error) {
	var notices []string
	registry := tools.NewRegistry(tools.WithTimeout(cfg.ToolTimeout))

	kb, err := keyboard.New()
	if err != nil {
		notices = append(notices, warningStyle.Render(fmt.Sprintf("Keyboard control is unavailable: %v", err)))
	} else if err := registry.Register(keyboard.Tools(kb)...); err != nil {
		return nil, nil, fmt.Errorf("failed to register keyboard tools: %w", err)
	}

	if err := registry.Register(builtin.Memory(store)...); err != nil {
		return nil, nil, fmt.Errorf("failed to register memory tools: %w", err)
	}
	if err := registry.Register(builtin.TimeDate(time.Now)); err != nil {
		return nil, nil, fmt.Errorf("failed to register time tool: %w", err)
	}
	if err := registry.Register(builtin.Web(
		builtin.WithWeatherURL(cfg.Tools.WeatherURL),
		builtin.WithLocationURL(cfg.Tools.LocationURL),
	)...); err != nil {
		return nil, nil, fmt.Errorf("failed to register web tools: %w", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		notices = append(notices, warningStyle.Render("No home folder, files can only be opened by full path."))
	}
	if err := registry.Register(builtin.Desktop(builtin.SystemOpener, home)...); err != nil {
		return nil, nil, fmt.Errorf("failed to register desktop tools: %w", err)
	}

	if cfg.Tools.Manifest != "" {
		manifest, err := tools.LoadManifest(cfg.Tools.Manifest)
		if err != nil {
			return nil, nil, err
		}
		// manifest entries may expose any registered tool under another
		// name and description
		targets := map[string]tools.Handler{}
		for _, name := range registry.Names() {
			if tool, ok := registry.Get(name); ok {
				targets[name] = tool.Handler
			}
		}
		if err := registry.RegisterManifest(manifest, targets); err != nil {
			return nil, nil, err
		}
	}

	return registry, notices, nil
}

// buildVoice opens the audio devices and speech clients. Whatever cannot be
// opened is left out and reported, the session then runs with less voice.
func buildVoice(cfg *config.Config) ([]orchestration.OrchestratorOption, func(), []string) {
	var (
		opts    []orchestration.OrchestratorOption
		closers []func()
		notices []string
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Deepgram.APIKey == "" {
		return nil, closeAll, []string{warningStyle.Render("No Deepgram API key, voice is disabled.")}
	}

	device, err := miniaudio.NewClient(cfg.Audio.SampleRate)
	if err != nil {
		return nil, closeAll, []string{warningStyle.Render(fmt.Sprintf("Audio devices are unavailable: %v", err))}
	}
	closers = append(closers, device.Close)
	opts = append(opts, orchestration.WithAudioOutput(device))

	if cfg.SpeechInputEnabled {
		var input orchestration.AudioInput = device
		if cfg.Audio.Backend == "portaudio" {
			capture, err := portaudio.NewClient(cfg.Audio.SampleRate, portaudio.DefaultBufferSize)
			if err != nil {
				notices = append(notices, warningStyle.Render(fmt.Sprintf("PortAudio capture failed, using miniaudio: %v", err)))
			} else {
				closers = append(closers, capture.Close)
				input = capture
			}
		}
		opts = append(opts,
			orchestration.WithAudioInput(input),
			orchestration.WithRecognizer(stt.NewTranscriptionClient(cfg.Deepgram.APIKey, stt.WithModel(cfg.Deepgram.STTModel))),
		)
	}

	if cfg.SpeechOutputEnabled {
		synthesizer, err := tts.NewTextToSpeechClient(cfg.Deepgram.APIKey, tts.Voice(cfg.Deepgram.TTSVoice),
			tts.WithSynthesisOptions(texttospeech.WithEncodingInfo(device.EncodingInfo())),
		)
		if err != nil {
			notices = append(notices, warningStyle.Render(fmt.Sprintf("Speech output is unavailable: %v", err)))
		} else {
			closers = append(closers, func() { _ = synthesizer.Close() })
			opts = append(opts, orchestration.WithSynthesizer(synthesizer))
		}
	}

	return opts, closeAll, notices
}
