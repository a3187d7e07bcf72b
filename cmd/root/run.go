package root

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Jakedismo/ouroboros-code-sub001/pkg/config"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/orchestrator"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/profile"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/provider"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/provider/anthropic"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/provider/openai"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/telemetry"
	"github.com/Jakedismo/ouroboros-code-sub001/pkg/tools"
)

type runFlags struct {
	specialists  []string
	providerName string
	model        string
	profilesDir  string
	legacy       bool
	approve      bool
}

func newRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run a task through the specialist team",
		Example: `  # Whole catalog, config-selected provider
  ouroboros run "profile the allocation hot path in pkg/parser"

  # Two specialists, interactive tool approval
  ouroboros run -s architect,performance-analyst --approve "design a cache layer"`,
		Args: cobra.ExactArgs(1),
		RunE: flags.runRunCommand,
	}

	cmd.Flags().StringSliceVarP(&flags.specialists, "specialists", "s", nil, "Specialist ids to engage (default: the whole catalog)")
	cmd.Flags().StringVar(&flags.providerName, "provider", "", "Generation provider (anthropic or openai)")
	cmd.Flags().StringVar(&flags.model, "model", "", "Model name override")
	cmd.Flags().StringVar(&flags.profilesDir, "profiles-dir", "", "Directory of extra specialist profiles")
	cmd.Flags().BoolVar(&flags.legacy, "legacy", false, "Use the queue-based synthesis path instead of lead delegation")
	cmd.Flags().BoolVar(&flags.approve, "approve", false, "Ask before running tools that require approval")

	return cmd
}

func (f *runFlags) runRunCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	shutdown, err := telemetry.Init(ctx, appName, otelEnabled)
	if err != nil {
		return err
	}
	// Flush spans even when the run context was cancelled.
	defer func() { _ = shutdown(context.Background()) }()

	cfg, err := f.loadConfig()
	if err != nil {
		return err
	}

	catalog, err := profile.LoadCatalog(cfg.ProfilesDir)
	if err != nil {
		return err
	}
	roster, err := catalog.Roster(f.specialists)
	if err != nil {
		return err
	}

	service, err := buildService(cfg)
	if err != nil {
		return err
	}
	registry, err := tools.NewRegistry()
	if err != nil {
		return err
	}

	opts := []orchestrator.Opt{orchestrator.WithCatalog(catalog)}
	if f.legacy {
		opts = append(opts, orchestrator.WithLegacySynthesis())
	}
	if f.approve {
		opts = append(opts, orchestrator.WithApprover(newTerminalApprover(cmd.InOrStdin(), out).approve))
	}
	if cfg.MaxTurns > 0 {
		opts = append(opts, orchestrator.WithMaxTurns(cfg.MaxTurns))
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, orchestrator.WithMaxTokens(cfg.MaxTokens))
	}

	orch, err := orchestrator.New(service, registry, opts...)
	if err != nil {
		return err
	}

	printWelcome(out)
	fmt.Fprintf(out, "%s\n", gray("%d specialists on the roster, %s via %s", len(roster), cfg.Model, cfg.Provider))

	stream := orch.Stream(ctx, args[0], roster)
	return printStream(ctx, out, stream)
}

// loadConfig applies the run command's flag overrides on top of the loaded
// config. Switching providers without naming a model re-derives the model so
// the old provider's choice does not leak across.
func (f *runFlags) loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if f.providerName != "" && f.providerName != cfg.Provider {
		cfg.Provider = f.providerName
		if f.model == "" {
			cfg.Model = config.DefaultModel(cfg.Provider)
		}
	}
	if f.model != "" {
		cfg.Model = f.model
	}
	if f.profilesDir != "" {
		cfg.ProfilesDir = f.profilesDir
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// buildService constructs the generation service the config selects. API keys
// come from the environment only.
func buildService(cfg config.Config) (provider.Service, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		svc, err := openai.New(openai.Config{
			APIKey:  cfg.APIKey(),
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		return svc, nil
	default:
		svc, err := anthropic.New(anthropic.Config{
			APIKey:  cfg.APIKey(),
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		return svc, nil
	}
}

// printStream renders progress events until the terminal one. A fallback
// terminal keeps its cause as the command error so the exit code reflects the
// failed run after the notice prints.
func printStream(ctx context.Context, out io.Writer, stream *orchestrator.Stream) error {
	p := newPrinter(out)
	var runErr error
	for {
		event, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return runErr
		}
		if err != nil {
			return err
		}
		p.print(event)
		if fb, ok := event.(*orchestrator.FallbackEvent); ok && fb.Err != nil {
			runErr = fb.Err
		}
	}
}

func printWelcome(out io.Writer) {
	fmt.Fprintf(out, "\n%s\n%s\n", blue("------- %s -------", bold(appName)), gray("(Ctrl+C to stop the run)"))
}
