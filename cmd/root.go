package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"disclosure_report_drafter/config"
	"disclosure_report_drafter/extract"
	"disclosure_report_drafter/generator"
)

var (
	verbose    bool
	configPath string
	logger     = zap.NewNop()
	version    = "dev"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "drafter",
	Short: "Draft sustainability disclosure reports with an LLM",
	Long: `drafter turns company material (text, PDFs, images, office files, links)
into a Markdown disclosure report aligned with the chosen reporting standards,
then lets you refine it through a conversation with the model.

Quick Start:
  drafter generate --standard "GRI 305-1" --company 示例股份 --text-file notes.md --chat
  drafter serve --addr :8080`,
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		l, err := zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logs")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.json", "path to config.json")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// buildAgent loads the config and wires the provider, retrier and extractor.
func buildAgent(ctx context.Context) (*generator.Agent, config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, config.Config{}, err
	}
	llm, err := buildLLM(ctx, cfg)
	if err != nil {
		return nil, config.Config{}, err
	}
	agent, err := generator.NewAgent(llm,
		generator.WithLogger(logger),
		generator.WithRetryPolicy(generator.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay(),
		}),
		generator.WithExtractor(extract.Default{MaxBytes: int(cfg.Limits.MaxUploadBytes)}),
	)
	if err != nil {
		return nil, config.Config{}, err
	}
	logger.Info("llm.ready", zap.String("provider", cfg.LLM.Provider), zap.String("model", cfg.LLM.Model))
	return agent, cfg, nil
}

func buildLLM(ctx context.Context, cfg config.Config) (generator.LLMClient, error) {
	settings := &generator.LLMSettings{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
	}
	switch cfg.LLM.Provider {
	case "gemini":
		return generator.NewGenAILLMFromConfig(ctx, settings)
	case "openai", "deepseek":
		// DeepSeek 提供 OpenAI 兼容接口，base_url 已在配置校验中要求填写。
		o, err := generator.NewOpenAILLMFromConfig(settings)
		if err != nil {
			return nil, err
		}
		o.Logger = logger
		return o, nil
	case "mock":
		return generator.MockLLM{}, nil
	default:
		return nil, fmt.Errorf("llm provider %s not supported", cfg.LLM.Provider)
	}
}
