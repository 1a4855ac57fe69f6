package pipeline

import (
	"fmt"

	"papersift/internal/config"
	"papersift/internal/oracle"
	"papersift/internal/oracle/anthropic"
	"papersift/internal/oracle/openai"
	"papersift/internal/services"
)

// NewOracle builds the oracle client selected by cfg.Oracle.Provider.
func NewOracle(cfg *config.Config) (oracle.Client, error) {
	prompt, err := oracle.LoadPrompt(cfg.Oracle.PromptPath)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "load prompt", "", err)
	}
	switch cfg.Oracle.Provider {
	case "openai", "azure":
		return openai.NewClient(openai.Config{
			Provider:       cfg.Oracle.Provider,
			APIKey:         cfg.Oracle.APIKey,
			BaseURL:        cfg.Oracle.BaseURL,
			APIVersion:     cfg.Oracle.APIVersion,
			Model:          cfg.Oracle.Model,
			Referer:        cfg.Oracle.Referer,
			Title:          cfg.Oracle.Title,
			Temperature:    cfg.Oracle.Temperature,
			MaxTokens:      cfg.Oracle.MaxTokens,
			TimeoutSeconds: cfg.Oracle.TimeoutSeconds,
			SystemPrompt:   prompt,
		}), nil
	case "anthropic":
		return anthropic.NewClient(anthropic.Config{
			APIKey:       cfg.Oracle.APIKey,
			Model:        cfg.Oracle.Model,
			MaxTokens:    cfg.Oracle.MaxTokens,
			Temperature:  cfg.Oracle.Temperature,
			SystemPrompt: prompt,
		}), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "pipeline", "build oracle", fmt.Sprintf("unsupported provider %q", cfg.Oracle.Provider), nil)
	}
}
