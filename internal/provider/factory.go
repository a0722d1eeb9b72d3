package provider

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gohothothot/GohotBlenderAgent/internal/config"
	"github.com/gohothothot/GohotBlenderAgent/internal/domain"
)

// Detect guesses the wire protocol from the API base and model name.
// Explicit provider names in the config win; this covers "just point it
// at an endpoint" setups.
func Detect(apiBase, model string) string {
	base := strings.ToLower(apiBase)
	if strings.Contains(base, "anthropic") {
		return "anthropic"
	}
	if strings.HasPrefix(strings.ToLower(model), "claude") {
		return "anthropic"
	}
	return "openai"
}

// New builds a provider from one config entry. The entry name selects
// the adapter when it names one directly; otherwise Detect decides.
func New(name string, cfg config.ProviderConfig, logger *slog.Logger) (domain.Provider, error) {
	kind := name
	switch kind {
	case "anthropic", "openai":
	default:
		kind = Detect(cfg.APIBase, cfg.DefaultModel)
	}

	switch kind {
	case "anthropic":
		return NewAnthropic(AnthropicConfig{
			APIBase: cfg.APIBase,
			APIKey:  cfg.APIKey,
			Model:   cfg.DefaultModel,
			Logger:  logger,
		}), nil
	case "openai":
		return NewOpenAI(OpenAIConfig{
			APIBase: cfg.APIBase,
			APIKey:  cfg.APIKey,
			Model:   cfg.DefaultModel,
			Logger:  logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", kind)
	}
}
