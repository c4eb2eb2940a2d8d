// -- internal/llmclient/factory.go --
package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
)

// NewClient is a factory function that creates the LLMClient configured for
// the router's powerful tier.
func NewClient(cfg config.LLMRouterConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	modelCfg, err := cfg.ModelFor("powerful")
	if err != nil {
		return nil, err
	}

	switch modelCfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(modelCfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: %q. Supported: [%s]",
			modelCfg.Provider, config.ProviderGemini)
	}
}
