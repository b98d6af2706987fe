package commands

import (
	"fmt"

	"github.com/marmos91/authproxy/internal/logger"
	"github.com/marmos91/authproxy/pkg/config"
)

// InitLogger initializes the process logger from configuration.
func InitLogger(cfg *config.Config) error {
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}
