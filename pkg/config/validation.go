package config

import (
	"errors"
	"fmt"
	"net"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags and the cross-field rules tags cannot express.
// Log levels are accepted in any case; ApplyDefaults normalizes them.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	switch {
	case cfg.Integrity.Key == "" && cfg.Integrity.KeyFile == "":
		return errors.New("integrity: one of key or key_file is required")
	case cfg.Integrity.Key != "" && cfg.Integrity.KeyFile != "":
		return errors.New("integrity: key and key_file are mutually exclusive")
	}

	if _, _, err := net.SplitHostPort(cfg.Broker.Listen); err != nil {
		return fmt.Errorf("broker.listen: %w", err)
	}
	if _, _, err := net.SplitHostPort(cfg.Edge.ManagerAddress); err != nil {
		return fmt.Errorf("edge.manager_address: %w", err)
	}

	if cfg.Content.Type == "filesystem" && cfg.Content.Filesystem["path"] == "" {
		return errors.New("content.filesystem.path must not be empty")
	}
	if cfg.Content.Type == "s3" && len(cfg.Content.S3) == 0 {
		return errors.New("content.s3: section is required when type is s3")
	}

	return nil
}

// formatValidationError reports the first failing field.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
