package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags plus custom rules
// that cannot be expressed in tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules covers cross-field constraints.
func validateCustomRules(cfg *Config) error {
	seen := make(map[string]bool)
	for i, u := range cfg.Auth.Users {
		if seen[u.Username] {
			return fmt.Errorf("auth.users[%d]: duplicate username %q", i, u.Username)
		}
		seen[u.Username] = true
		if u.Username == "." || u.Username == ".." || u.Username[0] == '.' {
			return fmt.Errorf("auth.users[%d]: username %q is not a valid folder name", i, u.Username)
		}
	}

	if cfg.Uploads.SessionIdleTimeout < cfg.Uploads.SweepInterval {
		return fmt.Errorf("uploads: session_idle_timeout must be at least sweep_interval")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
