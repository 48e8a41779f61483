package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for rules that span
// several sections.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if len(cfg.Devices) == 0 {
		return fmt.Errorf("devices: at least one device must be configured")
	}

	handles := make(map[uint32]bool)
	for i, dev := range cfg.Devices {
		if handles[dev.Handle] {
			return fmt.Errorf("devices[%d]: duplicate device handle %d", i, dev.Handle)
		}
		handles[dev.Handle] = true

		if _, ok := cfg.Backends[dev.Backend]; !ok {
			return fmt.Errorf("devices[%d]: backend %q is not configured", i, dev.Backend)
		}
	}

	// The longest component plus its separator must fit in the buffer.
	if cfg.PLB.Size < cfg.Lookup.NameMax {
		return fmt.Errorf("plb.size (%d) must be at least lookup.name_max (%d)",
			cfg.PLB.Size, cfg.Lookup.NameMax)
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
