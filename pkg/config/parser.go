package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/perfpipe/perfpipe/pkg/framework"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		validateInst = validator.New()
	})
	return validateInst
}

// Load reads, parses and validates a configuration file. All failures are
// reported as configuration errors before any execution happens.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, framework.NewConfigError(fmt.Sprintf("failed to read config file %s", path), err)
	}
	return Parse(data)
}

// Parse parses and validates configuration bytes.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, framework.NewConfigError("failed to parse config", err)
	}
	if err := Validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate performs schema validation on the document.
func Validate(doc *Document) error {
	if doc == nil {
		return framework.NewConfigError("configuration is nil", nil)
	}
	if err := validatorInstance().Struct(doc); err != nil {
		return framework.NewConfigError("config validation failed", err)
	}
	for _, scenario := range doc.Tests {
		for _, step := range scenario.Steps {
			if step.Action == nil || step.Action.Type == "" {
				return framework.NewConfigError(
					fmt.Sprintf("step %q in scenario %q has no action", step.Name, scenario.Name), nil)
			}
		}
	}
	return nil
}

// ValidateStruct validates a decoded strategy/hook/action config struct
// against its validate tags.
func ValidateStruct(cfg any) error {
	if cfg == nil {
		return nil
	}
	if err := validatorInstance().Struct(cfg); err != nil {
		if _, ok := err.(*validator.InvalidValidationError); ok {
			// Non-struct configs (none today) are not validatable; accept.
			return nil
		}
		return framework.NewConfigError("invalid element config", err)
	}
	return nil
}
