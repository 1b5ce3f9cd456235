package policy

import (
	"fmt"

	"github.com/samijaber1/aegis-budget/internal/slo"
)

// ConfigurationError reports an SLO document that was excluded from evaluation
type ConfigurationError struct {
	File    string
	SLOName string
	Path    string
	Message string
}

func (e *ConfigurationError) Error() string {
	prefix := e.File
	if e.SLOName != "" {
		prefix += " (" + e.SLOName + ")"
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", prefix, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func fromValidation(v slo.ValidationError) *ConfigurationError {
	return &ConfigurationError{
		File:    v.File,
		SLOName: v.SLO,
		Path:    v.Path,
		Message: v.Message,
	}
}
