package slo

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed schema/slo_v1.json
var schemaJSON []byte

const schemaURL = "https://aegis.dev/schemas/slo_v1.json"

var printer = message.NewPrinter(language.English)

// Validator handles SLO validation
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator creates a validator using the embedded v1 schema
func NewValidator() (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// NewValidatorFromFile creates a validator with the given schema file
func NewValidatorFromFile(schemaPath string) (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	// The draft is auto-detected from the $schema field
	schema, err := compiler.Compile(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateDirectory loads and validates all SLO files under a path
func (v *Validator) ValidateDirectory(dirPath string) []ValidationError {
	sloWithFiles, loadErrors := Load(dirPath)

	var allErrors []ValidationError
	allErrors = append(allErrors, loadErrors...)

	for _, sloWithFile := range sloWithFiles {
		allErrors = append(allErrors, v.ValidateDocument(sloWithFile)...)
	}
	allErrors = append(allErrors, DuplicateNames(sloWithFiles)...)

	return allErrors
}

// ValidateDocument applies the JSON schema and the semantic rules to one document
func (v *Validator) ValidateDocument(doc SLOWithFile) []ValidationError {
	errors := v.validateSchema(doc)
	if len(errors) > 0 {
		return errors
	}
	return validateSemantics(doc.File, doc.SLO)
}

// validateSchema validates a single SLO against the JSON schema
func (v *Validator) validateSchema(doc SLOWithFile) []ValidationError {
	var errors []ValidationError
	name := documentName(doc.SLO)

	raw := doc.Raw
	if raw == nil {
		raw = doc.SLO
	}

	// Round-trip through JSON so the instance only holds JSON types
	jsonBytes, err := json.Marshal(raw)
	if err != nil {
		errors = append(errors, ValidationError{
			File:    doc.File,
			SLO:     name,
			Message: fmt.Sprintf("failed to convert to JSON: %v", err),
		})
		return errors
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonBytes))
	if err != nil {
		errors = append(errors, ValidationError{
			File:    doc.File,
			SLO:     name,
			Message: fmt.Sprintf("failed to decode JSON: %v", err),
		})
		return errors
	}

	if err := v.schema.Validate(instance); err != nil {
		if validationErr, ok := err.(*jsonschema.ValidationError); ok {
			errors = append(errors, extractSchemaErrors(doc.File, name, validationErr)...)
		} else {
			errors = append(errors, ValidationError{
				File:    doc.File,
				SLO:     name,
				Message: err.Error(),
			})
		}
	}

	return errors
}

// extractSchemaErrors flattens a schema validation tree into its leaf errors
func extractSchemaErrors(file, name string, err *jsonschema.ValidationError) []ValidationError {
	if len(err.Causes) > 0 {
		var errors []ValidationError
		for _, cause := range err.Causes {
			errors = append(errors, extractSchemaErrors(file, name, cause)...)
		}
		return errors
	}

	path := strings.Join(err.InstanceLocation, ".")
	if path == "" {
		path = "(root)"
	}

	return []ValidationError{{
		File:    file,
		SLO:     name,
		Path:    path,
		Message: err.ErrorKind.LocalizedString(printer),
	}}
}

// DuplicateNames reports every document whose metadata.name is shared with another document
func DuplicateNames(sloWithFiles []SLOWithFile) []ValidationError {
	var errors []ValidationError

	firstSeen := make(map[string]string)
	counts := make(map[string]int)
	for _, sloWithFile := range sloWithFiles {
		counts[sloWithFile.SLO.Metadata.Name]++
	}

	for _, sloWithFile := range sloWithFiles {
		name := sloWithFile.SLO.Metadata.Name
		if name == "" || counts[name] < 2 {
			continue
		}
		if prevFile, exists := firstSeen[name]; exists {
			errors = append(errors, ValidationError{
				File:    sloWithFile.File,
				SLO:     name,
				Path:    "metadata.name",
				Message: fmt.Sprintf("duplicate name %q (also in %s)", name, filepath.Base(prevFile)),
			})
			continue
		}
		firstSeen[name] = sloWithFile.File
		errors = append(errors, ValidationError{
			File:    sloWithFile.File,
			SLO:     name,
			Path:    "metadata.name",
			Message: fmt.Sprintf("duplicate name %q is defined %d times", name, counts[name]),
		})
	}

	return errors
}

// validateSemantics checks what the schema cannot express: window ordering,
// compliance window coverage and the target range for documents built in code
func validateSemantics(file string, slo *SLO) []ValidationError {
	var errors []ValidationError
	name := documentName(slo)

	if slo.Spec.Target <= 0 || slo.Spec.Target >= 1 {
		errors = append(errors, ValidationError{
			File:    file,
			SLO:     name,
			Path:    "spec.target",
			Message: fmt.Sprintf("target must be in (0, 1), got %v", slo.Spec.Target),
		})
	}

	if len(slo.Spec.BurnRateRules) == 0 {
		errors = append(errors, ValidationError{
			File:    file,
			SLO:     name,
			Path:    "spec.burnRateRules",
			Message: "at least one burn rate rule is required",
		})
	}

	if slo.Spec.EvaluationInterval != "" {
		if _, err := ParseDuration(slo.Spec.EvaluationInterval); err != nil {
			errors = append(errors, ValidationError{
				File:    file,
				SLO:     name,
				Path:    "spec.evaluationInterval",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		}
	}

	errors = append(errors, validateComplianceWindow(file, slo)...)
	return errors
}

// validateComplianceWindow checks every rule has short < long, that no rule
// repeats another and that the compliance window covers the longest rule window
func validateComplianceWindow(file string, slo *SLO) []ValidationError {
	var errors []ValidationError
	name := documentName(slo)

	complianceDur, err := ParseDuration(slo.Spec.ComplianceWindow)
	if err != nil {
		errors = append(errors, ValidationError{
			File:    file,
			SLO:     name,
			Path:    "spec.complianceWindow",
			Message: fmt.Sprintf("invalid duration: %v", err),
		})
		return errors
	}

	maxPolicyWindow := complianceDur
	seen := make(map[string]int)
	for i, rule := range slo.Spec.BurnRateRules {
		shortDur, err := ParseDuration(rule.ShortWindow)
		if err != nil {
			errors = append(errors, ValidationError{
				File:    file,
				SLO:     name,
				Path:    fmt.Sprintf("spec.burnRateRules[%d].shortWindow", i),
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
			continue
		}

		longDur, err := ParseDuration(rule.LongWindow)
		if err != nil {
			errors = append(errors, ValidationError{
				File:    file,
				SLO:     name,
				Path:    fmt.Sprintf("spec.burnRateRules[%d].longWindow", i),
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
			continue
		}

		if shortDur >= longDur {
			errors = append(errors, ValidationError{
				File:    file,
				SLO:     name,
				Path:    fmt.Sprintf("spec.burnRateRules[%d]", i),
				Message: fmt.Sprintf("shortWindow (%s) must be shorter than longWindow (%s)", rule.ShortWindow, rule.LongWindow),
			})
		}

		if rule.Multiplier <= 0 {
			errors = append(errors, ValidationError{
				File:    file,
				SLO:     name,
				Path:    fmt.Sprintf("spec.burnRateRules[%d].multiplier", i),
				Message: fmt.Sprintf("multiplier must be positive, got %v", rule.Multiplier),
			})
		}

		// Identical rules would share one alert
		id := BurnRateRule{Severity: Severity(rule.Severity), ShortWindow: shortDur, LongWindow: longDur, Multiplier: rule.Multiplier}.ID()
		if first, dup := seen[id]; dup {
			errors = append(errors, ValidationError{
				File:    file,
				SLO:     name,
				Path:    fmt.Sprintf("spec.burnRateRules[%d]", i),
				Message: fmt.Sprintf("duplicate of burnRateRules[%d] (%s)", first, id),
			})
		} else {
			seen[id] = i
		}

		if longDur > maxPolicyWindow {
			maxPolicyWindow = longDur
		}
	}

	if complianceDur < maxPolicyWindow {
		errors = append(errors, ValidationError{
			File: file,
			SLO:  name,
			Path: "spec.complianceWindow",
			Message: fmt.Sprintf("complianceWindow (%s) must be >= max burn rate window (%s)",
				slo.Spec.ComplianceWindow, FormatDuration(maxPolicyWindow)),
		})
	}

	return errors
}

func documentName(slo *SLO) string {
	if slo == nil {
		return ""
	}
	return slo.Metadata.Name
}
