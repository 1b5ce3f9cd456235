package slo

const (
	// APIVersionV1 is the only accepted document apiVersion.
	APIVersionV1 = "aegis.dev/v1"
	// KindSLO is the only accepted document kind.
	KindSLO = "SLO"
)

// SLO represents a parsed SLO policy document
type SLO struct {
	APIVersion string   `yaml:"apiVersion" json:"apiVersion"`
	Kind       string   `yaml:"kind" json:"kind"`
	Metadata   Metadata `yaml:"metadata" json:"metadata"`
	Spec       Spec     `yaml:"spec" json:"spec"`
}

// Metadata contains SLO metadata
type Metadata struct {
	Name        string `yaml:"name" json:"name"`
	Service     string `yaml:"service" json:"service"`
	Owner       string `yaml:"owner,omitempty" json:"owner,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Spec contains the objective, its windows and the alerting rules
type Spec struct {
	Target             float64    `yaml:"target" json:"target"`
	ComplianceWindow   string     `yaml:"complianceWindow" json:"complianceWindow"`
	EvaluationInterval string     `yaml:"evaluationInterval,omitempty" json:"evaluationInterval,omitempty"`
	Indicator          Indicator  `yaml:"indicator" json:"indicator"`
	BurnRateRules      []BurnRule `yaml:"burnRateRules" json:"burnRateRules"`
}

// Indicator is the good/total query pair an SLI ratio is computed from.
// Queries may contain a {{window}} placeholder.
type Indicator struct {
	Good  QueryRef `yaml:"good" json:"good"`
	Total QueryRef `yaml:"total" json:"total"`
}

// QueryRef contains a backend query expression
type QueryRef struct {
	Query string `yaml:"query" json:"query"`
}

// BurnRule defines a single multi-window burn rate rule
type BurnRule struct {
	Severity    string  `yaml:"severity" json:"severity"`
	ShortWindow string  `yaml:"shortWindow" json:"shortWindow"`
	LongWindow  string  `yaml:"longWindow" json:"longWindow"`
	Multiplier  float64 `yaml:"multiplier" json:"multiplier"`
}

// SLOWithFile pairs an SLO with its source file path and the raw decoded
// document used for schema validation.
type SLOWithFile struct {
	SLO  *SLO
	File string
	Raw  interface{}
}

// ValidationError represents a validation error for a specific file
type ValidationError struct {
	File    string
	SLO     string
	Path    string
	Message string
}

// Error implements the error interface
func (e ValidationError) Error() string {
	prefix := e.File
	if e.SLO != "" {
		prefix += " (" + e.SLO + ")"
	}
	if e.Path != "" {
		return prefix + ": " + e.Path + ": " + e.Message
	}
	return prefix + ": " + e.Message
}
