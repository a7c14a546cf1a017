package alerts

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"pipewatch/app/internal/models"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Rule conditions
const (
	ConditionUptimeDown    = "uptime_down"
	ConditionDataStale     = "data_stale"
	ConditionAnomalyHigh   = "anomaly_high"
	ConditionConnectorDown = "connector_down"
	ConditionErrorBurst    = "error_burst"
)

// ErrInvalidRules is returned when a rules document fails validation
var ErrInvalidRules = errors.New("invalid alert rules")

// Rule configures one alert check
type Rule struct {
	Name            string          `yaml:"name" json:"name" validate:"required"`
	Condition       string          `yaml:"condition" json:"condition" validate:"required,oneof=uptime_down data_stale anomaly_high connector_down error_burst"`
	Threshold       float64         `yaml:"threshold" json:"threshold" validate:"gte=0"`
	Severity        models.Severity `yaml:"severity" json:"severity" validate:"required,oneof=low medium high critical"`
	Enabled         bool            `yaml:"enabled" json:"enabled"`
	CooldownMinutes int             `yaml:"cooldown_minutes" json:"cooldown_minutes" validate:"gte=0"`
	// Consecutive is the number of checks in a row the condition must hold
	Consecutive int `yaml:"consecutive" json:"consecutive" validate:"gte=1"`
}

// UnmarshalYAML applies the defaults of omitted fields
func (r *Rule) UnmarshalYAML(node *yaml.Node) error {
	type plain Rule
	p := plain{Enabled: true, CooldownMinutes: 60, Consecutive: 1}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*r = Rule(p)
	return nil
}

// DefaultRules returns the built-in rule set
func DefaultRules() []Rule {
	return []Rule{
		{Name: "pipeline_down", Condition: ConditionUptimeDown, Severity: models.SeverityCritical, Enabled: true, CooldownMinutes: 30, Consecutive: 1},
		{Name: "data_stale", Condition: ConditionDataStale, Threshold: 24, Severity: models.SeverityHigh, Enabled: true, CooldownMinutes: 120, Consecutive: 1},
		{Name: "high_anomaly_rate", Condition: ConditionAnomalyHigh, Threshold: 0.1, Severity: models.SeverityMedium, Enabled: true, CooldownMinutes: 60, Consecutive: 1},
		{Name: "connector_down", Condition: ConditionConnectorDown, Severity: models.SeverityMedium, Enabled: true, CooldownMinutes: 60, Consecutive: 1},
		{Name: "error_burst", Condition: ConditionErrorBurst, Threshold: 10, Severity: models.SeverityHigh, Enabled: true, CooldownMinutes: 60, Consecutive: 1},
	}
}

type rulesFile struct {
	Rules []Rule `yaml:"rules" validate:"dive"`
}

// LoadRules reads a YAML rules file. An empty path yields the defaults.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("alerts: failed to read rules: %w", err)
	}
	return ParseRules(bytes.NewReader(data))
}

// ParseRules decodes and validates a rules document
func ParseRules(r io.Reader) ([]Rule, error) {
	var doc rulesFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("alerts: failed to decode rules: %w", err)
	}
	if err := validateRules(doc); err != nil {
		return nil, err
	}
	return doc.Rules, nil
}

var validate = validator.New()

func validateRules(doc rulesFile) error {
	if err := validate.Struct(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRules, err)
	}
	seen := make(map[string]bool, len(doc.Rules))
	for _, r := range doc.Rules {
		if seen[r.Name] {
			return fmt.Errorf("%w: duplicate rule %q", ErrInvalidRules, r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}
