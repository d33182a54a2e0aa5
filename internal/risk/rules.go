package risk

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_rules.yaml
var defaultRulesYAML []byte

var (
	ErrEmptyRules        = errors.New("risk: rule document is empty")
	ErrInvalidThresholds = errors.New("risk: thresholds must lie in [0,1] with high > warn")
)

// FeatureSpec names one feature and the evaluator that computes it.
type FeatureSpec struct {
	Name      string `json:"name"`
	Evaluator string `json:"evaluator"`
}

// RuleSet is an immutable, parsed rule document.
type RuleSet struct {
	Version    int                `json:"version"`
	Weights    map[string]float64 `json:"weights"`
	Thresholds Thresholds         `json:"thresholds"`
	Features   []FeatureSpec      `json:"features"`
}

// Weight returns the configured weight of a feature, or 0.
func (r *RuleSet) Weight(name string) float64 {
	return r.Weights[name]
}

// FeatureNames returns the feature names in evaluation order.
func (r *RuleSet) FeatureNames() []string {
	names := make([]string, len(r.Features))
	for i, f := range r.Features {
		names[i] = f.Name
	}
	return names
}

type ruleDocument struct {
	Version    int       `yaml:"version"`
	Weights    yaml.Node `yaml:"weights"`
	Thresholds *struct {
		Warn *float64 `yaml:"warn"`
		High *float64 `yaml:"high"`
	} `yaml:"thresholds"`
	Features yaml.Node `yaml:"features"`
}

// ParseRules parses a YAML rule document. Feature order follows the
// document. Without a features block every weighted feature is evaluated by
// the evaluator of the same name.
func ParseRules(data []byte) (*RuleSet, error) {
	var doc ruleDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("risk: parse rules: %w", err)
	}

	rs := &RuleSet{
		Version:    doc.Version,
		Weights:    make(map[string]float64),
		Thresholds: Thresholds{Warn: DefaultWarnThreshold, High: DefaultHighThreshold},
	}

	weightOrder, err := parseWeights(&doc.Weights, rs.Weights)
	if err != nil {
		return nil, err
	}

	if doc.Thresholds != nil {
		if doc.Thresholds.Warn != nil {
			rs.Thresholds.Warn = *doc.Thresholds.Warn
		}
		if doc.Thresholds.High != nil {
			rs.Thresholds.High = *doc.Thresholds.High
		}
	}
	if err := validateThresholds(rs.Thresholds); err != nil {
		return nil, err
	}

	rs.Features, err = parseFeatures(&doc.Features)
	if err != nil {
		return nil, err
	}
	if len(rs.Features) == 0 {
		for _, name := range weightOrder {
			rs.Features = append(rs.Features, FeatureSpec{Name: name, Evaluator: name})
		}
	}
	if len(rs.Features) == 0 {
		return nil, ErrEmptyRules
	}
	return rs, nil
}

// LoadRules reads and parses the rule file at path.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("risk: read rules: %w", err)
	}
	return ParseRules(data)
}

// DefaultRules returns the embedded rule set.
func DefaultRules() *RuleSet {
	rs, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic("risk: embedded rules are invalid: " + err.Error())
	}
	return rs
}

func parseWeights(node *yaml.Node, into map[string]float64) ([]string, error) {
	if node.Kind == 0 || isNull(node) {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("risk: weights must be a mapping (line %d)", node.Line)
	}

	var order []string
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		var w float64
		if err := val.Decode(&w); err != nil {
			return nil, fmt.Errorf("risk: weight %q: %w", key.Value, err)
		}
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("risk: weight %q is not finite", key.Value)
		}
		if _, dup := into[key.Value]; dup {
			return nil, fmt.Errorf("risk: duplicate weight %q", key.Value)
		}
		into[key.Value] = w
		order = append(order, key.Value)
	}
	return order, nil
}

// parseFeatures accepts either a mapping of name to evaluator id or a list
// of names.
func parseFeatures(node *yaml.Node) ([]FeatureSpec, error) {
	if node.Kind == 0 || isNull(node) {
		return nil, nil
	}

	var specs []FeatureSpec
	seen := make(map[string]bool)
	add := func(name, evaluator string) error {
		if name == "" {
			return errors.New("risk: feature with empty name")
		}
		if seen[name] {
			return fmt.Errorf("risk: duplicate feature %q", name)
		}
		seen[name] = true
		if evaluator == "" {
			evaluator = name
		}
		specs = append(specs, FeatureSpec{Name: name, Evaluator: evaluator})
		return nil
	}

	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i], node.Content[i+1]
			var evaluator string
			if !isNull(val) {
				if val.Kind != yaml.ScalarNode {
					return nil, fmt.Errorf("risk: feature %q must name an evaluator", key.Value)
				}
				evaluator = val.Value
			}
			if err := add(key.Value, evaluator); err != nil {
				return nil, err
			}
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if err := add(item.Value, ""); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("risk: features must be a mapping or a list (line %d)", node.Line)
	}
	return specs, nil
}

func validateThresholds(t Thresholds) error {
	inRange := func(v float64) bool { return v >= 0 && v <= 1 }
	if !inRange(t.Warn) || !inRange(t.High) || t.High <= t.Warn {
		return fmt.Errorf("%w (warn=%v high=%v)", ErrInvalidThresholds, t.Warn, t.High)
	}
	return nil
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}
