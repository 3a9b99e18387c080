package strategy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dwizi/rapport/internal/classifier"
)

// policyFile is the YAML overlay. Every field is optional; set fields
// replace the matching default.
type policyFile struct {
	Policies         map[string]policyOverride `yaml:"policies"`
	ValueWeights     map[string]float64        `yaml:"value_weights"`
	MinProbeMessages *int                      `yaml:"min_probe_messages"`
	MinConfidence    *float64                  `yaml:"min_confidence"`
}

type policyOverride struct {
	Tone             string   `yaml:"tone"`
	Length           Length   `yaml:"length"`
	ShortLength      Length   `yaml:"short_length"`
	Required         []string `yaml:"required_vocabulary"`
	Forbidden        []string `yaml:"forbidden_vocabulary"`
	Fallbacks        []string `yaml:"fallbacks"`
	ProbeWindow      *Window  `yaml:"probe_window"`
	ProbeProbability *float64 `yaml:"probe_probability"`
	AvoidProbes      []string `yaml:"avoid_probes"`
}

// ParseTable overlays a YAML document on the default table.
func ParseTable(data []byte) (Table, error) {
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Table{}, fmt.Errorf("parse policy yaml: %w", err)
	}
	table := DefaultTable()
	for name, override := range file.Policies {
		userType := classifier.UserType(strings.ToUpper(strings.TrimSpace(name)))
		if classifier.ParseUserType(name) != userType {
			return Table{}, fmt.Errorf("unknown category %q in policy file", name)
		}
		policy, err := override.apply(table.Policies[userType])
		if err != nil {
			return Table{}, fmt.Errorf("policy %s: %w", userType, err)
		}
		table.Policies[userType] = policy
	}
	if len(file.ValueWeights) > 0 {
		total := 0.0
		weights := make(map[string]float64, len(file.ValueWeights))
		for name, weight := range file.ValueWeights {
			if weight < 0 {
				return Table{}, fmt.Errorf("value weight for %s must not be negative", name)
			}
			total += weight
			weights[strings.ToUpper(strings.TrimSpace(name))] = weight
		}
		if total > 1.0001 {
			return Table{}, fmt.Errorf("value weights sum to %.3f, must not exceed 1", total)
		}
		table.ValueWeights = weights
	}
	if file.MinProbeMessages != nil {
		table.MinProbeMessages = *file.MinProbeMessages
	}
	if file.MinConfidence != nil {
		if *file.MinConfidence < 0 || *file.MinConfidence > 1 {
			return Table{}, fmt.Errorf("min_confidence must be within [0,1]")
		}
		table.MinConfidence = *file.MinConfidence
	}
	return table, nil
}

func (o policyOverride) apply(policy Policy) (Policy, error) {
	if o.Tone != "" {
		policy.Tone = o.Tone
	}
	if o.Length != "" {
		if !validLength(o.Length) {
			return Policy{}, fmt.Errorf("invalid length %q", o.Length)
		}
		policy.Length = o.Length
	}
	if o.ShortLength != "" {
		if !validLength(o.ShortLength) {
			return Policy{}, fmt.Errorf("invalid short_length %q", o.ShortLength)
		}
		policy.ShortLength = o.ShortLength
	}
	if o.Required != nil {
		policy.Required = o.Required
	}
	if o.Forbidden != nil {
		policy.Forbidden = o.Forbidden
	}
	if o.Fallbacks != nil {
		if len(o.Fallbacks) == 0 {
			return Policy{}, fmt.Errorf("fallbacks must not be empty")
		}
		policy.Fallbacks = o.Fallbacks
	}
	if o.ProbeWindow != nil {
		if o.ProbeWindow.Max != 0 && o.ProbeWindow.Max < o.ProbeWindow.Min {
			return Policy{}, fmt.Errorf("probe_window max %d below min %d", o.ProbeWindow.Max, o.ProbeWindow.Min)
		}
		policy.ProbeWindow = *o.ProbeWindow
	}
	if o.ProbeProbability != nil {
		if *o.ProbeProbability < 0 || *o.ProbeProbability > 1 {
			return Policy{}, fmt.Errorf("probe_probability must be within [0,1]")
		}
		policy.ProbeProbability = *o.ProbeProbability
	}
	if o.AvoidProbes != nil {
		policy.AvoidProbes = o.AvoidProbes
	}
	return policy, nil
}

func validLength(length Length) bool {
	switch length {
	case LengthShort, LengthMedium, LengthLong:
		return true
	default:
		return false
	}
}

// LoadFile reads and applies a policy file. A file that fails to parse or
// validate leaves the live table untouched.
func (s *Selector) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	return s.Apply(data)
}

func (s *Selector) Apply(data []byte) error {
	table, err := ParseTable(data)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	s.mu.Lock()
	s.table = table
	s.hash = hash
	s.mu.Unlock()

	s.logger.Info("strategy policy applied", "hash", hash[:12], "categories", len(table.Policies))
	return nil
}

// Hash is the SHA-256 of the last applied policy file, or "" when running on
// the built-in table.
func (s *Selector) Hash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hash
}
