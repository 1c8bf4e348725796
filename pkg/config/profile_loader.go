package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SLAProfile is a named set of per-state timing targets plus the escalation
// policy applied when a live record breaches them.
type SLAProfile struct {
	Name             string            `yaml:"name" json:"name"`
	Code             string            `yaml:"code" json:"code"`
	StateTargets     map[string]string `yaml:"state_targets" json:"state_targets"` // state -> duration string
	SweepInterval    string            `yaml:"sweep_interval" json:"sweep_interval"`
	EscalateOnBreach bool              `yaml:"escalate_on_breach" json:"escalate_on_breach"`
}

// DefaultSLAProfile is the shipped lock-desk profile used when no profile
// file is configured.
func DefaultSLAProfile() *SLAProfile {
	return &SLAProfile{
		Name: "Standard Lock Desk",
		Code: "standard",
		StateTargets: map[string]string{
			"PendingRequest":     "5m",
			"PendingContext":     "30m",
			"RatesPresented":     "4h",
			"ComplianceReviewed": "1h",
		},
		SweepInterval:    "1m",
		EscalateOnBreach: true,
	}
}

// Targets parses the per-state duration strings. Invalid entries are an
// error so a typo cannot silently disable a target.
func (p *SLAProfile) Targets() (map[string]time.Duration, error) {
	out := make(map[string]time.Duration, len(p.StateTargets))
	for state, raw := range p.StateTargets {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("profile %s: target for %s: %w", p.Code, state, err)
		}
		out[state] = d
	}
	return out, nil
}

// Sweep returns the breach-sweep interval, defaulting to one minute.
func (p *SLAProfile) Sweep() time.Duration {
	d, err := time.ParseDuration(p.SweepInterval)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// LoadProfile loads an SLA profile YAML by code. It searches the profiles
// directory for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*SLAProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile SLAProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}

	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles
// directory.
func LoadAllProfiles(profilesDir string) (map[string]*SLAProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*SLAProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile SLAProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			// Extract code from filename: profile_standard.yaml -> standard
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}

		profiles[profile.Code] = &profile
	}

	return profiles, nil
}
