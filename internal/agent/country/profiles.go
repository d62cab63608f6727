// Package country resolves the static per-country retirement vocabulary.
package country

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/retirement-advisor-poc/server/internal/agent/model"
)

//go:embed countries.yaml
var defaultCountries []byte

type countryFile struct {
	Countries []model.CountryProfile `yaml:"countries"`
}

// Resolver is a read-only lookup of country profiles keyed by upper-case code.
type Resolver struct {
	profiles map[string]model.CountryProfile
}

// Load parses a countries document and validates every profile.
func Load(data []byte) (*Resolver, error) {
	var f countryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse country profiles: %w", err)
	}
	if len(f.Countries) == 0 {
		return nil, fmt.Errorf("parse country profiles: no countries defined")
	}

	profiles := make(map[string]model.CountryProfile, len(f.Countries))
	for _, p := range f.Countries {
		p.Code = strings.ToUpper(strings.TrimSpace(p.Code))
		if p.Code == "" {
			return nil, fmt.Errorf("country profile without code")
		}
		if _, dup := profiles[p.Code]; dup {
			return nil, fmt.Errorf("duplicate country profile %q", p.Code)
		}
		for cat, id := range p.Tools {
			if !p.HasTool(id) {
				return nil, fmt.Errorf("country %s: %s tool %q not in available_tool_ids", p.Code, cat, id)
			}
		}
		profiles[p.Code] = p
	}
	return &Resolver{profiles: profiles}, nil
}

// Default returns the resolver built from the embedded profile table.
func Default() (*Resolver, error) {
	return Load(defaultCountries)
}

// Resolve returns the profile for a country code (case-insensitive).
func (r *Resolver) Resolve(code string) (model.CountryProfile, bool) {
	p, ok := r.profiles[strings.ToUpper(strings.TrimSpace(code))]
	return p, ok
}

// Codes lists the configured country codes in sorted order.
func (r *Resolver) Codes() []string {
	codes := make([]string, 0, len(r.profiles))
	for c := range r.profiles {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// Profiles returns every profile in Codes order.
func (r *Resolver) Profiles() []model.CountryProfile {
	codes := r.Codes()
	out := make([]model.CountryProfile, 0, len(codes))
	for _, c := range codes {
		out = append(out, r.profiles[c])
	}
	return out
}
