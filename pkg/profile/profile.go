package profile

import (
	"errors"
	"fmt"
	"strings"
)

// Profile describes one specialist persona: identity, specialty tags used to
// derive engagement hints, an optional sampling temperature, an optional tool
// allow-list, and the prompt template that seeds its system prompt. Profiles
// are immutable once loaded.
type Profile struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Icon        string   `json:"icon,omitempty" yaml:"icon,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Specialties []string `json:"specialties,omitempty" yaml:"specialties,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	Tools       []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	Prompt      string   `json:"prompt" yaml:"prompt"`
}

func (p *Profile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("profile id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("profile %q: name is required", p.ID)
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return fmt.Errorf("profile %q: prompt is required", p.ID)
	}
	if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 2) {
		return fmt.Errorf("profile %q: temperature %v out of range [0, 2]", p.ID, *p.Temperature)
	}
	return nil
}

// DisplayName returns the icon-prefixed name used in progress output.
func (p *Profile) DisplayName() string {
	if p.Icon == "" {
		return p.Name
	}
	return p.Icon + " " + p.Name
}

// Lookup resolves specialist ids to profiles. The execution engine and the
// fallback synthesizer use it to resolve handoff requests naming specialists
// outside the original roster.
type Lookup interface {
	Find(id string) (Profile, bool)
}

// LookupFunc adapts a function to the Lookup interface.
type LookupFunc func(id string) (Profile, bool)

func (f LookupFunc) Find(id string) (Profile, bool) { return f(id) }
