package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/gema-grader/internal/models"
)

// Persona profiles.
const (
	PersonaBalanced   = "balanced"
	PersonaStrict     = "strict"
	PersonaInsightful = "insightful"
	PersonaCustom     = "custom"
)

// CustomPersonaLabel is the display label of user supplied instructions.
const CustomPersonaLabel = "Custom Persona"

// PersonaDefinition is the display label and grading instructions of a profile.
type PersonaDefinition struct {
	Label        string `mapstructure:"label"`
	Instructions string `mapstructure:"instructions"`
}

// PersonaChoice is the caller's persona selection.
type PersonaChoice struct {
	Profile    string
	CustomText string
}

// DefaultPersonas returns the built-in persona table.
func DefaultPersonas() map[string]PersonaDefinition {
	return map[string]PersonaDefinition{
		PersonaBalanced: {
			Label: "Balanced",
			Instructions: `- **Grading:** Be fair and balanced. Give partial credit where due.
- **Feedback:** Provide constructive criticism. Clearly state what is correct and what is incorrect.`,
		},
		PersonaStrict: {
			Label: "Strict",
			Instructions: `- **Grading:** Be meticulous and strict. Penalize any inaccuracies, omissions, or poor phrasing.
- **Feedback:** Be formal and direct. Start by identifying the primary flaw, then list all errors.`,
		},
		PersonaInsightful: {
			Label: "Insightful",
			Instructions: `- **Grading:** Focus on understanding, not just keywords. Be encouraging.
- **Feedback:** Be warm, conversational, and use "I" statements. Frame mistakes as learning opportunities.
    - Start by finding something positive they understood.
    - Gently explain the misunderstanding or missing part.
    - End with an encouraging remark.`,
		},
	}
}

// PersonaCatalog resolves persona choices into grading directives.
type PersonaCatalog struct {
	entries   map[string]PersonaDefinition
}

// NewPersonaCatalog merges overrides into the built-in table and validates the
// result. Every built-in profile must keep non-empty instructions and the
// custom profile cannot be predefined.
func NewPersonaCatalog(overrides map[string]PersonaDefinition) (*PersonaCatalog, error) {
	entries := DefaultPersonas()
	for key, override := range overrides {
		profile := strings.ToLower(strings.TrimSpace(key))
		if profile == PersonaCustom {
			return nil, fmt.Errorf("persona %q cannot be configured", PersonaCustom)
		}
		if profile == "" {
			return nil, fmt.Errorf("persona profile name must not be empty")
		}

		merged := entries[profile]
		if label := strings.TrimSpace(override.Label); label != "" {
			merged.Label = label
		}
		if instructions := strings.TrimSpace(override.Instructions); instructions != "" {
			merged.Instructions = instructions
		}
		entries[profile] = merged
	}

	for profile, entry := range entries {
		if strings.TrimSpace(entry.Instructions) == "" {
			return nil, fmt.Errorf("persona %q has no instructions", profile)
		}
		if strings.TrimSpace(entry.Label) == "" {
			entry.Label = strings.ToUpper(profile[:1]) + profile[1:]
			entries[profile] = entry
		}
	}

	return &PersonaCatalog{
		entries: entries,
	}, nil
}

// Profiles lists the configured profiles, custom last.
func (c *PersonaCatalog) Profiles() []string {
	profiles := make([]string, 0, len(c.entries)+1)
	for profile := range c.entries {
		profiles = append(profiles, profile)
	}
	sort.Strings(profiles)
	return append(profiles, PersonaCustom)
}

// Resolve returns the directive for choice. An empty profile selects the
// balanced persona.
func (c *PersonaCatalog) Resolve(choice PersonaChoice) (models.PersonaDirective, error) {
	profile := strings.ToLower(strings.TrimSpace(choice.Profile))
	if profile == "" {
		profile = PersonaBalanced
	}

	if profile == PersonaCustom {
		text := strings.TrimSpace(choice.CustomText)
		if text == "" {
			return models.PersonaDirective{}, ErrMissingPersona
		}
		return models.PersonaDirective{Profile: PersonaCustom, Label: CustomPersonaLabel, Instructions: text}, nil
	}

	entry, ok := c.entries[profile]
	if !ok {
		return models.PersonaDirective{}, fmt.Errorf("%w: %s", ErrUnknownPersona, profile)
	}
	return models.PersonaDirective{Profile: profile, Label: entry.Label, Instructions: entry.Instructions}, nil
}
