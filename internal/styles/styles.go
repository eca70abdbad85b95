// Package styles loads reply style presets from a user-editable YAML file.
package styles

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	minCandidates = 1
	maxCandidates = 5
)

// Style describes how reply candidates should be phrased.
type Style struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Tone         string `yaml:"tone"`
	Instructions string `yaml:"instructions"`
	// MaxCandidates is how many alternatives to ask for (1-5).
	MaxCandidates int `yaml:"max_candidates"`
}

type stylesFile struct {
	Styles []Style `yaml:"styles"`
}

// Default returns the built-in presets used when no styles file exists.
func Default() []Style {
	return []Style{
		{
			ID:            "casual",
			Name:          "Casual",
			Tone:          "friendly, relaxed",
			Instructions:  "Reply the way a friend would: short sentences, everyday wording, no sign-off.",
			MaxCandidates: 3,
		},
		{
			ID:            "professional",
			Name:          "Professional",
			Tone:          "courteous, precise",
			Instructions:  "Reply in a polite business register. Complete sentences, no slang, no emoji.",
			MaxCandidates: 3,
		},
		{
			ID:            "brief",
			Name:          "Brief",
			Tone:          "minimal",
			Instructions:  "Reply in one short sentence. Prefer a direct answer over pleasantries.",
			MaxCandidates: 2,
		},
	}
}

// Load reads styles from path. A missing file yields the defaults; a present
// but invalid file is an error (the user edited it, so tell them).
func Load(path string) ([]Style, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var sf stylesFile
	if err := dec.Decode(&sf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(sf.Styles) == 0 {
		return nil, fmt.Errorf("parse %s: no styles defined", path)
	}

	seen := make(map[string]struct{}, len(sf.Styles))
	for i := range sf.Styles {
		s := &sf.Styles[i]
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" {
			return nil, fmt.Errorf("parse %s: style %d: missing id", path, i)
		}
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("parse %s: duplicate style id %q", path, s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.MaxCandidates == 0 {
			s.MaxCandidates = 3
		}
		if s.MaxCandidates < minCandidates || s.MaxCandidates > maxCandidates {
			return nil, fmt.Errorf("parse %s: style %q: max_candidates must be %d-%d", path, s.ID, minCandidates, maxCandidates)
		}
	}
	return sf.Styles, nil
}

// Find returns the style with the given id, or the first style when id is
// empty or unknown. An empty slice falls back to the built-in default.
func Find(all []Style, id string) Style {
	id = strings.TrimSpace(id)
	for _, s := range all {
		if s.ID == id {
			return s
		}
	}
	if len(all) == 0 {
		return Default()[0]
	}
	return all[0]
}
