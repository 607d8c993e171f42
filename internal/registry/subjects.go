// Package registry loads the subject registry and the level/stimulus table
// and draws the stimulus pair for each trial.
package registry

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dyluth/olfacto/internal/trial"
)

// Subject is a registered animal.
type Subject = trial.Subject

type subjectsFile struct {
	Subjects []Subject `yaml:"subjects"`
}

// Registry maps tag text to subjects. It is immutable after loading.
type Registry struct {
	subjects map[string]Subject
}

// NewRegistry indexes subjects by tag.
func NewRegistry(subjects []Subject) (*Registry, error) {
	r := &Registry{subjects: make(map[string]Subject, len(subjects))}
	for i, s := range subjects {
		s.Tag = strings.TrimSpace(s.Tag)
		if s.Tag == "" {
			return nil, fmt.Errorf("subject %d: tag is required", i)
		}
		if s.Level == "" {
			return nil, fmt.Errorf("subject '%s': level is required", s.Tag)
		}
		if _, exists := r.subjects[s.Tag]; exists {
			return nil, fmt.Errorf("duplicate subject tag '%s'", s.Tag)
		}
		r.subjects[s.Tag] = s
	}
	return r, nil
}

// LoadSubjects reads a subjects YAML file:
//
//	subjects:
//	  - tag: "M17"
//	    level: "L1"
func LoadSubjects(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read subjects: %w", err)
	}
	var f subjectsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse subjects YAML: %w", err)
	}
	if len(f.Subjects) == 0 {
		return nil, fmt.Errorf("no subjects defined in %s", path)
	}
	return NewRegistry(f.Subjects)
}

// Lookup returns the subject registered under tag.
func (r *Registry) Lookup(tag string) (*Subject, bool) {
	s, ok := r.subjects[tag]
	if !ok {
		return nil, false
	}
	return &s, true
}

// Len returns the number of registered subjects.
func (r *Registry) Len() int {
	return len(r.subjects)
}

// Subjects returns all subjects ordered by tag.
func (r *Registry) Subjects() []Subject {
	out := make([]Subject, 0, len(r.subjects))
	for _, s := range r.subjects {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// CheckLevels returns the tags of subjects whose level is missing from t.
func (r *Registry) CheckLevels(t *LevelTable) []string {
	var missing []string
	for _, s := range r.Subjects() {
		if _, err := t.Rows(s.Level); err != nil {
			missing = append(missing, s.Tag)
		}
	}
	return missing
}
