package chaintemplate

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// StepTemplate is one role entry of a template.
type StepTemplate struct {
	Role        string `yaml:"role" json:"role"`
	Label       string `yaml:"label" json:"label"`
	AppliesWhen string `yaml:"applies_when" json:"applies_when,omitempty"`
}

// Template is a named role sequence with optional match criteria. Empty
// criteria match everything.
type Template struct {
	Name             string         `yaml:"name"`
	Priority         int            `yaml:"priority"` // lower = evaluated first
	ConsequenceTypes []string       `yaml:"consequence_types"`
	Campuses         []string       `yaml:"campuses"`
	Steps            []StepTemplate `yaml:"steps"`
}

type file struct {
	Templates []Template `yaml:"templates"`
}

// Set is an immutable, priority-ordered collection of templates.
type Set struct {
	templates []Template
}

// Parse decodes and validates a template document. Every applies_when
// expression is compiled up front so a bad file is rejected whole.
func Parse(data []byte, eval *Evaluator) (*Set, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse chain templates: %w", err)
	}

	seen := make(map[string]bool, len(f.Templates))
	for i := range f.Templates {
		t := &f.Templates[i]
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			return nil, fmt.Errorf("template %d has no name", i+1)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate template %q", t.Name)
		}
		seen[t.Name] = true
		if len(t.Steps) == 0 {
			return nil, fmt.Errorf("template %q has no steps", t.Name)
		}
		for j := range t.Steps {
			st := &t.Steps[j]
			st.Role = strings.ToLower(strings.TrimSpace(st.Role))
			if st.Role == "" {
				return nil, fmt.Errorf("template %q step %d has no role", t.Name, j+1)
			}
			if err := eval.Compile(st.AppliesWhen); err != nil {
				return nil, fmt.Errorf("template %q step %d: %w", t.Name, j+1, err)
			}
		}
		t.ConsequenceTypes = lower(t.ConsequenceTypes)
	}

	sort.SliceStable(f.Templates, func(i, j int) bool {
		if f.Templates[i].Priority != f.Templates[j].Priority {
			return f.Templates[i].Priority < f.Templates[j].Priority
		}
		return f.Templates[i].Name < f.Templates[j].Name
	})
	return &Set{templates: f.Templates}, nil
}

// Load reads and parses a template file.
func Load(path string, eval *Evaluator) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chain templates: %w", err)
	}
	return Parse(data, eval)
}

// Len returns the number of templates.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.templates)
}

// Match returns the first template, in priority order, whose criteria all
// match the facts.
func (s *Set) Match(f Facts) (Template, bool) {
	if s == nil {
		return Template{}, false
	}
	for _, t := range s.templates {
		if matches(t, f) {
			return t, true
		}
	}
	return Template{}, false
}

func matches(t Template, f Facts) bool {
	if len(t.ConsequenceTypes) > 0 && !slices.Contains(t.ConsequenceTypes, strings.ToLower(f.ConsequenceType)) {
		return false
	}
	if len(t.Campuses) > 0 && !slices.Contains(t.Campuses, f.CampusID) {
		return false
	}
	return true
}

func lower(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
