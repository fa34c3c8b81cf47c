package template

import (
	"fmt"
	"strings"
)

// VError describes a single validation error in a template.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks templates structurally.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks all templates, including ID uniqueness across them.
func (v *Validator) Validate(tmpls []Template) []VError {
	var errs []VError
	seen := make(map[string]string)
	for i, t := range tmpls {
		prefix := fmt.Sprintf("templates[%d]", i)
		if t.SourceFile != "" {
			prefix = t.SourceFile + ":" + prefix
		}
		if prev, dup := seen[t.ID]; dup && t.ID != "" {
			errs = append(errs, VError{
				Path:    prefix + ".id",
				Code:    "DUPLICATE",
				Message: fmt.Sprintf("template id %q already defined in %s", t.ID, prev),
			})
		}
		seen[t.ID] = prefix
		errs = append(errs, v.validateTemplate(prefix, t)...)
	}
	return errs
}

func (v *Validator) validateTemplate(prefix string, t Template) []VError {
	var errs []VError

	if strings.TrimSpace(t.ID) == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if strings.TrimSpace(t.Name) == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if len(t.Stages) == 0 {
		errs = append(errs, VError{Path: prefix + ".stages", Code: "REQUIRED", Message: "at least one stage is required"})
	}

	names := make(map[string]bool, len(t.Stages))
	for i, s := range t.Stages {
		sp := fmt.Sprintf("%s.stages[%d]", prefix, i)
		name := strings.TrimSpace(s.Name)
		if name == "" {
			errs = append(errs, VError{Path: sp + ".name", Code: "REQUIRED", Message: "stage name is required"})
		} else if names[strings.ToLower(name)] {
			errs = append(errs, VError{Path: sp + ".name", Code: "DUPLICATE", Message: fmt.Sprintf("stage %q is listed twice", name)})
		}
		names[strings.ToLower(name)] = true

		if s.Probability < 0 || s.Probability > 100 {
			errs = append(errs, VError{Path: sp + ".probability", Code: "RANGE", Message: "probability must be between 0 and 100"})
		}
	}
	return errs
}
