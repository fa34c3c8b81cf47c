// Package template provides pipeline stage templates: the built-in sales
// template, YAML-defined templates loaded from disk, and a lock-free registry.
package template

// DefaultID is the ID of the built-in sales template.
const DefaultID = "sales"

// Template is a named list of stages used to seed a new pipeline.
type Template struct {
	ID          string          `yaml:"id" json:"id"`
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	Stages      []StageTemplate `yaml:"stages" json:"stages"`

	// Set by the loader.
	SourceFile string `yaml:"-" json:"-"`
	Checksum   string `yaml:"-" json:"checksum,omitempty"`
}

// StageTemplate describes one stage of a template.
type StageTemplate struct {
	Name        string `yaml:"name" json:"name"`
	Probability int    `yaml:"probability" json:"probability"`
}

// Default returns the built-in six-stage sales template.
func Default() Template {
	return Template{
		ID:          DefaultID,
		Name:        "Main Sales Pipeline",
		Description: "Standard B2B sales process",
		Stages: []StageTemplate{
			{Name: "Qualification", Probability: 10},
			{Name: "Meeting", Probability: 25},
			{Name: "Proposal", Probability: 50},
			{Name: "Negotiation", Probability: 80},
			{Name: "Closed Won", Probability: 100},
			{Name: "Closed Lost", Probability: 0},
		},
	}
}
