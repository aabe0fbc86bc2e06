package model

// WorkflowTemplate is the root structure of a workflow definition file. Each
// file declares one workflow's ordered stage list.
type WorkflowTemplate struct {
	ID          string            `yaml:"id"          json:"id"`
	Name        string            `yaml:"name"        json:"name"`
	Description string            `yaml:"description" json:"description,omitempty"`
	Version     string            `yaml:"version"     json:"version"`
	Stages      []StageDefinition `yaml:"stages"      json:"stages"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}
