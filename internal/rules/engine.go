package rules

import "vpnsentry/pkg/models"

// Tag identifies a detection rule that matched a record.
type Tag struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title"`
	Level string `json:"level,omitempty"`
}

// Engine applies detection rules to raw appliance records.
type Engine interface {
	Apply(record models.RawRecord) []Tag
}

// NoopEngine returns no tags.
type NoopEngine struct{}

// Apply returns an empty tag list.
func (n *NoopEngine) Apply(record models.RawRecord) []Tag {
	return nil
}
