package entities

import "world-indexer.backend/pkg/dojo"

// Model is a registered model or event resource together with its decoded
// schema. The schema is the template every record of the model is decoded
// against.
type Model struct {
	Selector        string
	Namespace       string
	Name            string
	ClassHash       string
	ContractAddress string
	Layout          string
	Schema          Ty
	PackedSize      uint32
	UnpackedSize    uint32
}

// Tag returns the canonical "namespace-Name" identifier.
func (m *Model) Tag() string {
	return dojo.GetTag(m.Namespace, m.Name)
}
