package models

// EntityInfo is a catalog entry the mention extractor matches against.
type EntityInfo struct {
	ID      string   `json:"id"`
	Type    NodeType `json:"type"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
}

// Mention is the best textual reference to one entity found in one text.
type Mention struct {
	EntityID    string   `json:"entityId"`
	EntityType  NodeType `json:"entityType"`
	MatchedText string   `json:"matchedText"`
	Confidence  float64  `json:"confidence"`
}
