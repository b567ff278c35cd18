package models

// EdgeType names a relationship between two nodes.
type EdgeType string

// Edge types. MENTIONS is derived and owned by the mention reconciler.
const (
	EdgeHasCharacter   EdgeType = "HAS_CHARACTER"
	EdgeLocatedAt      EdgeType = "LOCATED_AT"
	EdgeFeaturesObject EdgeType = "FEATURES_OBJECT"
	EdgePartOf         EdgeType = "PART_OF"
	EdgeAlignsWith     EdgeType = "ALIGNS_WITH"
	EdgeSatisfiedBy    EdgeType = "SATISFIED_BY"
	EdgePrecedes       EdgeType = "PRECEDES"
	EdgeAdvances       EdgeType = "ADVANCES"
	EdgeInspiredBy     EdgeType = "INSPIRED_BY"
	EdgeMentions       EdgeType = "MENTIONS"
)

// DerivedEdgeIDPrefix starts the id of every MENTIONS edge.
const DerivedEdgeIDPrefix = "mention:"

// Edge is a directed, typed relationship. Edges are kept in creation order.
type Edge struct {
	ID         string         `json:"id"`
	Type       EdgeType       `json:"type"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Properties map[string]any `json:"properties,omitempty"`
}

// EdgeKey is the (type, from, to) triple used to address edges without an id.
type EdgeKey struct {
	Type EdgeType `json:"type"`
	From string   `json:"from"`
	To   string   `json:"to"`
}

// Key returns the triple identifying e.
func (e Edge) Key() EdgeKey {
	return EdgeKey{Type: e.Type, From: e.From, To: e.To}
}

type endpoints struct {
	from []NodeType // nil means any kind
	to   []NodeType
}

// edgeRules lists, per patchable edge type, the node kinds it may connect.
var edgeRules = map[EdgeType][]endpoints{
	EdgeHasCharacter:   {{from: []NodeType{TypeScene}, to: []NodeType{TypeCharacter}}},
	EdgeLocatedAt:      {{from: []NodeType{TypeScene, TypeObject}, to: []NodeType{TypeLocation}}},
	EdgeFeaturesObject: {{from: []NodeType{TypeScene}, to: []NodeType{TypeObject}}},
	EdgePartOf:         {{from: []NodeType{TypeLocation}, to: []NodeType{TypeLocation}}},
	EdgeAlignsWith:     {{from: []NodeType{TypeStoryBeat, TypePlotPoint}, to: []NodeType{TypeBeat}}},
	EdgeSatisfiedBy:    {{from: []NodeType{TypeStoryBeat, TypePlotPoint}, to: []NodeType{TypeScene}}},
	EdgePrecedes: {
		{from: []NodeType{TypeStoryBeat}, to: []NodeType{TypeStoryBeat}},
		{from: []NodeType{TypePlotPoint}, to: []NodeType{TypePlotPoint}},
		{from: []NodeType{TypeScene}, to: []NodeType{TypeScene}},
	},
	EdgeAdvances:   {{from: []NodeType{TypeStoryBeat, TypePlotPoint}, to: []NodeType{TypeCharacter}}},
	EdgeInspiredBy: {{to: []NodeType{TypeIdea}}},
}

// PatchableEdgeType reports whether t may be added or deleted through a patch.
func PatchableEdgeType(t EdgeType) bool {
	_, ok := edgeRules[t]
	return ok
}

// DerivedEdgeType reports whether t is maintained by the system rather than by patches.
func DerivedEdgeType(t EdgeType) bool {
	return t == EdgeMentions
}

// EdgeAllowedBetween reports whether an edge of type t may connect a node of
// kind from to a node of kind to.
func EdgeAllowedBetween(t EdgeType, from, to NodeType) bool {
	for _, rule := range edgeRules[t] {
		if kindIn(from, rule.from) && kindIn(to, rule.to) {
			return true
		}
	}
	return false
}

func kindIn(k NodeType, kinds []NodeType) bool {
	if kinds == nil {
		return true
	}
	for _, c := range kinds {
		if c == k {
			return true
		}
	}
	return false
}
