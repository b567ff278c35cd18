// Package models defines the domain types for Storyloom: the story graph,
// patches, mentions, and story-context changes.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// NodeType is the type tag carried by every node.
type NodeType string

// Node kinds.
const (
	TypeCharacter NodeType = "Character"
	TypeLocation  NodeType = "Location"
	TypeObject    NodeType = "Object"
	TypeScene     NodeType = "Scene"
	TypeBeat      NodeType = "Beat"
	TypeStoryBeat NodeType = "StoryBeat"
	TypePlotPoint NodeType = "PlotPoint"
	TypeIdea      NodeType = "Idea"
)

// Statuses accepted on StoryBeat, PlotPoint and Idea nodes.
var workflowStatuses = []interface{}{"proposed", "approved", "deprecated", "active", "used", "discarded"}

// Node is a typed story graph node. The set of implementations is closed.
type Node interface {
	NodeID() string
	NodeType() NodeType
	Validate() error
	isNode()
}

// Character is a person or agent in the story.
type Character struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Archetype   string   `json:"archetype,omitempty"`
	Traits      []string `json:"traits,omitempty"`
	Aliases     []string `json:"aliases,omitempty"`
	Status      string   `json:"status,omitempty"`
}

func (n Character) NodeID() string     { return n.ID }
func (n Character) NodeType() NodeType { return TypeCharacter }
func (Character) isNode()              {}

// Validate checks required fields.
func (n Character) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.ID, validation.Required),
		validation.Field(&n.Name, validation.Required),
	)
}

// Location is a place where scenes happen.
type Location struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Description      string   `json:"description,omitempty"`
	ParentLocationID string   `json:"parent_location_id,omitempty"`
	Aliases          []string `json:"aliases,omitempty"`
}

func (n Location) NodeID() string     { return n.ID }
func (n Location) NodeType() NodeType { return TypeLocation }
func (Location) isNode()              {}

// Validate checks required fields.
func (n Location) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.ID, validation.Required),
		validation.Field(&n.Name, validation.Required),
	)
}

// Object is a significant prop or artifact.
type Object struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Aliases     []string `json:"aliases,omitempty"`
}

func (n Object) NodeID() string     { return n.ID }
func (n Object) NodeType() NodeType { return TypeObject }
func (Object) isNode()              {}

// Validate checks required fields.
func (n Object) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.ID, validation.Required),
		validation.Field(&n.Name, validation.Required),
	)
}

// Scene is a unit of staged action.
type Scene struct {
	ID            string `json:"id"`
	Heading       string `json:"heading"`
	SceneOverview string `json:"scene_overview,omitempty"`
	OrderIndex    int    `json:"order_index,omitempty"`
	Status        string `json:"status,omitempty"`
}

func (n Scene) NodeID() string     { return n.ID }
func (n Scene) NodeType() NodeType { return TypeScene }
func (Scene) isNode()              {}

// Validate checks required fields.
func (n Scene) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.ID, validation.Required),
		validation.Field(&n.Heading, validation.Required),
		validation.Field(&n.OrderIndex, validation.Min(0)),
	)
}

// Beat is a structural slot of the story template (e.g. "Catalyst").
type Beat struct {
	ID            string `json:"id"`
	BeatType      string `json:"beat_type"`
	Act           int    `json:"act"`
	PositionIndex int    `json:"position_index,omitempty"`
	Guidance      string `json:"guidance,omitempty"`
	Status        string `json:"status,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

func (n Beat) NodeID() string     { return n.ID }
func (n Beat) NodeType() NodeType { return TypeBeat }
func (Beat) isNode()              {}

// Validate checks required fields and the act range.
func (n Beat) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.ID, validation.Required),
		validation.Field(&n.BeatType, validation.Required),
		validation.Field(&n.Act, validation.Required, validation.Min(1), validation.Max(5)),
	)
}

// StoryBeat is a concrete narrative event proposed for the story.
type StoryBeat struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Summary      string `json:"summary,omitempty"`
	Intent       string `json:"intent,omitempty"`
	Priority     string `json:"priority,omitempty"`
	StakesChange string `json:"stakes_change,omitempty"`
	Act          int    `json:"act,omitempty"`
	Status       string `json:"status,omitempty"`
}

func (n StoryBeat) NodeID() string     { return n.ID }
func (n StoryBeat) NodeType() NodeType { return TypeStoryBeat }
func (StoryBeat) isNode()              {}

// Validate checks required fields and status.
func (n StoryBeat) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.ID, validation.Required),
		validation.Field(&n.Title, validation.Required),
		validation.Field(&n.Act, validation.Min(1), validation.Max(5)),
		validation.Field(&n.Status, validation.In(workflowStatuses...)),
	)
}

// PlotPoint is a turning point in the plot.
type PlotPoint struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
	Act     int    `json:"act,omitempty"`
	Status  string `json:"status,omitempty"`
}

func (n PlotPoint) NodeID() string     { return n.ID }
func (n PlotPoint) NodeType() NodeType { return TypePlotPoint }
func (PlotPoint) isNode()              {}

// Validate checks required fields and status.
func (n PlotPoint) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.ID, validation.Required),
		validation.Field(&n.Title, validation.Required),
		validation.Field(&n.Act, validation.Min(1), validation.Max(5)),
		validation.Field(&n.Status, validation.In(workflowStatuses...)),
	)
}

// Idea is a loose note that has not been placed in the structure yet.
type Idea struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
	Status      string `json:"status,omitempty"`
}

func (n Idea) NodeID() string     { return n.ID }
func (n Idea) NodeType() NodeType { return TypeIdea }
func (Idea) isNode()              {}

// Validate checks required fields and status.
func (n Idea) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.ID, validation.Required),
		validation.Field(&n.Title, validation.Required),
		validation.Field(&n.Status, validation.In(workflowStatuses...)),
	)
}

// UnknownNode holds a decoded node whose type tag is not recognized.
// It only exists so the patch validator can report it.
type UnknownNode struct {
	ID   string
	Type NodeType
	Raw  json.RawMessage
}

func (n UnknownNode) NodeID() string     { return n.ID }
func (n UnknownNode) NodeType() NodeType { return n.Type }
func (UnknownNode) isNode()              {}

// Validate always fails for unknown nodes.
func (n UnknownNode) Validate() error {
	return fmt.Errorf("unrecognized node type %q", n.Type)
}

// KnownNodeType reports whether t is one of the recognized node kinds.
func KnownNodeType(t NodeType) bool {
	_, ok := nodeDecoders[t]
	return ok
}

// Label returns the human-facing name of a node (name, title, heading or beat type).
func Label(n Node) string {
	switch v := n.(type) {
	case Character:
		return v.Name
	case Location:
		return v.Name
	case Object:
		return v.Name
	case Scene:
		return v.Heading
	case Beat:
		return v.BeatType
	case StoryBeat:
		return v.Title
	case PlotPoint:
		return v.Title
	case Idea:
		return v.Title
	default:
		return n.NodeID()
	}
}

// Text returns the free-text content of a node (descriptions, summaries,
// guidance), joined by newlines, for indexing.
func Text(n Node) string {
	var parts []string
	switch v := n.(type) {
	case Character:
		parts = append([]string{v.Description, v.Archetype}, v.Aliases...)
	case Location:
		parts = append([]string{v.Description}, v.Aliases...)
	case Object:
		parts = append([]string{v.Description}, v.Aliases...)
	case Scene:
		parts = []string{v.SceneOverview}
	case Beat:
		parts = []string{v.Guidance, v.Notes}
	case StoryBeat:
		parts = []string{v.Summary, v.Intent, v.StakesChange}
	case PlotPoint:
		parts = []string{v.Summary}
	case Idea:
		parts = []string{v.Description, v.Source}
	}
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

var nodeDecoders = map[NodeType]func(data []byte, strict bool) (Node, error){
	TypeCharacter: decodeAs[Character],
	TypeLocation:  decodeAs[Location],
	TypeObject:    decodeAs[Object],
	TypeScene:     decodeAs[Scene],
	TypeBeat:      decodeAs[Beat],
	TypeStoryBeat: decodeAs[StoryBeat],
	TypePlotPoint: decodeAs[PlotPoint],
	TypeIdea:      decodeAs[Idea],
}

func decodeAs[T Node](data []byte, strict bool) (Node, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(data))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// MarshalNode encodes a node with its "type" tag.
func MarshalNode(n Node) ([]byte, error) {
	if u, ok := n.(UnknownNode); ok {
		return u.Raw, nil
	}
	fields, err := nodeFields(n)
	if err != nil {
		return nil, err
	}
	fields["type"] = string(n.NodeType())
	return json.Marshal(fields)
}

// UnmarshalNode decodes a node using its "type" tag. Unrecognized types
// decode to UnknownNode so the validator can report them. Fields the node
// kind does not define are ignored; stored graphs are read this way.
func UnmarshalNode(data []byte) (Node, error) {
	return unmarshalNode(data, false)
}

// UnmarshalNodeStrict is UnmarshalNode for caller-supplied nodes: a field the
// node kind does not define, such as a misspelling, is an error.
func UnmarshalNodeStrict(data []byte) (Node, error) {
	return unmarshalNode(data, true)
}

func unmarshalNode(data []byte, strict bool) (Node, error) {
	var head struct {
		ID   string   `json:"id"`
		Type NodeType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("models: decode node: %w", err)
	}
	decode, ok := nodeDecoders[head.Type]
	if !ok {
		return UnknownNode{ID: head.ID, Type: head.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
	if strict {
		// The type tag is not a struct field.
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("models: decode node: %w", err)
		}
		delete(fields, "type")
		stripped, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("models: decode node: %w", err)
		}
		data = stripped
	}
	n, err := decode(data, strict)
	if err != nil {
		return nil, fmt.Errorf("models: decode %s node %q: %w", head.Type, head.ID, err)
	}
	return n, nil
}

// MergeFields returns a copy of n with the fields in set overlaid (shallow
// merge). Fields absent from set are untouched. The id and type of a node
// cannot be changed, and fields the node kind does not define are rejected.
func MergeFields(n Node, set map[string]any) (Node, error) {
	decode, ok := nodeDecoders[n.NodeType()]
	if !ok {
		return nil, fmt.Errorf("unrecognized node type %q", n.NodeType())
	}
	fields, err := nodeFields(n)
	if err != nil {
		return nil, err
	}
	for k, v := range set {
		switch k {
		case "id":
			if s, _ := v.(string); s != n.NodeID() {
				return nil, fmt.Errorf("field %q cannot be changed", k)
			}
			continue
		case "type":
			if s, _ := v.(string); NodeType(s) != n.NodeType() {
				return nil, fmt.Errorf("field %q cannot be changed", k)
			}
			continue
		}
		fields[k] = v
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode merged node: %w", err)
	}
	merged, err := decode(data, true)
	if err != nil {
		return nil, fmt.Errorf("merge %s fields: %w", n.NodeType(), err)
	}
	return merged, nil
}

func nodeFields(n Node) (map[string]any, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("models: encode node: %w", err)
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("models: encode node: %w", err)
	}
	return fields, nil
}
