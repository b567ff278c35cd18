package mcpserver

// PatchFormatContract describes the patch and narrative-package formats that
// LLM consumers should follow when changing a story graph.
const PatchFormatContract = `# Storyloom Patch Format Contract

A story is a graph of typed nodes and typed edges. Every change is a patch:
an ordered list of operations validated as a whole and committed as one new
version. A patch with any problem is rejected in full; nothing is stored.

## Patch

` + "```" + `json
{
  "id": "patch_optional",
  "base_story_version_id": "ver_...",
  "ops": [
    {"op": "ADD_NODE", "node": {"id": "char_mary", "type": "Character", "name": "Mary"}},
    {"op": "UPDATE_NODE", "id": "sb_1", "set": {"summary": "Mary forces the issue"}},
    {"op": "ADD_EDGE", "edge": {"type": "ADVANCES", "from": "sb_1", "to": "char_mary"}},
    {"op": "DELETE_EDGE", "edge": {"type": "PRECEDES", "from": "sb_0", "to": "sb_1"}},
    {"op": "DELETE_NODE", "id": "idea_old"}
  ],
  "metadata": {"source": "assistant"}
}
` + "```" + `

1. **base_story_version_id** is the head you read. If the head moved since,
   the commit fails with a conflict; re-read the graph and retry.
2. **Ops run in order.** Later ops see the effect of earlier ones.
3. **DELETE_NODE** also removes every edge touching the node.
4. **UPDATE_NODE** may not change ` + "`" + `id` + "`" + ` or ` + "`" + `type` + "`" + `.

## Node types

| type      | required fields            | optional fields |
|-----------|----------------------------|-----------------|
| Character | id, name                   | description, archetype, traits, aliases, status |
| Location  | id, name                   | description, parent_location_id, aliases |
| Object    | id, name                   | description, aliases |
| Scene     | id, heading                | scene_overview, order_index, status |
| Beat      | id, beat_type, act (1-5)   | position_index, guidance, status, notes |
| StoryBeat | id, title                  | summary, intent, priority, stakes_change, act, status |
| PlotPoint | id, title                  | summary, act, status |
| Idea      | id, title                  | description, source, status |

## Edge types

| type            | from                 | to        |
|-----------------|----------------------|-----------|
| HAS_CHARACTER   | Scene                | Character |
| LOCATED_AT      | Scene, Object        | Location  |
| FEATURES_OBJECT | Scene                | Object    |
| PART_OF         | Location             | Location  |
| ALIGNS_WITH     | StoryBeat, PlotPoint | Beat      |
| SATISFIED_BY    | StoryBeat, PlotPoint | Scene     |
| PRECEDES        | same kind on both ends: StoryBeat, PlotPoint or Scene | |
| ADVANCES        | StoryBeat, PlotPoint | Character |
| INSPIRED_BY     | any                  | Idea      |

**MENTIONS edges are derived.** They are rebuilt from node text after every
commit and are never written by a patch, whether addressed by triple or by
id. Edge ids starting with "mention:" are reserved for them. Refer to characters, locations and
objects by name or alias in titles, summaries, headings and overviews instead.

## Story context

The story-context document is Markdown made of ` + "`" + `## Section` + "`" + ` headers.
Change it with a list of changes:

` + "```" + `json
[
  {"operation": "add", "section": "Themes", "content": "Loyalty is tested."},
  {"operation": "modify", "section": "Themes", "previous_content": "Loyalty is tested.", "content": "Loyalty breaks."},
  {"operation": "delete", "section": "Themes", "content": "Loyalty breaks."}
]
` + "```" + `

A change aimed at a missing section creates it at the end of the document.

## Narrative packages

` + "`" + `apply_proposal` + "`" + ` accepts ` + "`" + `{"id", "title", "rationale", "confidence", "changes"}` + "`" + ` where
` + "`" + `changes` + "`" + ` holds ` + "`" + `nodes.add` + "`" + ` (full nodes), ` + "`" + `nodes.modify` + "`" + ` (` + "`" + `{"node_id", "updates"}` + "`" + `),
` + "`" + `nodes.delete` + "`" + ` (ids), ` + "`" + `edges.add` + "`" + `, ` + "`" + `edges.delete` + "`" + ` and ` + "`" + `story_context` + "`" + `.
Edges with unknown or derived types are dropped and listed in the result.
`
