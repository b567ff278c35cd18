// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Storyloom tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/storyloom/internal/mention"
	"github.com/starford/storyloom/internal/models"
	"github.com/starford/storyloom/internal/proposal"
	"github.com/starford/storyloom/internal/storyservice"
)

const patchFormatURI = "storyloom://patch-format"

// Server wraps the MCP server with Storyloom tools.
type Server struct {
	mcp *server.MCPServer
	svc *storyservice.Service
}

// New creates a new MCP server with all Storyloom tools registered.
func New(svc *storyservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Storyloom",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_stories",
		mcp.WithDescription("List all stories with their current head version."),
	), s.listStories)

	s.mcp.AddTool(mcp.NewTool("get_graph",
		mcp.WithDescription("Return the head graph of a story: every node keyed by id plus all edges."),
		mcp.WithString("story_id", mcp.Required(), mcp.Description("Story identifier")),
	), s.getGraph)

	s.mcp.AddTool(mcp.NewTool("validate_patch",
		mcp.WithDescription("Dry-run a patch against the story head and list every problem found. "+
			"Nothing is stored. Read the contract first via get_patch_contract or the "+patchFormatURI+" resource."),
		mcp.WithString("story_id", mcp.Required(), mcp.Description("Story identifier")),
		mcp.WithObject("patch", mcp.Required(), mcp.Description("Patch document with an ops array")),
	), s.validatePatch)

	s.mcp.AddTool(mcp.NewTool("apply_patch",
		mcp.WithDescription("Validate and commit a patch as a new story version. MENTIONS edges are "+
			"derived automatically and must not appear in the patch."),
		mcp.WithString("story_id", mcp.Required(), mcp.Description("Story identifier")),
		mcp.WithObject("patch", mcp.Required(), mcp.Description("Patch document with an ops array")),
		mcp.WithArray("story_context", mcp.Description("Optional story-context changes committed together with the patch")),
	), s.applyPatch)

	s.mcp.AddTool(mcp.NewTool("apply_proposal",
		mcp.WithDescription("Translate a narrative package into a patch and commit it. "+
			"Changes with unknown or derived edge types are dropped and reported."),
		mcp.WithString("story_id", mcp.Required(), mcp.Description("Story identifier")),
		mcp.WithObject("package", mcp.Required(), mcp.Description("Narrative package with a changes object")),
		mcp.WithString("base_story_version_id", mcp.Description("Version the package was generated against (empty for head)")),
	), s.applyProposal)

	s.mcp.AddTool(mcp.NewTool("rebuild_mentions",
		mcp.WithDescription("Recompute the MENTIONS edges of one node, or of the whole story when node_id is omitted."),
		mcp.WithString("story_id", mcp.Required(), mcp.Description("Story identifier")),
		mcp.WithString("node_id", mcp.Description("Rebuild only this node's mentions")),
	), s.rebuildMentions)

	s.mcp.AddTool(mcp.NewTool("extract_mentions",
		mcp.WithDescription("Find the characters, locations and objects of a story mentioned in a piece of text."),
		mcp.WithString("story_id", mcp.Required(), mcp.Description("Story identifier")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Free text to scan")),
	), s.extractMentions)

	s.mcp.AddTool(mcp.NewTool("read_story_context",
		mcp.WithDescription("Read the story-context Markdown document and its checksum."),
		mcp.WithString("story_id", mcp.Required(), mcp.Description("Story identifier")),
	), s.readStoryContext)

	s.mcp.AddTool(mcp.NewTool("apply_story_context_changes",
		mcp.WithDescription("Apply add, modify or delete changes to sections of the story-context document."),
		mcp.WithString("story_id", mcp.Required(), mcp.Description("Story identifier")),
		mcp.WithArray("changes", mcp.Required(), mcp.Description("List of {operation, section, content, previous_content}")),
		mcp.WithString("if_match", mcp.Description("Checksum the changes were written against")),
	), s.applyStoryContextChanges)

	s.mcp.AddTool(mcp.NewTool("search_story",
		mcp.WithDescription("Full-text search through node text and story-context documents."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithString("story_id", mcp.Description("Restrict results to one story")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchStory)

	s.mcp.AddTool(mcp.NewTool("get_patch_contract",
		mcp.WithDescription("Returns the Storyloom patch format contract. "+
			"Call this before writing patches or narrative packages."),
	), s.getPatchContract)

	// Resource: patch format contract.
	s.mcp.AddResource(
		mcp.NewResource(patchFormatURI, "Patch Format Contract",
			mcp.WithResourceDescription("Node types, edge types and operations accepted by story patches."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readPatchFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listStories(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stories, err := s.svc.ListStories(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(stories)
}

func (s *Server) getGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("story_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	snap, err := s.svc.GetGraph(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(snap)
}

func (s *Server) validatePatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("story_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var p models.Patch
	if err := decodeArg(req, "patch", &p); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.ValidatePatch(ctx, id, p)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(res)
}

func (s *Server) applyPatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("story_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var p models.Patch
	if err := decodeArg(req, "patch", &p); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var changes []models.StoryContextChange
	if _, ok := req.GetArguments()["story_context"]; ok {
		if err := decodeArg(req, "story_context", &changes); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	res, err := s.svc.Commit(ctx, id, p, changes)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(commitSummary(res))
}

func (s *Server) applyProposal(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("story_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var pkg proposal.NarrativePackage
	if err := decodeArg(req, "package", &pkg); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.ApplyProposal(ctx, id, pkg, req.GetString("base_story_version_id", ""))
	if err != nil {
		return toolError(err), nil
	}
	out := commitSummary(&res.CommitResult)
	out.Dropped = res.Dropped
	return jsonResult(out)
}

func (s *Server) rebuildMentions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("story_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.RebuildMentions(ctx, id, req.GetString("node_id", ""))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(commitSummary(res))
}

func (s *Server) extractMentions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("story_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ms, err := s.svc.ExtractMentions(ctx, id, text)
	if err != nil {
		return toolError(err), nil
	}
	if len(ms) == 0 {
		return mcp.NewToolResultText("no mentions found"), nil
	}
	return jsonResult(ms)
}

func (s *Server) readStoryContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("story_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.svc.GetContext(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(doc)
}

func (s *Server) applyStoryContextChanges(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("story_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var changes []models.StoryContextChange
	if err := decodeArg(req, "changes", &changes); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.svc.ApplyContextChanges(ctx, id, changes, req.GetString("if_match", ""))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(doc)
}

func (s *Server) searchStory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, req.GetString("story_id", ""), req.GetInt("limit", 20))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(results)
}

func (s *Server) getPatchContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PatchFormatContract), nil
}

func (s *Server) readPatchFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      patchFormatURI,
			MIMEType: "text/markdown",
			Text:     PatchFormatContract,
		},
	}, nil
}

// decodeArg decodes argument key into v. Objects and JSON-encoded strings
// are both accepted since clients differ in how they pass nested values.
func decodeArg(req mcp.CallToolRequest, key string, v any) error {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return fmt.Errorf("required argument %q not found", key)
	}
	var data []byte
	if str, isStr := raw.(string); isStr {
		data = []byte(str)
	} else {
		var err error
		if data, err = json.Marshal(raw); err != nil {
			return fmt.Errorf("argument %q: %w", key, err)
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("argument %q: %w", key, err)
	}
	return nil
}

// toolError renders err for the model. Validation failures list every issue
// so the caller can fix them in one round.
func toolError(err error) *mcp.CallToolResult {
	var verr *storyservice.ValidationError
	if errors.As(err, &verr) {
		return mcp.NewToolResultError("invalid patch:\n- " + strings.Join(verr.Messages(), "\n- "))
	}
	return mcp.NewToolResultError(err.Error())
}

// commitOutput is a commit result without the full graph, which is
// usually too large to hand back to a model.
type commitOutput struct {
	StoryID         string             `json:"story_id"`
	VersionID       string             `json:"version_id"`
	ParentVersionID string             `json:"parent_version_id"`
	PatchID         string             `json:"patch_id,omitempty"`
	Mentions        mention.Result     `json:"mentions"`
	ContextChecksum string             `json:"context_checksum,omitempty"`
	Dropped         []proposal.Dropped `json:"dropped,omitempty"`
}

func commitSummary(res *storyservice.CommitResult) commitOutput {
	out := commitOutput{
		StoryID:         res.StoryID,
		VersionID:       res.VersionID,
		ParentVersionID: res.ParentVersionID,
		PatchID:         res.PatchID,
		Mentions:        res.Mentions,
	}
	if res.Context != nil {
		out.ContextChecksum = res.Context.Checksum
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}
