// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes margin annotation tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/margin/internal/annotationservice"
)

// EventFormatURI is the resource URI of the event format contract.
const EventFormatURI = "margin://event-format"

// Server wraps the MCP server with margin tools.
type Server struct {
	mcp *server.MCPServer
	svc *annotationservice.Service
}

// New creates a new MCP server with all margin tools registered.
func New(svc *annotationservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Margin",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_annotations",
		mcp.WithDescription("List the stored highlights, page notes and replies anchored to a URL. "+
			"Call load_uri first to fetch them from relays."),
		mcp.WithString("uri", mcp.Required(), mcp.Description("Page URL")),
	), s.listAnnotations)

	s.mcp.AddTool(mcp.NewTool("get_thread",
		mcp.WithDescription("Return a root annotation with its stored replies in creation order."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Event id of the root annotation")),
	), s.getThread)

	s.mcp.AddTool(mcp.NewTool("search_annotations",
		mcp.WithDescription("Full-text search through stored annotation text, quotes and hashtags."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Free text; #tag filters by hashtag, uri:<url> limits to one page")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchAnnotations)

	s.mcp.AddTool(mcp.NewTool("load_uri",
		mcp.WithDescription("Subscribe to relays for the highlights, page notes and threads of a URL. "+
			"Results arrive asynchronously."),
		mcp.WithString("uri", mcp.Required(), mcp.Description("Page URL")),
	), s.loadURI)

	s.mcp.AddTool(mcp.NewTool("publish_page_note",
		mcp.WithDescription("Sign and publish a note about a whole page. Read the event format "+
			"via get_event_format or the "+EventFormatURI+" resource first."),
		mcp.WithString("uri", mcp.Required(), mcp.Description("Page URL")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Note text")),
		mcp.WithString("title", mcp.Description("Optional page title")),
		mcp.WithString("tags", mcp.Description("Optional comma-separated hashtags")),
	), s.publishPageNote)

	s.mcp.AddTool(mcp.NewTool("reply",
		mcp.WithDescription("Sign and publish a reply to a stored highlight, page note or reply."),
		mcp.WithString("parent_id", mcp.Required(), mcp.Description("Event id of the annotation replied to")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Reply text")),
		mcp.WithString("tags", mcp.Description("Optional comma-separated hashtags")),
	), s.reply)

	s.mcp.AddTool(mcp.NewTool("get_event_format",
		mcp.WithDescription("Returns how margin annotations map onto Nostr events."),
	), s.getEventFormat)

	// Resource: event format contract.
	s.mcp.AddResource(
		mcp.NewResource(EventFormatURI, "Event Format Contract",
			mcp.WithResourceDescription("How highlights, page notes and replies are encoded as Nostr events."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readEventFormatResource,
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

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func (s *Server) listAnnotations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri, err := req.RequireString("uri")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	anns, err := s.svc.List(ctx, uri)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(anns) == 0 {
		return mcp.NewToolResultText("no annotations stored for " + uri), nil
	}
	return jsonResult(anns), nil
}

func (s *Server) getThread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	thread, err := s.svc.Thread(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("thread %s: %v", id, err)), nil
	}
	return jsonResult(thread), nil
}

func (s *Server) searchAnnotations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, req.GetInt("limit", annotationservice.DefaultSearchLimit))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results), nil
}

func (s *Server) loadURI(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri, err := req.RequireString("uri")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.Load(uri); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("loading: " + uri), nil
}

func (s *Server) publishPageNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uri, err := req.RequireString("uri")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	saved, err := s.svc.Publish(ctx, annotationservice.Draft{
		URI:   uri,
		Text:  text,
		Title: req.GetString("title", ""),
		Tags:  splitTags(req.GetString("tags", "")),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(saved), nil
}

func (s *Server) reply(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	parentID, err := req.RequireString("parent_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	saved, err := s.svc.Reply(ctx, parentID, annotationservice.ReplyDraft{
		Text: text,
		Tags: splitTags(req.GetString("tags", "")),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(saved), nil
}

func (s *Server) getEventFormat(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(EventFormatContract), nil
}

func (s *Server) readEventFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      EventFormatURI,
			MIMEType: "text/markdown",
			Text:     EventFormatContract,
		},
	}, nil
}
