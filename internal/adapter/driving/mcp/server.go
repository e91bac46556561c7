// Package mcp exposes the review gateway as Model Context Protocol tools over
// stdio, so an assistant can request a review and poll for its outcome.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ericfisherdev/prreviewer/internal/application"
	"github.com/ericfisherdev/prreviewer/internal/domain/model"
)

// Server wraps the gateway and exposes it as MCP tools.
type Server struct {
	gateway *application.Gateway
	version string
}

// NewServer creates the MCP server wrapper.
func NewServer(gateway *application.Gateway, version string) *Server {
	return &Server{gateway: gateway, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("prreviewer", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.startReviewTool())
	srv.AddTool(s.reviewStatusTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve runs the stdio protocol over the given streams.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdioServer := server.NewStdioServer(s.MCPServer())
	return stdioServer.Listen(ctx, in, out)
}

// start_review
func (s *Server) startReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("start_review",
		mcp.WithDescription("Start an AI review of a GitHub pull request. Returns the execution id to poll with get_review_status."),
		mcp.WithString("repository", mcp.Required(), mcp.Description("Repository name without the owner")),
		mcp.WithString("owner", mcp.Required(), mcp.Description("Repository owner or organization")),
		mcp.WithNumber("pull_request_number", mcp.Required(), mcp.Description("Pull request number")),
		mcp.WithString("branch", mcp.Description("Head branch, informational only")),
	)
	return tool, s.handleStartReview
}

func (s *Server) handleStartReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	// Round-trip through JSON so pull_request_number is parsed the same way
	// as on the HTTP endpoint.
	raw, err := json.Marshal(request.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	var req model.ReviewRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp, err := s.gateway.StartReview(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start review: %v", err)), nil
	}
	return jsonResult(resp)
}

// get_review_status
func (s *Server) reviewStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("get_review_status",
		mcp.WithDescription("Get the status of a review execution. Output carries the posting result and per-file reviews once the status is SUCCEEDED."),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("Execution id returned by start_review")),
	)
	return tool, s.handleReviewStatus
}

func (s *Server) handleReviewStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: execution_id"), nil
	}

	report, err := s.gateway.GetStatus(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get status: %v", err)), nil
	}
	return jsonResult(report)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
