// Package mcp exposes read-only operator tools over the Model Context
// Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"lira/internal/submission"
	"lira/pkg/models"
)

// WorkflowLister lists the configured workflows.
type WorkflowLister interface {
	All() []models.WorkflowConfig
}

// StatsSource reports submission cache statistics.
type StatsSource interface {
	Stats() submission.Stats
}

// HashComputer computes the dedup label of a bundle.
type HashComputer interface {
	Compute(ctx context.Context, workflowName, bundleUUID, bundleVersion string) (map[string]string, error)
}

type Server struct {
	mcpServer *server.MCPServer
	workflows WorkflowLister
	cache     StatsSource
	hasher    HashComputer
}

func NewServer(version string, workflows WorkflowLister, cache StatsSource, hasher HashComputer) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Lira",
			version,
			server.WithToolCapabilities(true),
		),
		workflows: workflows,
		cache:     cache,
		hasher:    hasher,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_workflows",
			mcp.WithDescription("List the workflows launched by data store subscriptions"),
		),
		s.handleListWorkflows,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"cache_stats",
			mcp.WithDescription("Report submission cache hits, misses and size"),
		),
		s.handleCacheStats,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"compute_hash_label",
			mcp.WithDescription("Compute the hash-id label a bundle would be submitted with"),
			mcp.WithString("workflow_name", mcp.Required(), mcp.Description("Adapter workflow name")),
			mcp.WithString("bundle_uuid", mcp.Required(), mcp.Description("Bundle uuid")),
			mcp.WithString("bundle_version", mcp.Required(), mcp.Description("Bundle version")),
		),
		s.handleComputeHashLabel,
	)
}

func (s *Server) handleListWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jsonBytes, _ := json.Marshal(s.workflows.All())
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleCacheStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jsonBytes, _ := json.Marshal(s.cache.Stats())
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleComputeHashLabel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	var values [3]string
	for i, name := range []string{"workflow_name", "bundle_uuid", "bundle_version"} {
		v, ok := args[name].(string)
		if !ok || v == "" {
			return mcp.NewToolResultError("Missing required parameter: " + name), nil
		}
		values[i] = v
	}

	label, err := s.hasher.Compute(ctx, values[0], values[1], values[2])
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to compute hash: %v", err)), nil
	}
	if label == nil {
		return mcp.NewToolResultError(fmt.Sprintf("Workflow %s has no hash label", values[0])), nil
	}

	jsonBytes, _ := json.Marshal(label)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// MountHTTPHandlers serves the SSE transport under /mcp. The query of the
// SSE request, including the auth token, is carried into the advertised
// message endpoint so that posts pass the same guard.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithAppendQueryToMessageEndpoint(),
	)

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
