package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/osmstore/pkg/monitoring"
	"github.com/NERVsystems/osmstore/pkg/tracing"
)

// Registry contains all tool definitions and handlers
type Registry struct {
	logger *slog.Logger
	ws     *Workspace
}

// NewRegistry creates a registry whose tools operate on ws.
func NewRegistry(logger *slog.Logger, ws *Workspace) *Registry {
	return &Registry{
		logger: logger,
		ws:     ws,
	}
}

// ToolDefinition represents an MCP tool definition.
type ToolDefinition struct {
	Name        string
	Description string
	Tool        mcp.Tool
	Handler     func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// GetToolDefinitions returns the list of all available tools.
func (r *Registry) GetToolDefinitions() []ToolDefinition {
	ws := r.ws
	defs := []ToolDefinition{
		{
			Name:        "get_version",
			Description: "Get the version information for this service",
			Tool:        GetVersionTool(),
			Handler:     HandleGetVersion,
		},

		// Loading
		{
			Name:        "load_area",
			Description: "Load a bounding box from the OSM API. Parameters: min_lon, min_lat, max_lon, max_lat (numbers)",
			Tool:        LoadAreaTool(),
			Handler:     WithParsedInput("load_area", ws.HandleLoadArea),
		},
		{
			Name:        "load_url",
			Description: "Load an OSM XML document. Parameters: url (string)",
			Tool:        LoadURLTool(),
			Handler:     WithParsedInput("load_url", ws.HandleLoadURL),
		},

		// Queries
		{
			Name:        "get_entity",
			Description: "Get an entity. Parameters: type (string: node, way, relation), id (number)",
			Tool:        GetEntityTool(),
			Handler:     WithParsedInput("get_entity", ws.HandleGetEntity),
		},
		{
			Name:        "list_pois",
			Description: "List nodes that belong to no way. Parameters: recompute (boolean, optional)",
			Tool:        ListPOIsTool(),
			Handler:     WithParsedInput("list_pois", ws.HandleListPOIs),
		},
		{
			Name:        "query_bbox",
			Description: "List nodes and ways inside a box. Parameters: left, right, top, bottom (numbers)",
			Tool:        QueryBboxTool(),
			Handler:     WithParsedInput("query_bbox", ws.HandleQueryBbox),
		},
		{
			Name:        "export_geojson",
			Description: "Export the store as GeoJSON. Parameters: bbox (object, optional), all_nodes (boolean, optional)",
			Tool:        ExportGeoJSONTool(),
			Handler:     WithParsedInput("export_geojson", ws.HandleExportGeoJSON),
		},

		// Editing
		{
			Name:        "create_node",
			Description: "Create a local node. Parameters: latitude, longitude (numbers), tags (object)",
			Tool:        CreateNodeTool(),
			Handler:     WithParsedInput("create_node", ws.HandleCreateNode),
		},
		{
			Name:        "create_way",
			Description: "Create a local way. Parameters: nodes (array of ids), tags (object)",
			Tool:        CreateWayTool(),
			Handler:     WithParsedInput("create_way", ws.HandleCreateWay),
		},
		{
			Name:        "create_relation",
			Description: "Create a local relation. Parameters: members (array of {type, ref, role}), tags (object)",
			Tool:        CreateRelationTool(),
			Handler:     WithParsedInput("create_relation", ws.HandleCreateRelation),
		},
		{
			Name:        "undo",
			Description: "Undo the last edit",
			Tool:        UndoTool(),
			Handler:     WithParsedInput("undo", ws.HandleUndo),
		},
		{
			Name:        "redo",
			Description: "Redo the last undone edit",
			Tool:        RedoTool(),
			Handler:     WithParsedInput("redo", ws.HandleRedo),
		},
		{
			Name:        "register_poi",
			Description: "Add a node to the POI index. Parameters: id (number)",
			Tool:        RegisterPOITool(),
			Handler:     WithParsedInput("register_poi", ws.HandleRegisterPOI),
		},
		{
			Name:        "unregister_poi",
			Description: "Remove a node from the POI index. Parameters: id (number)",
			Tool:        UnregisterPOITool(),
			Handler:     WithParsedInput("unregister_poi", ws.HandleUnregisterPOI),
		},
	}

	return defs
}

// RegisterTools registers all tools with the MCP server.
func (r *Registry) RegisterTools(mcpServer *server.MCPServer) {
	for _, def := range r.GetToolDefinitions() {
		r.logger.Info("registering tool", "name", def.Name)
		mcpServer.AddTool(def.Tool, r.wrapWithTracing(def.Name, def.Handler))
	}
}

// wrapWithTracing wraps a tool handler with a span and the request metric.
func (r *Registry) wrapWithTracing(toolName string, handler func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)) func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		spanName := fmt.Sprintf("mcp.tool.%s", toolName)
		ctx, span := tracing.StartSpan(ctx, spanName,
			trace.WithAttributes(
				attribute.String(tracing.AttrMCPToolName, toolName),
			),
		)
		defer span.End()

		startTime := time.Now()
		result, err := handler(ctx, req)
		duration := time.Since(startTime)

		// Tool errors come back as results, not as err.
		failed := err != nil || (result != nil && result.IsError)
		status := tracing.StatusSuccess
		switch {
		case err != nil:
			status = tracing.StatusError
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		case failed:
			status = tracing.StatusError
			span.SetStatus(codes.Error, "tool returned an error result")
		default:
			span.SetStatus(codes.Ok, "")
		}
		monitoring.RecordMCPRequest(toolName, duration, !failed)

		resultSize := 0
		if result != nil && result.Content != nil {
			if data, marshalErr := json.Marshal(result.Content); marshalErr == nil {
				resultSize = len(data)
			}
		}

		span.SetAttributes(
			attribute.String(tracing.AttrMCPToolStatus, status),
			attribute.Int64(tracing.AttrMCPToolDuration, duration.Milliseconds()),
			attribute.Int(tracing.AttrMCPResultSize, resultSize),
		)

		r.logger.Debug("tool execution traced",
			"tool", toolName,
			"duration_ms", duration.Milliseconds(),
			"status", status,
			"result_size", resultSize,
		)

		return result, err
	}
}

// GetToolNames returns a list of all tool names.
func (r *Registry) GetToolNames() []string {
	defs := r.GetToolDefinitions()
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	return names
}

// RegisterAll registers all tools with the MCP server.
func (r *Registry) RegisterAll(mcpServer *server.MCPServer) {
	r.RegisterTools(mcpServer)
}
