// Package tools exposes the entity store as MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/osmstore/pkg/core"
	"github.com/NERVsystems/osmstore/pkg/monitoring"
	"github.com/NERVsystems/osmstore/pkg/osm"
	"github.com/NERVsystems/osmstore/pkg/osmdoc"
	"github.com/NERVsystems/osmstore/pkg/store"
)

// InputParser decodes the request arguments into T.
func InputParser[T any](req mcp.CallToolRequest) (T, error) {
	var input T

	inputJSON, err := json.Marshal(req.GetArguments())
	if err != nil {
		return input, core.NewValidationError(core.ErrInvalidInput, fmt.Sprintf("invalid input format: %v", err))
	}
	if err := json.Unmarshal(inputJSON, &input); err != nil {
		return input, core.NewValidationError(core.ErrInvalidInput, fmt.Sprintf("failed to parse input: %v", err))
	}
	return input, nil
}

// WithParsedInput adapts a typed handler to an MCP handler. The handler's
// result is returned as JSON text; its error becomes a JSON error result.
func WithParsedInput[T any](
	handlerName string,
	handler func(ctx context.Context, input T, logger *slog.Logger) (any, error),
) func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		logger := slog.Default().With("tool", handlerName)

		input, err := InputParser[T](req)
		if err != nil {
			logger.Warn("failed to parse input", "error", err)
			return ErrorResult(err), nil
		}

		result, err := handler(ctx, input, logger)
		if err != nil {
			logger.Warn("handler error", "error", err)
			return ErrorResult(err), nil
		}

		return JSONResult(result), nil
	}
}

// JSONResult marshals v into a text result.
func JSONResult(v any) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return core.NewError(core.ErrInternalError, "failed to encode result").ToMCPResult()
	}
	return mcp.NewToolResultText(string(data))
}

// ErrorResult maps an error to a coded MCP error result.
func ErrorResult(err error) *mcp.CallToolResult {
	se := classify(err)
	monitoring.RecordError("tools", se.Code)
	return se.ToMCPResult()
}

func classify(err error) *core.StoreError {
	var (
		se *core.StoreError
		qe *osm.QueryError
		de *osm.DecodeError
	)
	switch {
	case errors.As(err, &se):
		return se
	case errors.As(err, &qe):
		return core.ServiceError("osm api", qe.StatusCode, qe.Body)
	case errors.As(err, &de), errors.Is(err, osmdoc.ErrNoRoot), errors.Is(err, store.ErrEmptyDocument):
		return core.NewError(core.ErrParseError, err.Error()).
			WithGuidance("The response was not an OSM XML document.")
	case errors.Is(err, context.DeadlineExceeded):
		return core.NewError(core.ErrServiceTimeout, err.Error()).
			WithGuidance("The load did not finish in time. Try a smaller area.")
	case errors.Is(err, context.Canceled):
		return core.NewError(core.ErrServiceUnavailable, err.Error())
	default:
		return core.NewError(core.ErrInternalError, err.Error())
	}
}
