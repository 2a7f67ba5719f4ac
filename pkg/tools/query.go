package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/osmstore/pkg/coords"
	"github.com/NERVsystems/osmstore/pkg/core"
	"github.com/NERVsystems/osmstore/pkg/entity"
	"github.com/NERVsystems/osmstore/pkg/store"
)

// GetEntityTool returns a tool definition for looking up one entity.
func GetEntityTool() mcp.Tool {
	return mcp.NewTool("get_entity",
		mcp.WithDescription("Get a node, way or relation from the store"),
		mcp.WithString("type", mcp.Required(), mcp.Description("node, way or relation")),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Entity id; negative ids are local entities")),
	)
}

func ListPOIsTool() mcp.Tool {
	return mcp.NewTool("list_pois",
		mcp.WithDescription("List nodes that are not part of any way"),
		mcp.WithBoolean("recompute", mcp.Description("Rebuild the index from every node before listing")),
	)
}

func QueryBboxTool() mcp.Tool {
	return mcp.NewTool("query_bbox",
		mcp.WithDescription("List the nodes and ways inside a bounding box. A way is inside when any of its nodes is."),
		mcp.WithNumber("left", mcp.Required(), mcp.Description("Western edge")),
		mcp.WithNumber("right", mcp.Required(), mcp.Description("Eastern edge")),
		mcp.WithNumber("top", mcp.Required(), mcp.Description("Northern edge")),
		mcp.WithNumber("bottom", mcp.Required(), mcp.Description("Southern edge")),
	)
}

func ExportGeoJSONTool() mcp.Tool {
	return mcp.NewTool("export_geojson",
		mcp.WithDescription("Export POIs and ways as a GeoJSON FeatureCollection"),
		mcp.WithObject("bbox",
			mcp.Description("Optional box limiting the export, with number fields left, right, top and bottom. Example: {\"left\": 13.37, \"right\": 13.39, \"top\": 52.52, \"bottom\": 52.51}"),
		),
		mcp.WithBoolean("all_nodes", mcp.Description("Export every located node, not just POIs")),
	)
}

type GetEntityInput struct {
	Type string `json:"type"`
	ID   *int64 `json:"id"`
}

type EntityResult struct {
	Entity     EntityView `json:"entity"`
	MGRS       string     `json:"mgrs,omitempty"`
	ParentWays []int64    `json:"parent_ways,omitempty"`
	WayNodes   int        `json:"resolved_nodes,omitempty"`
}

type ListPOIsInput struct {
	Recompute bool `json:"recompute"`
}

type ListPOIsResult struct {
	Count int          `json:"count"`
	POIs  []EntityView `json:"pois"`
}

// BboxInput is a query box in decimal degrees.
type BboxInput struct {
	Left   *float64 `json:"left"`
	Right  *float64 `json:"right"`
	Top    *float64 `json:"top"`
	Bottom *float64 `json:"bottom"`
}

func (in BboxInput) bounds() (entity.Bounds, error) {
	if in.Left == nil || in.Right == nil || in.Top == nil || in.Bottom == nil {
		return entity.Bounds{}, core.NewValidationError(core.ErrMissingParameter, "left, right, top and bottom are required")
	}
	b := entity.Bounds{Left: *in.Left, Right: *in.Right, Top: *in.Top, Bottom: *in.Bottom}
	if err := core.ValidateBounds(b); err != nil {
		return entity.Bounds{}, err
	}
	return b, nil
}

type BboxResult struct {
	Inside       []EntityView `json:"inside"`
	OutsideCount int          `json:"outside_count"`
}

type ExportInput struct {
	Bbox     *BboxInput `json:"bbox"`
	AllNodes bool       `json:"all_nodes"`
}

// HandleGetEntity looks up one entity by kind and id.
func (w *Workspace) HandleGetEntity(ctx context.Context, input GetEntityInput, logger *slog.Logger) (any, error) {
	if input.ID == nil {
		return nil, core.NewValidationError(core.ErrMissingParameter, "id is required")
	}
	kind, err := entity.ParseKind(input.Type)
	if err != nil {
		return nil, core.NewValidationError(core.ErrInvalidKind, err.Error())
	}

	ref := entity.Ref{Kind: kind, ID: *input.ID}
	e, ok := w.store.Get(ref)
	if !ok {
		return nil, core.NewError(core.ErrNotFound, fmt.Sprintf("%s is not in the store", ref)).
			WithRef(ref.String()).
			WithGuidance("Load the area containing it first")
	}

	res := EntityResult{Entity: viewOf(e)}
	switch v := e.(type) {
	case *entity.Node:
		res.ParentWays = w.store.ParentWays(v.ID)
		if v.HasLocation() {
			res.MGRS, _ = coords.MGRS(v.Lat, v.Lon)
		}
	case *entity.Way:
		res.WayNodes = len(w.store.WayNodes(v))
	}
	return res, nil
}

// HandleListPOIs lists the POI index.
func (w *Workspace) HandleListPOIs(ctx context.Context, input ListPOIsInput, logger *slog.Logger) (any, error) {
	if input.Recompute {
		logger.Debug("recomputing poi index")
		w.store.RecomputePOIs()
	}
	pois := w.store.POIs()
	return ListPOIsResult{Count: len(pois), POIs: nodeViews(pois)}, nil
}

// HandleQueryBbox splits the store by a box.
func (w *Workspace) HandleQueryBbox(ctx context.Context, input BboxInput, logger *slog.Logger) (any, error) {
	b, err := input.bounds()
	if err != nil {
		return nil, err
	}
	res := w.store.ObjectsByBbox(b.Left, b.Right, b.Top, b.Bottom)
	return BboxResult{Inside: viewsOf(res.Inside), OutsideCount: len(res.Outside)}, nil
}

// HandleExportGeoJSON renders the store as GeoJSON.
func (w *Workspace) HandleExportGeoJSON(ctx context.Context, input ExportInput, logger *slog.Logger) (any, error) {
	opts := store.ExportOptions{AllNodes: input.AllNodes}
	if input.Bbox != nil {
		b, err := input.Bbox.bounds()
		if err != nil {
			return nil, err
		}
		opts.Bounds = &b
	}
	fc := w.store.FeatureCollection(opts)
	logger.Debug("exported geojson", "features", len(fc.Features))
	return fc, nil
}
