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

func CreateNodeTool() mcp.Tool {
	return mcp.NewTool("create_node",
		mcp.WithDescription("Create a local node. It gets the next negative id and can be undone. Give either latitude and longitude or position."),
		mcp.WithNumber("latitude", mcp.Description("Latitude in decimal degrees")),
		mcp.WithNumber("longitude", mcp.Description("Longitude in decimal degrees")),
		mcp.WithString("position", mcp.Description("Position as \"lat, lon\", degrees-minutes-seconds or MGRS, e.g. \"30UXC9922609814\"")),
		mcp.WithObject("tags", mcp.Description("String key/value tags, e.g. {\"amenity\": \"cafe\"}")),
	)
}

func CreateWayTool() mcp.Tool {
	return mcp.NewTool("create_way",
		mcp.WithDescription("Create a local way over nodes already in the store"),
		mcp.WithArray("nodes", mcp.Required(), mcp.Description("Ordered node ids, at least two")),
		mcp.WithObject("tags", mcp.Description("String key/value tags, e.g. {\"highway\": \"footway\"}")),
	)
}

func CreateRelationTool() mcp.Tool {
	return mcp.NewTool("create_relation",
		mcp.WithDescription("Create a local relation. Members need not be loaded."),
		mcp.WithArray("members",
			mcp.Required(),
			mcp.Description("Members as objects with type (node, way or relation), ref (id) and role. Example: [{\"type\": \"way\", \"ref\": 12, \"role\": \"outer\"}]"),
		),
		mcp.WithObject("tags", mcp.Description("String key/value tags, e.g. {\"type\": \"multipolygon\"}")),
	)
}

func UndoTool() mcp.Tool {
	return mcp.NewTool("undo",
		mcp.WithDescription("Undo the most recent local edit"),
	)
}

func RedoTool() mcp.Tool {
	return mcp.NewTool("redo",
		mcp.WithDescription("Redo the most recently undone edit"),
	)
}

func RegisterPOITool() mcp.Tool {
	return mcp.NewTool("register_poi",
		mcp.WithDescription("Add a node to the POI index"),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Node id")),
	)
}

func UnregisterPOITool() mcp.Tool {
	return mcp.NewTool("unregister_poi",
		mcp.WithDescription("Remove a node from the POI index"),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Node id")),
	)
}

type CreateNodeInput struct {
	Latitude  *float64          `json:"latitude"`
	Longitude *float64          `json:"longitude"`
	Position  string            `json:"position"`
	Tags      map[string]string `json:"tags"`
}

type CreateWayInput struct {
	Nodes []int64           `json:"nodes"`
	Tags  map[string]string `json:"tags"`
}

type MemberInput struct {
	Type string `json:"type"`
	Ref  int64  `json:"ref"`
	Role string `json:"role"`
}

type CreateRelationInput struct {
	Members []MemberInput     `json:"members"`
	Tags    map[string]string `json:"tags"`
}

type NoInput struct{}

type POIInput struct {
	ID *int64 `json:"id"`
}

// EditResult describes the outcome of an edit.
type EditResult struct {
	Action  string      `json:"action"`
	Entity  *EntityView `json:"entity,omitempty"`
	CanUndo bool        `json:"can_undo"`
	CanRedo bool        `json:"can_redo"`
}

type POIResult struct {
	ID  int64 `json:"id"`
	POI bool  `json:"poi"`
}

func (w *Workspace) edited(action string, e entity.Entity) EditResult {
	res := EditResult{
		Action:  action,
		CanUndo: w.history.CanUndo(),
		CanRedo: w.history.CanRedo(),
	}
	if e != nil {
		v := viewOf(e)
		res.Entity = &v
	}
	return res
}

// HandleCreateNode creates a local node and records it for undo.
func (w *Workspace) HandleCreateNode(ctx context.Context, input CreateNodeInput, logger *slog.Logger) (any, error) {
	lat, lon, err := nodePosition(input)
	if err != nil {
		return nil, err
	}

	n := w.store.DoCreateNode(entity.Tags(input.Tags), lat, lon, w.history.Perform)
	logger.Info("created node", "ref", n.Ref().String())
	return w.edited("create "+n.Ref().String(), n), nil
}

func nodePosition(input CreateNodeInput) (lat, lon float64, err error) {
	switch {
	case input.Latitude != nil && input.Longitude != nil:
		lat, lon = *input.Latitude, *input.Longitude
		if err := core.ValidateCoords(lat, lon); err != nil {
			return 0, 0, err
		}
		return lat, lon, nil
	case input.Position != "":
		p, err := coords.Parse(input.Position)
		if err != nil {
			return 0, 0, err
		}
		return p.Lat, p.Lon, nil
	default:
		return 0, 0, core.NewValidationError(core.ErrMissingParameter, "latitude and longitude, or position, are required")
	}
}

// HandleCreateWay creates a local way. Every node must be registered; the
// creation takes the nodes out of the POI index.
func (w *Workspace) HandleCreateWay(ctx context.Context, input CreateWayInput, logger *slog.Logger) (any, error) {
	if len(input.Nodes) < 2 {
		return nil, core.NewValidationError(core.ErrInvalidInput, "a way needs at least two nodes")
	}
	for _, id := range input.Nodes {
		if _, ok := w.store.Node(id); !ok {
			ref := entity.Ref{Kind: entity.KindNode, ID: id}
			return nil, core.NewError(core.ErrNotFound, fmt.Sprintf("%s is not in the store", ref)).
				WithRef(ref.String())
		}
	}

	way := w.store.DoCreateWay(entity.Tags(input.Tags), input.Nodes, w.history.Perform)
	logger.Info("created way", "ref", way.Ref().String(), "nodes", len(way.NodeIDs))
	return w.edited("create "+way.Ref().String(), way), nil
}

// HandleCreateRelation creates a local relation.
func (w *Workspace) HandleCreateRelation(ctx context.Context, input CreateRelationInput, logger *slog.Logger) (any, error) {
	if len(input.Members) == 0 {
		return nil, core.NewValidationError(core.ErrMissingParameter, "members is required")
	}
	members := make([]entity.Member, len(input.Members))
	for i, m := range input.Members {
		kind, err := entity.ParseKind(m.Type)
		if err != nil {
			return nil, core.NewValidationError(core.ErrInvalidKind, fmt.Sprintf("member %d: %v", i, err))
		}
		members[i] = entity.Member{Ref: entity.Ref{Kind: kind, ID: m.Ref}, Role: m.Role}
	}

	rel := w.store.DoCreateRelation(entity.Tags(input.Tags), members, w.history.Perform)
	logger.Info("created relation", "ref", rel.Ref().String(), "members", len(members))
	return w.edited("create "+rel.Ref().String(), rel), nil
}

// HandleUndo reverts the last edit.
func (w *Workspace) HandleUndo(ctx context.Context, input NoInput, logger *slog.Logger) (any, error) {
	a := w.history.Undo()
	if a == nil {
		return nil, core.NewError(core.ErrNoHistory, "nothing to undo")
	}
	logger.Info("undone", "action", a.Name())
	return w.edited("undo "+a.Name(), actionEntity(a)), nil
}

// HandleRedo re-applies the last undone edit.
func (w *Workspace) HandleRedo(ctx context.Context, input NoInput, logger *slog.Logger) (any, error) {
	a := w.history.Redo()
	if a == nil {
		return nil, core.NewError(core.ErrNoHistory, "nothing to redo")
	}
	logger.Info("redone", "action", a.Name())
	return w.edited("redo "+a.Name(), actionEntity(a)), nil
}

func actionEntity(a store.Action) entity.Entity {
	if c, ok := a.(*store.CreateEntityAction); ok {
		return c.Entity()
	}
	return nil
}

func (w *Workspace) poiNode(input POIInput) (*entity.Node, error) {
	if input.ID == nil {
		return nil, core.NewValidationError(core.ErrMissingParameter, "id is required")
	}
	n, ok := w.store.Node(*input.ID)
	if !ok {
		ref := entity.Ref{Kind: entity.KindNode, ID: *input.ID}
		return nil, core.NewError(core.ErrNotFound, fmt.Sprintf("%s is not in the store", ref)).
			WithRef(ref.String())
	}
	return n, nil
}

// HandleRegisterPOI adds a node to the POI index.
func (w *Workspace) HandleRegisterPOI(ctx context.Context, input POIInput, logger *slog.Logger) (any, error) {
	n, err := w.poiNode(input)
	if err != nil {
		return nil, err
	}
	w.store.RegisterPOI(n)
	return POIResult{ID: n.ID, POI: w.store.IsPOI(n.ID)}, nil
}

// HandleUnregisterPOI removes a node from the POI index.
func (w *Workspace) HandleUnregisterPOI(ctx context.Context, input POIInput, logger *slog.Logger) (any, error) {
	n, err := w.poiNode(input)
	if err != nil {
		return nil, err
	}
	w.store.UnregisterPOI(n)
	return POIResult{ID: n.ID, POI: w.store.IsPOI(n.ID)}, nil
}
