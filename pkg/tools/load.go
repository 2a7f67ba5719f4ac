package tools

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/osmstore/pkg/core"
	"github.com/NERVsystems/osmstore/pkg/entity"
	"github.com/NERVsystems/osmstore/pkg/osm"
)

// LoadAreaTool returns a tool definition for loading a box from the API.
func LoadAreaTool() mcp.Tool {
	return mcp.NewTool("load_area",
		mcp.WithDescription("Download all OSM data inside a bounding box into the store"),
		mcp.WithNumber("min_lon", mcp.Required(), mcp.Description("Western edge in decimal degrees")),
		mcp.WithNumber("min_lat", mcp.Required(), mcp.Description("Southern edge in decimal degrees")),
		mcp.WithNumber("max_lon", mcp.Required(), mcp.Description("Eastern edge in decimal degrees")),
		mcp.WithNumber("max_lat", mcp.Required(), mcp.Description("Northern edge in decimal degrees")),
	)
}

// LoadURLTool returns a tool definition for loading an OSM XML document.
func LoadURLTool() mcp.Tool {
	return mcp.NewTool("load_url",
		mcp.WithDescription("Download an OSM XML document from a URL into the store"),
		mcp.WithString("url", mcp.Required(), mcp.Description("http or https URL of an OSM XML document")),
	)
}

type LoadAreaInput struct {
	MinLon *float64 `json:"min_lon"`
	MinLat *float64 `json:"min_lat"`
	MaxLon *float64 `json:"max_lon"`
	MaxLat *float64 `json:"max_lat"`
}

type LoadURLInput struct {
	URL string `json:"url"`
}

// LoadResult is returned by both load tools.
type LoadResult struct {
	URL      string       `json:"url"`
	Report   ReportView   `json:"report"`
	NewPOIs  []EntityView `json:"new_pois"`
	Duration string       `json:"duration"`
}

// HandleLoadArea validates the box and runs the map call for it.
func (w *Workspace) HandleLoadArea(ctx context.Context, input LoadAreaInput, logger *slog.Logger) (any, error) {
	if input.MinLon == nil || input.MinLat == nil || input.MaxLon == nil || input.MaxLat == nil {
		return nil, core.NewValidationError(core.ErrMissingParameter, "min_lon, min_lat, max_lon and max_lat are required")
	}
	b := entity.Bounds{
		Left:   *input.MinLon,
		Right:  *input.MaxLon,
		Top:    *input.MaxLat,
		Bottom: *input.MinLat,
	}
	if err := core.ValidateLoadBounds(b); err != nil {
		return nil, err
	}

	box := osm.ExtentOf(b)
	logger.Info("loading area", "bbox", b.String())
	return w.load(ctx, w.conn.Client().APIURL(box), func(ctx context.Context, cb osm.Callback) *osm.Load {
		return w.conn.LoadFromAPI(ctx, box, cb)
	})
}

// HandleLoadURL loads an arbitrary OSM XML document.
func (w *Workspace) HandleLoadURL(ctx context.Context, input LoadURLInput, logger *slog.Logger) (any, error) {
	if input.URL == "" {
		return nil, core.NewValidationError(core.ErrMissingParameter, "url is required")
	}
	u, err := url.Parse(input.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, core.NewValidationError(core.ErrInvalidInput, fmt.Sprintf("not an http(s) URL: %q", input.URL))
	}

	logger.Info("loading url", "url", input.URL)
	return w.load(ctx, input.URL, func(ctx context.Context, cb osm.Callback) *osm.Load {
		return w.conn.LoadFromURL(ctx, input.URL, cb)
	})
}

func (w *Workspace) load(ctx context.Context, target string, start func(context.Context, osm.Callback) *osm.Load) (*LoadResult, error) {
	ctx, cancel := context.WithTimeout(ctx, w.loadTimeout)
	defer cancel()

	began := time.Now()
	var pois []EntityView
	l := start(ctx, func(nodes []*entity.Node) {
		pois = []EntityView{}
		for _, n := range nodes {
			if w.store.IsPOI(n.ID) {
				pois = append(pois, viewOf(n))
			}
		}
	})

	rep, err := l.Wait(ctx)
	if err != nil {
		return nil, err
	}

	w.logger.Info("load complete",
		"url", target,
		"nodes", len(rep.Nodes),
		"ways", rep.Ways,
		"relations", rep.Relations,
		"skipped", len(rep.Skipped))

	return &LoadResult{
		URL:      target,
		Report:   reportView(rep),
		NewPOIs:  pois,
		Duration: time.Since(began).Round(time.Millisecond).String(),
	}, nil
}
