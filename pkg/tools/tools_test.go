package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/osmstore/pkg/core"
	"github.com/NERVsystems/osmstore/pkg/osm"
	"github.com/NERVsystems/osmstore/pkg/store"
)

const sampleXML = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6">
  <node id="1" lat="51.50" lon="-0.12"><tag k="amenity" v="cafe"/></node>
  <node id="2" lat="51.51" lon="-0.11"/>
  <node id="3" lat="51.52" lon="-0.10"/>
  <way id="10"><nd ref="2"/><nd ref="3"/><tag k="highway" v="footway"/></way>
  <relation id="20"><member type="way" ref="10" role="outer"/><member type="node" ref="99" role=""/></relation>
</osm>`

func newTestWorkspace(t *testing.T, handler http.HandlerFunc) *Workspace {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := osm.NewClient(
		osm.WithBaseURL(srv.URL),
		osm.WithHTTPClient(srv.Client()),
		osm.WithRateLimit(0, 0),
		osm.WithRetry(core.RetryOptions{MaxAttempts: 1}),
	)
	return NewWorkspace(osm.NewConnection(client, store.New(), nil))
}

func serveXML(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprint(w, body)
	}
}

func newRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatal("empty result")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", result.Content[0])
	}
	return text.Text
}

// call runs the named tool and decodes a successful result into out.
func call(t *testing.T, r *Registry, name string, args map[string]any, out any) {
	t.Helper()
	result := callRaw(t, r, name, args)
	if result.IsError {
		t.Fatalf("%s failed: %s", name, resultText(t, result))
	}
	if out != nil {
		if err := json.Unmarshal([]byte(resultText(t, result)), out); err != nil {
			t.Fatalf("decoding %s result: %v", name, err)
		}
	}
}

func callRaw(t *testing.T, r *Registry, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	for _, def := range r.GetToolDefinitions() {
		if def.Name != name {
			continue
		}
		result, err := r.wrapWithTracing(def.Name, def.Handler)(context.Background(), newRequest(name, args))
		if err != nil {
			t.Fatalf("%s returned error: %v", name, err)
		}
		return result
	}
	t.Fatalf("no tool named %s", name)
	return nil
}

// errorCode runs the tool, expects an error result and returns its code.
func errorCode(t *testing.T, r *Registry, name string, args map[string]any) string {
	t.Helper()
	result := callRaw(t, r, name, args)
	if !result.IsError {
		t.Fatalf("%s succeeded, expected an error: %s", name, resultText(t, result))
	}
	var se core.StoreError
	if err := json.Unmarshal([]byte(resultText(t, result)), &se); err != nil {
		t.Fatalf("error result is not JSON: %v", err)
	}
	return se.Code
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var smallBox = map[string]any{"min_lon": -0.2, "min_lat": 51.4, "max_lon": 0.1, "max_lat": 51.6}

func testRegistry(t *testing.T, handler http.HandlerFunc) *Registry {
	return NewRegistry(discardLogger(), newTestWorkspace(t, handler))
}

func TestToolNames(t *testing.T) {
	r := testRegistry(t, serveXML(sampleXML))
	names := r.GetToolNames()

	expected := []string{
		"get_version", "load_area", "load_url", "get_entity", "list_pois",
		"query_bbox", "export_geojson", "create_node", "create_way",
		"create_relation", "undo", "redo", "register_poi", "unregister_poi",
	}
	if len(names) != len(expected) {
		t.Fatalf("got %d tools, expected %d", len(names), len(expected))
	}
	for i, name := range expected {
		if names[i] != name {
			t.Errorf("tool %d = %s, expected %s", i, names[i], name)
		}
		if def := r.GetToolDefinitions()[i]; def.Tool.Name != name {
			t.Errorf("tool definition %s has name %s", name, def.Tool.Name)
		}
	}
}

func TestGetVersion(t *testing.T) {
	r := testRegistry(t, serveXML(sampleXML))

	var info map[string]string
	call(t, r, "get_version", nil, &info)
	if info["version"] == "" {
		t.Error("version missing")
	}
}

func TestLoadArea(t *testing.T) {
	var query string
	r := testRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		query = req.URL.RawQuery
		fmt.Fprint(w, sampleXML)
	})

	var res LoadResult
	call(t, r, "load_area", map[string]any{
		"min_lon": -0.2, "min_lat": 51.4, "max_lon": 0.1, "max_lat": 51.6,
	}, &res)

	if query != "map?bbox=-0.2,51.4,0.1,51.6" {
		t.Errorf("query = %s", query)
	}
	if res.Report.Nodes != 3 || res.Report.Ways != 1 || res.Report.Relations != 1 {
		t.Errorf("report = %+v", res.Report)
	}
	if res.Report.Placeholders != 1 {
		t.Errorf("placeholders = %d, expected 1", res.Report.Placeholders)
	}
	if len(res.NewPOIs) != 1 || res.NewPOIs[0].ID != 1 {
		t.Errorf("new pois = %+v, expected node 1", res.NewPOIs)
	}
}

func TestLoadAreaValidation(t *testing.T) {
	r := testRegistry(t, serveXML(sampleXML))

	tests := []struct {
		name string
		args map[string]any
		code string
	}{
		{
			name: "missing edge",
			args: map[string]any{"min_lon": 0.0, "min_lat": 0.0, "max_lon": 0.1},
			code: string(core.ErrMissingParameter),
		},
		{
			name: "inverted",
			args: map[string]any{"min_lon": 0.1, "min_lat": 0.0, "max_lon": 0.0, "max_lat": 0.1},
			code: string(core.ErrInvalidBbox),
		},
		{
			name: "too large",
			args: map[string]any{"min_lon": 0.0, "min_lat": 0.0, "max_lon": 1.0, "max_lat": 1.0},
			code: string(core.ErrInvalidBbox),
		},
		{
			name: "wrong type",
			args: map[string]any{"min_lon": "west", "min_lat": 0.0, "max_lon": 0.1, "max_lat": 0.1},
			code: string(core.ErrInvalidInput),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := errorCode(t, r, "load_area", tt.args); code != tt.code {
				t.Errorf("code = %s, expected %s", code, tt.code)
			}
		})
	}
}

func TestLoadURLErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		url     func(base string) string
		code    string
	}{
		{
			name:    "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) { http.Error(w, "slow down", http.StatusTooManyRequests) },
			code:    string(core.ErrRateLimit),
		},
		{
			name:    "server error",
			handler: func(w http.ResponseWriter, r *http.Request) { http.Error(w, "boom", http.StatusInternalServerError) },
			code:    string(core.ErrServiceUnavailable),
		},
		{
			name:    "not xml",
			handler: serveXML("plain text"),
			code:    string(core.ErrParseError),
		},
		{
			name:    "bad scheme",
			handler: serveXML(sampleXML),
			url:     func(string) string { return "ftp://example.org/map.osm" },
			code:    string(core.ErrInvalidInput),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			client := osm.NewClient(
				osm.WithHTTPClient(srv.Client()),
				osm.WithRateLimit(0, 0),
				osm.WithRetry(core.RetryOptions{MaxAttempts: 1}),
			)
			r := NewRegistry(discardLogger(), NewWorkspace(osm.NewConnection(client, store.New(), nil)))

			target := srv.URL + "/map.osm"
			if tt.url != nil {
				target = tt.url(srv.URL)
			}
			if code := errorCode(t, r, "load_url", map[string]any{"url": target}); code != tt.code {
				t.Errorf("code = %s, expected %s", code, tt.code)
			}
		})
	}
}

func TestGetEntity(t *testing.T) {
	r := testRegistry(t, serveXML(sampleXML))
	call(t, r, "load_area", smallBox, nil)

	var node EntityResult
	call(t, r, "get_entity", map[string]any{"type": "node", "id": 2}, &node)
	if node.Entity.Lat == nil || *node.Entity.Lat != 51.51 {
		t.Errorf("node 2 lat = %v", node.Entity.Lat)
	}
	if node.MGRS == "" {
		t.Error("expected an MGRS reference for a located node")
	}
	if len(node.ParentWays) != 1 || node.ParentWays[0] != 10 {
		t.Errorf("parent ways = %v, expected [10]", node.ParentWays)
	}

	var way EntityResult
	call(t, r, "get_entity", map[string]any{"type": "way", "id": 10}, &way)
	if way.WayNodes != 2 || way.Entity.Tags["highway"] != "footway" {
		t.Errorf("way = %+v", way)
	}

	// Member node 99 was never loaded and is a placeholder without location.
	var placeholder EntityResult
	call(t, r, "get_entity", map[string]any{"type": "node", "id": 99}, &placeholder)
	if placeholder.Entity.Lat != nil {
		t.Errorf("placeholder has a location: %v", *placeholder.Entity.Lat)
	}
	if placeholder.MGRS != "" {
		t.Errorf("placeholder has an MGRS reference: %s", placeholder.MGRS)
	}

	var rel EntityResult
	call(t, r, "get_entity", map[string]any{"type": "relation", "id": 20}, &rel)
	if len(rel.Entity.Members) != 2 || rel.Entity.Members[0].Role != "outer" {
		t.Errorf("relation members = %+v", rel.Entity.Members)
	}

	if code := errorCode(t, r, "get_entity", map[string]any{"type": "way", "id": 11}); code != string(core.ErrNotFound) {
		t.Errorf("missing way code = %s", code)
	}
	if code := errorCode(t, r, "get_entity", map[string]any{"type": "area", "id": 1}); code != string(core.ErrInvalidKind) {
		t.Errorf("bad kind code = %s", code)
	}
}

func TestQueryBbox(t *testing.T) {
	r := testRegistry(t, serveXML(sampleXML))
	call(t, r, "load_area", smallBox, nil)

	var res BboxResult
	call(t, r, "query_bbox", map[string]any{
		"left": -0.115, "right": -0.105, "top": 51.515, "bottom": 51.505,
	}, &res)

	// node 2 and way 10 through it; nodes 1, 3 and placeholder 99 stay out.
	if len(res.Inside) != 2 {
		t.Fatalf("inside = %+v", res.Inside)
	}
	if res.Inside[0].Type != "node" || res.Inside[0].ID != 2 {
		t.Errorf("inside[0] = %+v", res.Inside[0])
	}
	if res.Inside[1].Type != "way" || res.Inside[1].ID != 10 {
		t.Errorf("inside[1] = %+v", res.Inside[1])
	}
	if res.OutsideCount != 3 {
		t.Errorf("outside = %d, expected 3", res.OutsideCount)
	}

	code := errorCode(t, r, "query_bbox", map[string]any{"left": 1.0, "right": 0.0, "top": 1.0, "bottom": 0.0})
	if code != string(core.ErrInvalidBbox) {
		t.Errorf("inverted box code = %s", code)
	}
}

func TestCreateUndoRedo(t *testing.T) {
	r := testRegistry(t, serveXML(sampleXML))

	var first, second EditResult
	call(t, r, "create_node", map[string]any{
		"latitude": 1.0, "longitude": 2.0, "tags": map[string]any{"amenity": "bench"},
	}, &first)
	call(t, r, "create_node", map[string]any{"latitude": 1.5, "longitude": 2.5}, &second)

	if first.Entity.ID != -1 || second.Entity.ID != -2 {
		t.Fatalf("ids = %d, %d, expected -1, -2", first.Entity.ID, second.Entity.ID)
	}
	if !first.Entity.Local || first.Entity.Tags["amenity"] != "bench" {
		t.Errorf("first node = %+v", first.Entity)
	}

	var pois ListPOIsResult
	call(t, r, "list_pois", nil, &pois)
	if pois.Count != 2 {
		t.Errorf("pois = %d, expected 2", pois.Count)
	}

	var way EditResult
	call(t, r, "create_way", map[string]any{"nodes": []any{-1, -2}}, &way)
	if way.Entity.ID != -1 || way.Entity.Type != "way" {
		t.Fatalf("way = %+v", way.Entity)
	}
	call(t, r, "list_pois", nil, &pois)
	if pois.Count != 0 {
		t.Errorf("pois after way = %d, expected 0", pois.Count)
	}

	var undone EditResult
	call(t, r, "undo", nil, &undone)
	if undone.Action != "undo create way/-1" || !undone.CanRedo {
		t.Errorf("undo = %+v", undone)
	}
	if code := errorCode(t, r, "get_entity", map[string]any{"type": "way", "id": -1}); code != string(core.ErrNotFound) {
		t.Errorf("undone way code = %s", code)
	}

	call(t, r, "list_pois", nil, &pois)
	if pois.Count != 2 {
		t.Errorf("pois after undoing the way = %d, expected 2", pois.Count)
	}

	call(t, r, "redo", nil, nil)
	call(t, r, "get_entity", map[string]any{"type": "way", "id": -1}, nil)
	call(t, r, "list_pois", nil, &pois)
	if pois.Count != 0 {
		t.Errorf("pois after redoing the way = %d, expected 0", pois.Count)
	}

	// Counters keep going after undo.
	call(t, r, "undo", nil, nil)
	call(t, r, "create_way", map[string]any{"nodes": []any{-2, -1}}, &way)
	if way.Entity.ID != -2 {
		t.Errorf("way id after undo = %d, expected -2", way.Entity.ID)
	}
	if code := errorCode(t, r, "redo", nil); code != string(core.ErrNoHistory) {
		t.Errorf("redo after new edit code = %s", code)
	}

	for range 3 {
		call(t, r, "undo", nil, nil)
	}
	if code := errorCode(t, r, "undo", nil); code != string(core.ErrNoHistory) {
		t.Errorf("empty undo code = %s", code)
	}

	// Redoing the first node puts it back in the index.
	call(t, r, "redo", nil, nil)
	call(t, r, "list_pois", nil, &pois)
	if pois.Count != 1 || pois.POIs[0].ID != -1 {
		t.Errorf("pois after redoing node -1 = %+v", pois)
	}
}

func TestCreateValidation(t *testing.T) {
	r := testRegistry(t, serveXML(sampleXML))

	tests := []struct {
		tool string
		args map[string]any
		code string
	}{
		{"create_node", map[string]any{"latitude": 91.0, "longitude": 0.0}, string(core.ErrInvalidCoordinates)},
		{"create_node", map[string]any{"latitude": 1.0}, string(core.ErrMissingParameter)},
		{"create_node", map[string]any{"position": "somewhere"}, string(core.ErrInvalidCoordinates)},
		{"create_way", map[string]any{"nodes": []any{1}}, string(core.ErrInvalidInput)},
		{"create_way", map[string]any{"nodes": []any{1, 2}}, string(core.ErrNotFound)},
		{"create_relation", map[string]any{}, string(core.ErrMissingParameter)},
		{"create_relation", map[string]any{"members": []any{
			map[string]any{"type": "area", "ref": 1, "role": ""},
		}}, string(core.ErrInvalidKind)},
	}

	for _, tt := range tests {
		t.Run(tt.tool+"/"+tt.code, func(t *testing.T) {
			if code := errorCode(t, r, tt.tool, tt.args); code != tt.code {
				t.Errorf("code = %s, expected %s", code, tt.code)
			}
		})
	}

	// Failed creations must not consume ids.
	var node EditResult
	call(t, r, "create_node", map[string]any{"latitude": 0.0, "longitude": 0.0}, &node)
	if node.Entity.ID != -1 {
		t.Errorf("id = %d, expected -1", node.Entity.ID)
	}
}

func TestCreateNodeFromPosition(t *testing.T) {
	r := testRegistry(t, serveXML(sampleXML))

	var res EditResult
	call(t, r, "create_node", map[string]any{
		"position": `51°30'02"N 0°07'28"W`,
		"tags":     map[string]any{"name": "Big Ben"},
	}, &res)
	if res.Entity == nil || res.Entity.Lat == nil || res.Entity.Lon == nil {
		t.Fatalf("created entity = %+v", res.Entity)
	}
	if lat := *res.Entity.Lat; lat < 51.5005 || lat > 51.5006 {
		t.Errorf("lat = %f", lat)
	}
	if lon := *res.Entity.Lon; lon > -0.1244 || lon < -0.1245 {
		t.Errorf("lon = %f", lon)
	}

	// Explicit coordinates win over position.
	call(t, r, "create_node", map[string]any{
		"latitude": 1.0, "longitude": 2.0, "position": "nonsense",
	}, &res)
	if *res.Entity.Lat != 1.0 || *res.Entity.Lon != 2.0 {
		t.Errorf("created at %f,%f", *res.Entity.Lat, *res.Entity.Lon)
	}
}

func TestCreateRelation(t *testing.T) {
	r := testRegistry(t, serveXML(sampleXML))

	var rel EditResult
	call(t, r, "create_relation", map[string]any{
		"members": []any{
			map[string]any{"type": "way", "ref": 500, "role": "outer"},
			map[string]any{"type": "node", "ref": -7, "role": "label"},
		},
		"tags": map[string]any{"type": "multipolygon"},
	}, &rel)

	if rel.Entity.ID != -1 || len(rel.Entity.Members) != 2 {
		t.Fatalf("relation = %+v", rel.Entity)
	}
	if m := rel.Entity.Members[1]; m.Type != "node" || m.Ref != -7 || m.Role != "label" {
		t.Errorf("member = %+v", m)
	}
}

func TestRegisterPOI(t *testing.T) {
	r := testRegistry(t, serveXML(sampleXML))
	call(t, r, "load_area", smallBox, nil)

	var res POIResult
	call(t, r, "register_poi", map[string]any{"id": 2}, &res)
	if !res.POI {
		t.Error("node 2 should be a POI after register")
	}

	var pois ListPOIsResult
	call(t, r, "list_pois", nil, &pois)
	if pois.Count != 2 {
		t.Errorf("pois = %d, expected 2", pois.Count)
	}

	// Recompute restores the derived state.
	call(t, r, "list_pois", map[string]any{"recompute": true}, &pois)
	if pois.Count != 1 || pois.POIs[0].ID != 1 {
		t.Errorf("recomputed pois = %+v", pois.POIs)
	}

	call(t, r, "unregister_poi", map[string]any{"id": 1}, &res)
	if res.POI {
		t.Error("node 1 still a POI")
	}
	if code := errorCode(t, r, "register_poi", map[string]any{"id": 404}); code != string(core.ErrNotFound) {
		t.Errorf("code = %s", code)
	}
}

func TestExportGeoJSON(t *testing.T) {
	r := testRegistry(t, serveXML(sampleXML))
	call(t, r, "load_area", smallBox, nil)

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			ID       any            `json:"id"`
			Geometry map[string]any `json:"geometry"`
		} `json:"features"`
	}
	call(t, r, "export_geojson", nil, &fc)
	if fc.Type != "FeatureCollection" {
		t.Errorf("type = %s", fc.Type)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("features = %d, expected the POI and the way", len(fc.Features))
	}

	call(t, r, "export_geojson", map[string]any{
		"bbox":      map[string]any{"left": -0.125, "right": -0.115, "top": 51.505, "bottom": 51.495},
		"all_nodes": true,
	}, &fc)
	if len(fc.Features) != 1 || fc.Features[0].ID != "node/1" {
		t.Errorf("bbox export = %+v", fc.Features)
	}
}
