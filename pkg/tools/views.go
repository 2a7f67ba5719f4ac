package tools

import (
	"github.com/NERVsystems/osmstore/pkg/entity"
	"github.com/NERVsystems/osmstore/pkg/store"
)

// EntityView is the JSON shape of an entity in tool results.
type EntityView struct {
	Type    string            `json:"type"`
	ID      int64             `json:"id"`
	Lat     *float64          `json:"lat,omitempty"`
	Lon     *float64          `json:"lon,omitempty"`
	Tags    map[string]string `json:"tags"`
	Nodes   []int64           `json:"nodes,omitempty"`
	Members []MemberView      `json:"members,omitempty"`
	Local   bool              `json:"local,omitempty"`
	POI     bool              `json:"poi,omitempty"`
}

type MemberView struct {
	Type string `json:"type"`
	Ref  int64  `json:"ref"`
	Role string `json:"role"`
}

func viewOf(e entity.Entity) EntityView {
	v := EntityView{
		Type:  e.Kind().String(),
		ID:    e.EntityID(),
		Tags:  e.EntityTags(),
		Local: e.IsLocal(),
	}
	if v.Tags == nil {
		v.Tags = map[string]string{}
	}

	switch x := e.(type) {
	case *entity.Node:
		if x.HasLocation() {
			lat, lon := x.Lat, x.Lon
			v.Lat, v.Lon = &lat, &lon
		}
	case *entity.Way:
		v.Nodes = append([]int64{}, x.NodeIDs...)
	case *entity.Relation:
		v.Members = make([]MemberView, len(x.Members))
		for i, m := range x.Members {
			v.Members[i] = MemberView{Type: m.Ref.Kind.String(), Ref: m.Ref.ID, Role: m.Role}
		}
	}
	return v
}

func viewsOf(es []entity.Entity) []EntityView {
	out := make([]EntityView, len(es))
	for i, e := range es {
		out[i] = viewOf(e)
	}
	return out
}

func nodeViews(nodes []*entity.Node) []EntityView {
	out := make([]EntityView, len(nodes))
	for i, n := range nodes {
		out[i] = viewOf(n)
	}
	return out
}

// ReportView summarizes a parse for tool results.
type ReportView struct {
	Nodes        int                `json:"nodes"`
	Ways         int                `json:"ways"`
	Relations    int                `json:"relations"`
	Placeholders int                `json:"placeholders"`
	Skipped      []store.Diagnostic `json:"skipped,omitempty"`
}

func reportView(r *store.Report) ReportView {
	return ReportView{
		Nodes:        len(r.Nodes),
		Ways:         r.Ways,
		Relations:    r.Relations,
		Placeholders: r.Placeholders,
		Skipped:      r.Skipped,
	}
}
