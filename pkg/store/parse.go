package store

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/NERVsystems/osmstore/pkg/core"
	"github.com/NERVsystems/osmstore/pkg/entity"
	"github.com/NERVsystems/osmstore/pkg/monitoring"
	"github.com/NERVsystems/osmstore/pkg/osmdoc"
)

// ErrEmptyDocument is returned by Parse for a document without a root.
var ErrEmptyDocument = errors.New("empty document")

// Diagnostic describes an element the parser skipped.
type Diagnostic struct {
	Element string `json:"element"`
	ID      string `json:"id,omitempty"`
	Reason  string `json:"reason"`
}

func (d Diagnostic) String() string {
	if d.ID == "" {
		return fmt.Sprintf("%s: %s", d.Element, d.Reason)
	}
	return fmt.Sprintf("%s %s: %s", d.Element, d.ID, d.Reason)
}

// Report summarizes one parse.
type Report struct {
	// Nodes are the nodes registered by this parse, in document order.
	Nodes        []*entity.Node
	Ways         int
	Relations    int
	Placeholders int
	Skipped      []Diagnostic
}

// Parse registers the node, way and relation elements under the document
// root, in document order, and then updates the POI index for the parsed
// nodes. Elements with other names are ignored.
//
// A way may only reference nodes that are already registered, either
// earlier in the same document or from a previous load. Relation members
// that are not registered yet get a placeholder. An element with a missing
// or malformed attribute, or a way with an unknown node, is skipped and
// reported in Report.Skipped; the rest of the document is still applied.
func (s *Store) Parse(doc *osmdoc.Document) (*Report, error) {
	if doc == nil || doc.Root == nil {
		return nil, ErrEmptyDocument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rep := &Report{Nodes: []*entity.Node{}}
	skip := func(el *osmdoc.Element, err error) {
		id, _ := el.Attr("id")
		d := Diagnostic{Element: el.Name, ID: id, Reason: err.Error()}
		rep.Skipped = append(rep.Skipped, d)
		monitoring.RecordSkippedElement(el.Name)
		s.logger.Debug("skipping element", "element", el.Name, "id", id, "reason", d.Reason)
	}

	for _, el := range doc.Root.Children {
		switch el.Name {
		case "node":
			n, err := parseNode(el)
			if err != nil {
				skip(el, err)
				continue
			}
			s.assignLocked(n)
			rep.Nodes = append(rep.Nodes, n)
		case "way":
			w, err := s.parseWayLocked(el)
			if err != nil {
				skip(el, err)
				continue
			}
			s.assignLocked(w)
			rep.Ways++
		case "relation":
			r, created, err := s.parseRelationLocked(el)
			if err != nil {
				skip(el, err)
				continue
			}
			s.assignLocked(r)
			rep.Relations++
			rep.Placeholders += created
		default:
			continue
		}
		monitoring.RecordParsedElement(el.Name)
	}

	s.updatePOIsLocked(rep.Nodes)
	s.publishSizeLocked()

	s.logger.Info("parsed document",
		"nodes", len(rep.Nodes),
		"ways", rep.Ways,
		"relations", rep.Relations,
		"placeholders", rep.Placeholders,
		"skipped", len(rep.Skipped))

	return rep, nil
}

func parseNode(el *osmdoc.Element) (*entity.Node, error) {
	id, err := intAttr(el, "id")
	if err != nil {
		return nil, err
	}
	lat, err := floatAttr(el, "lat")
	if err != nil {
		return nil, err
	}
	lon, err := floatAttr(el, "lon")
	if err != nil {
		return nil, err
	}
	if err := core.ValidateCoords(lat, lon); err != nil {
		return nil, err
	}
	tags, err := parseTags(el)
	if err != nil {
		return nil, err
	}
	return &entity.Node{ID: id, Lat: lat, Lon: lon, Tags: tags}, nil
}

func (s *Store) parseWayLocked(el *osmdoc.Element) (*entity.Way, error) {
	id, err := intAttr(el, "id")
	if err != nil {
		return nil, err
	}
	tags, err := parseTags(el)
	if err != nil {
		return nil, err
	}

	nds := el.ChildrenNamed("nd")
	nodeIDs := make([]int64, 0, len(nds))
	for _, nd := range nds {
		ref, err := intAttr(nd, "ref")
		if err != nil {
			return nil, fmt.Errorf("nd: %w", err)
		}
		if _, ok := s.entities.Get(entity.Ref{Kind: entity.KindNode, ID: ref}); !ok {
			return nil, fmt.Errorf("references node %d which is not loaded", ref)
		}
		nodeIDs = append(nodeIDs, ref)
	}

	return &entity.Way{ID: id, NodeIDs: nodeIDs, Tags: tags}, nil
}

// parseRelationLocked validates every member before creating any
// placeholder, so a skipped relation leaves the registry untouched.
func (s *Store) parseRelationLocked(el *osmdoc.Element) (*entity.Relation, int, error) {
	id, err := intAttr(el, "id")
	if err != nil {
		return nil, 0, err
	}
	tags, err := parseTags(el)
	if err != nil {
		return nil, 0, err
	}

	items := el.ChildrenNamed("member")
	members := make([]entity.Member, 0, len(items))
	for _, m := range items {
		ref, err := intAttr(m, "ref")
		if err != nil {
			return nil, 0, fmt.Errorf("member: %w", err)
		}
		typ, ok := m.Attr("type")
		if !ok {
			return nil, 0, errors.New(`member: missing attribute "type"`)
		}
		kind, err := entity.ParseKind(typ)
		if err != nil {
			return nil, 0, fmt.Errorf("member: %w", err)
		}
		role, ok := m.Attr("role")
		if !ok {
			return nil, 0, errors.New(`member: missing attribute "role"`)
		}
		members = append(members, entity.Member{Ref: entity.Ref{Kind: kind, ID: ref}, Role: role})
	}

	created := 0
	for _, m := range members {
		if _, isNew := s.getOrCreateLocked(m.Ref); isNew {
			created++
			monitoring.RecordPlaceholder()
		}
	}

	return &entity.Relation{ID: id, Members: members, Tags: tags}, created, nil
}

func parseTags(el *osmdoc.Element) (entity.Tags, error) {
	tags := entity.Tags{}
	for _, t := range el.ChildrenNamed("tag") {
		k, ok := t.Attr("k")
		if !ok {
			return nil, errors.New(`tag: missing attribute "k"`)
		}
		v, ok := t.Attr("v")
		if !ok {
			return nil, fmt.Errorf(`tag %q: missing attribute "v"`, k)
		}
		tags[k] = v
	}
	return tags, nil
}

func intAttr(el *osmdoc.Element, name string) (int64, error) {
	raw, ok := el.Attr(name)
	if !ok {
		return 0, fmt.Errorf("missing attribute %q", name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("attribute %q: invalid integer %q", name, raw)
	}
	return v, nil
}

func floatAttr(el *osmdoc.Element, name string) (float64, error) {
	raw, ok := el.Attr(name)
	if !ok {
		return 0, fmt.Errorf("missing attribute %q", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("attribute %q: invalid number %q", name, raw)
	}
	return v, nil
}
