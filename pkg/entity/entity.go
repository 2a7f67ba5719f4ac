// Package entity defines the OpenStreetMap data model held by the store:
// nodes, ways and relations, and the weak references between them.
package entity

import (
	"fmt"
	"maps"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

// Kind discriminates the entity variants.
type Kind uint8

const (
	KindNode Kind = iota + 1
	KindWay
	KindRelation
)

// String returns the OSM type name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNode:
		return string(osm.TypeNode)
	case KindWay:
		return string(osm.TypeWay)
	case KindRelation:
		return string(osm.TypeRelation)
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind maps an OSM member type ("node", "way", "relation") to a Kind.
func ParseKind(s string) (Kind, error) {
	switch osm.Type(s) {
	case osm.TypeNode:
		return KindNode, nil
	case osm.TypeWay:
		return KindWay, nil
	case osm.TypeRelation:
		return KindRelation, nil
	default:
		return 0, fmt.Errorf("unknown entity type %q", s)
	}
}

// Ref identifies an entity by kind and id. Negative ids belong to entities
// created locally that the server has never seen.
type Ref struct {
	Kind Kind
	ID   int64
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%d", r.Kind, r.ID)
}

// Local reports whether the id is in the local (negative) id space.
func (r Ref) Local() bool { return r.ID < 0 }

// Tags are the key/value pairs attached to an entity.
type Tags map[string]string

// Clone returns a copy of the tags. A nil receiver yields an empty map.
func (t Tags) Clone() Tags {
	if t == nil {
		return Tags{}
	}
	return maps.Clone(t)
}

// Entity is implemented by *Node, *Way and *Relation.
type Entity interface {
	Ref() Ref
	Kind() Kind
	EntityID() int64
	EntityTags() Tags
	IsLocal() bool
}

// Node is a single point.
type Node struct {
	ID    int64
	Lat   float64
	Lon   float64
	Tags  Tags
	Local bool
}

func (n *Node) Ref() Ref { return Ref{Kind: KindNode, ID: n.ID} }
func (n *Node) Kind() Kind { return KindNode }
func (n *Node) EntityID() int64 { return n.ID }
func (n *Node) EntityTags() Tags { return n.Tags }
func (n *Node) IsLocal() bool { return n.Local }
func (n *Node) Point() orb.Point { return orb.Point{n.Lon, n.Lat} }
func (n *Node) HasLocation() bool { return !math.IsNaN(n.Lat) && !math.IsNaN(n.Lon) }

// Within reports whether the node lies inside b, edges included. A node
// without a location is never within any box.
func (n *Node) Within(b Bounds) bool {
	if !n.HasLocation() {
		return false
	}
	return b.Contains(n.Lon, n.Lat)
}

// Way is an ordered list of node ids. The nodes themselves are owned by the
// store and resolved through it.
type Way struct {
	ID      int64
	NodeIDs []int64
	Tags    Tags
	Local   bool
}

func (w *Way) Ref() Ref { return Ref{Kind: KindWay, ID: w.ID} }
func (w *Way) Kind() Kind { return KindWay }
func (w *Way) EntityID() int64 { return w.ID }
func (w *Way) EntityTags() Tags { return w.Tags }
func (w *Way) IsLocal() bool { return w.Local }

// Member is one entry of a relation: a weak reference plus its role.
type Member struct {
	Ref  Ref
	Role string
}

// Relation groups other entities under roles.
type Relation struct {
	ID      int64
	Members []Member
	Tags    Tags
	Local   bool
}

func (r *Relation) Ref() Ref { return Ref{Kind: KindRelation, ID: r.ID} }
func (r *Relation) Kind() Kind { return KindRelation }
func (r *Relation) EntityID() int64 { return r.ID }
func (r *Relation) EntityTags() Tags { return r.Tags }
func (r *Relation) IsLocal() bool { return r.Local }

// NewPlaceholder builds the empty stand-in registered when a relation member
// is referenced before it is loaded: no tags, no children, and for nodes no
// location.
func NewPlaceholder(ref Ref) Entity {
	switch ref.Kind {
	case KindNode:
		return &Node{ID: ref.ID, Lat: math.NaN(), Lon: math.NaN(), Tags: Tags{}}
	case KindWay:
		return &Way{ID: ref.ID, NodeIDs: []int64{}, Tags: Tags{}}
	case KindRelation:
		return &Relation{ID: ref.ID, Members: []Member{}, Tags: Tags{}}
	default:
		return nil
	}
}
