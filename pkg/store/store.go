// Package store is the in-memory entity store of the editor: the registry of
// nodes, ways and relations, the local id counters, the point-of-interest
// index and the bounding-box query.
package store

import (
	"log/slog"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/NERVsystems/osmstore/pkg/entity"
	"github.com/NERVsystems/osmstore/pkg/monitoring"
)

// Store owns every loaded or locally created entity.
//
// Nodes and ways live in one registry keyed by (kind, id), relations in a
// second one keyed by id. Both iterate in first-insertion order; an
// overwrite keeps the original position.
type Store struct {
	mu     sync.RWMutex
	logger *slog.Logger

	entities  *orderedmap.OrderedMap[entity.Ref, entity.Entity]
	relations *orderedmap.OrderedMap[int64, *entity.Relation]
	pois      *orderedmap.OrderedMap[int64, *entity.Node]

	// node id -> set of way ids referencing it
	parents map[int64]map[int64]struct{}

	nodeCount int
	wayCount  int

	nextNode     int64
	nextWay      int64
	nextRelation int64
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used by the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		logger:       slog.Default(),
		entities:     orderedmap.New[entity.Ref, entity.Entity](),
		relations:    orderedmap.New[int64, *entity.Relation](),
		pois:         orderedmap.New[int64, *entity.Node](),
		parents:      make(map[int64]map[int64]struct{}),
		nextNode:     -1,
		nextWay:      -1,
		nextRelation: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Assign saves an entity, replacing whatever was registered under the same
// kind and id.
func (s *Store) Assign(e entity.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignLocked(e)
	s.publishSizeLocked()
}

func (s *Store) assignLocked(e entity.Entity) {
	switch v := e.(type) {
	case *entity.Node:
		if _, present := s.entities.Set(v.Ref(), v); !present {
			s.nodeCount++
		}
		// keep the index pointing at the registered node
		if _, indexed := s.pois.Get(v.ID); indexed {
			s.pois.Set(v.ID, v)
		}
	case *entity.Way:
		prev, present := s.entities.Set(v.Ref(), v)
		if present {
			s.unlinkWayLocked(prev.(*entity.Way))
		} else {
			s.wayCount++
		}
		s.linkWayLocked(v)
	case *entity.Relation:
		s.relations.Set(v.ID, v)
	}
}

// removeLocked drops an entity from every index. Ids are never handed out
// again.
func (s *Store) removeLocked(ref entity.Ref) {
	switch ref.Kind {
	case entity.KindNode:
		if _, ok := s.entities.Delete(ref); ok {
			s.nodeCount--
		}
		s.pois.Delete(ref.ID)
	case entity.KindWay:
		if prev, ok := s.entities.Delete(ref); ok {
			s.unlinkWayLocked(prev.(*entity.Way))
			s.wayCount--
		}
	case entity.KindRelation:
		s.relations.Delete(ref.ID)
	}
}

func (s *Store) linkWayLocked(w *entity.Way) {
	for _, id := range w.NodeIDs {
		ways, ok := s.parents[id]
		if !ok {
			ways = make(map[int64]struct{})
			s.parents[id] = ways
		}
		ways[w.ID] = struct{}{}
	}
}

func (s *Store) unlinkWayLocked(w *entity.Way) {
	for _, id := range w.NodeIDs {
		ways := s.parents[id]
		delete(ways, w.ID)
		if len(ways) == 0 {
			delete(s.parents, id)
		}
	}
}

// GetOrCreate returns the entity registered under ref, registering an empty
// placeholder first if there is none. It returns nil only for an invalid
// kind.
func (s *Store) GetOrCreate(ref entity.Ref) entity.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, _ := s.getOrCreateLocked(ref)
	return e
}

func (s *Store) getOrCreateLocked(ref entity.Ref) (entity.Entity, bool) {
	if e, ok := s.getLocked(ref); ok {
		return e, false
	}
	e := entity.NewPlaceholder(ref)
	if e == nil {
		return nil, false
	}
	s.assignLocked(e)
	return e, true
}

// Get returns the entity registered under ref.
func (s *Store) Get(ref entity.Ref) (entity.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(ref)
}

func (s *Store) getLocked(ref entity.Ref) (entity.Entity, bool) {
	if ref.Kind == entity.KindRelation {
		r, ok := s.relations.Get(ref.ID)
		if !ok {
			return nil, false
		}
		return r, true
	}
	return s.entities.Get(ref)
}

// Node returns the node with the given id.
func (s *Store) Node(id int64) (*entity.Node, bool) {
	e, ok := s.Get(entity.Ref{Kind: entity.KindNode, ID: id})
	if !ok {
		return nil, false
	}
	return e.(*entity.Node), true
}

// Way returns the way with the given id.
func (s *Store) Way(id int64) (*entity.Way, bool) {
	e, ok := s.Get(entity.Ref{Kind: entity.KindWay, ID: id})
	if !ok {
		return nil, false
	}
	return e.(*entity.Way), true
}

// Relation returns the relation with the given id.
func (s *Store) Relation(id int64) (*entity.Relation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.relations.Get(id)
}

// Resolve looks up the entity a relation member points at.
func (s *Store) Resolve(m entity.Member) (entity.Entity, bool) {
	return s.Get(m.Ref)
}

// WayNodes resolves the node list of a way. Ids that are not registered are
// left out.
func (s *Store) WayNodes(w *entity.Way) []*entity.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wayNodesLocked(w)
}

func (s *Store) wayNodesLocked(w *entity.Way) []*entity.Node {
	nodes := make([]*entity.Node, 0, len(w.NodeIDs))
	for _, id := range w.NodeIDs {
		if e, ok := s.entities.Get(entity.Ref{Kind: entity.KindNode, ID: id}); ok {
			nodes = append(nodes, e.(*entity.Node))
		}
	}
	return nodes
}

// Entities returns every registered node and way in registry order.
func (s *Store) Entities() []entity.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entity.Entity, 0, s.entities.Len())
	for pair := s.entities.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Relations returns every registered relation in registry order.
func (s *Store) Relations() []*entity.Relation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entity.Relation, 0, s.relations.Len())
	for pair := s.relations.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Len returns the number of registered entities of all kinds.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entities.Len() + s.relations.Len()
}

// ParentWays returns the ids of the registered ways that reference the node.
func (s *Store) ParentWays(nodeID int64) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ways := s.parents[nodeID]
	out := make([]int64, 0, len(ways))
	for id := range ways {
		out = append(out, id)
	}
	return out
}

// HasParentWays reports whether any registered way references the node.
func (s *Store) HasParentWays(nodeID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.parents[nodeID]) > 0
}

func (s *Store) publishSizeLocked() {
	monitoring.UpdateStoreSize(entity.KindNode.String(), s.nodeCount)
	monitoring.UpdateStoreSize(entity.KindWay.String(), s.wayCount)
	monitoring.UpdateStoreSize(entity.KindRelation.String(), s.relations.Len())
	monitoring.UpdatePOICount(s.pois.Len())
}

// Counts is a snapshot of the registry sizes.
type Counts struct {
	Nodes     int `json:"nodes"`
	Ways      int `json:"ways"`
	Relations int `json:"relations"`
	POIs      int `json:"pois"`
}

// Counts returns the current registry sizes.
func (s *Store) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Counts{
		Nodes:     s.nodeCount,
		Ways:      s.wayCount,
		Relations: s.relations.Len(),
		POIs:      s.pois.Len(),
	}
}
