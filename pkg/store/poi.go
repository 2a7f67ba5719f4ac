package store

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/NERVsystems/osmstore/pkg/entity"
)

// The POI index holds nodes that no way references. It is brought up to
// date for the nodes passed to UpdatePOIs, RegisterPOI and UnregisterPOI,
// and for the nodes a local creation touches, on undo and redo too. Code
// that attaches nodes to ways through Assign must call UpdatePOIs or
// RecomputePOIs itself.

// UpdatePOIs re-classifies the given nodes: nodes with a parent way leave
// the index, the others join it.
func (s *Store) UpdatePOIs(nodes []*entity.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updatePOIsLocked(nodes)
	s.publishSizeLocked()
}

func (s *Store) updatePOIsLocked(nodes []*entity.Node) {
	for _, n := range nodes {
		if len(s.parents[n.ID]) > 0 {
			s.pois.Delete(n.ID)
		} else {
			s.pois.Set(n.ID, n)
		}
	}
}

// RegisterPOI marks a node as a point of interest.
func (s *Store) RegisterPOI(n *entity.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pois.Set(n.ID, n)
	s.publishSizeLocked()
}

// UnregisterPOI removes a node from the point of interest index.
func (s *Store) UnregisterPOI(n *entity.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pois.Delete(n.ID)
	s.publishSizeLocked()
}

// POIs returns the indexed nodes.
func (s *Store) POIs() []*entity.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entity.Node, 0, s.pois.Len())
	for pair := s.pois.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// IsPOI reports whether the node id is in the index.
func (s *Store) IsPOI(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pois.Get(id)
	return ok
}

// RecomputePOIs rebuilds the index from every registered node.
func (s *Store) RecomputePOIs() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var nodes []*entity.Node
	for pair := s.entities.Oldest(); pair != nil; pair = pair.Next() {
		if n, ok := pair.Value.(*entity.Node); ok {
			nodes = append(nodes, n)
		}
	}
	s.pois = orderedmap.New[int64, *entity.Node]()
	s.updatePOIsLocked(nodes)
	s.publishSizeLocked()
}
