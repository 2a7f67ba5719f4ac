package store

import (
	"fmt"

	"github.com/NERVsystems/osmstore/pkg/entity"
	"github.com/NERVsystems/osmstore/pkg/monitoring"
)

// Action is an undoable edit.
type Action interface {
	Name() string
	Do()
	Undo()
}

// Performer receives the action built for a local edit. It is expected to
// execute it, usually through History.Perform.
type Performer func(Action)

// CreateEntityAction registers a locally created entity when performed and
// removes it again when undone. Both directions re-classify the POIs the
// entity touches.
type CreateEntityAction struct {
	store  *Store
	entity entity.Entity
}

func (a *CreateEntityAction) Name() string {
	return fmt.Sprintf("create %s", a.entity.Ref())
}

// Entity returns the entity the action creates.
func (a *CreateEntityAction) Entity() entity.Entity { return a.entity }

func (a *CreateEntityAction) Do() { a.store.create(a.entity) }

func (a *CreateEntityAction) Undo() { a.store.uncreate(a.entity) }

func (s *Store) create(e entity.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assignLocked(e)
	switch v := e.(type) {
	case *entity.Node:
		s.updatePOIsLocked([]*entity.Node{v})
	case *entity.Way:
		s.updatePOIsLocked(s.wayNodesLocked(v))
	}
	s.publishSizeLocked()
}

// uncreate removes e. A way's nodes are re-classified once its parent
// edges are gone.
func (s *Store) uncreate(e entity.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(e.Ref())
	if w, ok := e.(*entity.Way); ok {
		s.updatePOIsLocked(s.wayNodesLocked(w))
	}
	s.publishSizeLocked()
}

func (s *Store) allocate(kind entity.Kind) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	switch kind {
	case entity.KindNode:
		id = s.nextNode
		s.nextNode--
	case entity.KindWay:
		id = s.nextWay
		s.nextWay--
	case entity.KindRelation:
		id = s.nextRelation
		s.nextRelation--
	}
	monitoring.RecordLocalCreation(kind.String())
	return id
}

func (s *Store) submit(e entity.Entity, perform Performer) {
	action := &CreateEntityAction{store: s, entity: e}
	if perform == nil {
		action.Do()
		return
	}
	perform(action)
}

// DoCreateNode creates a node under the next local node id and hands its
// creation to perform. The store does not register the node itself.
func (s *Store) DoCreateNode(tags entity.Tags, lat, lon float64, perform Performer) *entity.Node {
	node := &entity.Node{
		ID:    s.allocate(entity.KindNode),
		Lat:   lat,
		Lon:   lon,
		Tags:  tags.Clone(),
		Local: true,
	}
	s.logger.Debug("creating local node", "id", node.ID)
	s.submit(node, perform)
	return node
}

// DoCreateWay creates a way over a copy of nodeIDs.
func (s *Store) DoCreateWay(tags entity.Tags, nodeIDs []int64, perform Performer) *entity.Way {
	way := &entity.Way{
		ID:      s.allocate(entity.KindWay),
		NodeIDs: append([]int64{}, nodeIDs...),
		Tags:    tags.Clone(),
		Local:   true,
	}
	s.logger.Debug("creating local way", "id", way.ID, "nodes", len(way.NodeIDs))
	s.submit(way, perform)
	return way
}

// DoCreateRelation creates a relation over a copy of members.
func (s *Store) DoCreateRelation(tags entity.Tags, members []entity.Member, perform Performer) *entity.Relation {
	rel := &entity.Relation{
		ID:      s.allocate(entity.KindRelation),
		Members: append([]entity.Member{}, members...),
		Tags:    tags.Clone(),
		Local:   true,
	}
	s.logger.Debug("creating local relation", "id", rel.ID, "members", len(rel.Members))
	s.submit(rel, perform)
	return rel
}
