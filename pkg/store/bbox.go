package store

import "github.com/NERVsystems/osmstore/pkg/entity"

// BboxResult partitions the registered nodes and ways.
type BboxResult struct {
	Inside  []entity.Entity
	Outside []entity.Entity
}

// ObjectsByBbox splits every registered node and way into those within the
// box and the rest, keeping registry order. A way is within the box when at
// least one of its registered nodes is.
func (s *Store) ObjectsByBbox(left, right, top, bottom float64) BboxResult {
	b := entity.Bounds{Left: left, Right: right, Top: top, Bottom: bottom}

	s.mu.RLock()
	defer s.mu.RUnlock()

	res := BboxResult{
		Inside:  []entity.Entity{},
		Outside: []entity.Entity{},
	}
	for pair := s.entities.Oldest(); pair != nil; pair = pair.Next() {
		if s.withinLocked(pair.Value, b) {
			res.Inside = append(res.Inside, pair.Value)
		} else {
			res.Outside = append(res.Outside, pair.Value)
		}
	}
	return res
}

func (s *Store) withinLocked(e entity.Entity, b entity.Bounds) bool {
	switch v := e.(type) {
	case *entity.Node:
		return v.Within(b)
	case *entity.Way:
		for _, n := range s.wayNodesLocked(v) {
			if n.Within(b) {
				return true
			}
		}
	}
	return false
}
