package store

import (
	geojson "github.com/paulmach/go.geojson"

	"github.com/NERVsystems/osmstore/pkg/entity"
)

// ExportOptions selects what FeatureCollection includes.
type ExportOptions struct {
	// Bounds, when set, limits the export to entities within the box.
	Bounds *entity.Bounds
	// AllNodes exports every located node instead of only the POIs.
	AllNodes bool
}

// FeatureCollection renders the store as GeoJSON: point features for POI
// nodes and line strings for ways with at least two located nodes.
func (s *Store) FeatureCollection(opts ExportOptions) *geojson.FeatureCollection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fc := geojson.NewFeatureCollection()
	for pair := s.entities.Oldest(); pair != nil; pair = pair.Next() {
		if opts.Bounds != nil && !s.withinLocked(pair.Value, *opts.Bounds) {
			continue
		}

		switch v := pair.Value.(type) {
		case *entity.Node:
			if !v.HasLocation() {
				continue
			}
			if _, poi := s.pois.Get(v.ID); !poi && !opts.AllNodes {
				continue
			}
			f := geojson.NewPointFeature([]float64{v.Lon, v.Lat})
			setProperties(f, v)
			fc.AddFeature(f)
		case *entity.Way:
			var coords [][]float64
			for _, n := range s.wayNodesLocked(v) {
				if n.HasLocation() {
					coords = append(coords, []float64{n.Lon, n.Lat})
				}
			}
			if len(coords) < 2 {
				continue
			}
			f := geojson.NewLineStringFeature(coords)
			setProperties(f, v)
			fc.AddFeature(f)
		}
	}
	return fc
}

func setProperties(f *geojson.Feature, e entity.Entity) {
	f.ID = e.Ref().String()
	for k, v := range e.EntityTags() {
		f.SetProperty(k, v)
	}
	f.SetProperty("osm_type", e.Kind().String())
	f.SetProperty("osm_id", e.EntityID())
	f.SetProperty("local", e.IsLocal())
}
