package entity

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Bounds is an axis-aligned box in decimal degrees.
type Bounds struct {
	Left   float64
	Right  float64
	Top    float64
	Bottom float64
}

// Bound converts to an orb.Bound.
func (b Bounds) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.Left, b.Bottom},
		Max: orb.Point{b.Right, b.Top},
	}
}

// Contains checks if the box contains the lon lat point.
func (b Bounds) Contains(lon, lat float64) bool {
	if math.IsNaN(lon) || math.IsNaN(lat) {
		return false
	}
	return b.Bound().Contains(orb.Point{lon, lat})
}

// Valid reports whether the box is well ordered and inside WGS84 limits.
func (b Bounds) Valid() bool {
	if b.Left > b.Right || b.Bottom > b.Top {
		return false
	}
	return b.Left >= -180 && b.Right <= 180 && b.Bottom >= -90 && b.Top <= 90
}

func (b Bounds) String() string {
	return fmt.Sprintf("[%g, %g, %g, %g]", b.Left, b.Bottom, b.Right, b.Top)
}
