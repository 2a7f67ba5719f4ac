package core

import (
	"fmt"
	"math"

	"github.com/NERVsystems/osmstore/pkg/entity"
)

// MaxLoadArea is the largest box, in square degrees, the map call is asked
// for. The OSM API refuses anything above 0.25.
const MaxLoadArea = 0.25

// ValidateCoords checks that a location is finite and on the globe.
func ValidateCoords(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return NewValidationError(ErrInvalidCoordinates, "coordinates must be finite numbers")
	}
	if lat < -90 || lat > 90 {
		return NewError(ErrInvalidCoordinates, fmt.Sprintf("latitude must be between -90 and 90, got %f", lat)).
			WithGuidance("Ensure latitude is in decimal degrees")
	}
	if lon < -180 || lon > 180 {
		return NewError(ErrInvalidCoordinates, fmt.Sprintf("longitude must be between -180 and 180, got %f", lon)).
			WithGuidance("Ensure longitude is in decimal degrees")
	}
	return nil
}

// ValidateBounds checks a query box: corners on the globe, left <= right
// and bottom <= top.
func ValidateBounds(b entity.Bounds) error {
	if err := ValidateCoords(b.Top, b.Left); err != nil {
		return NewValidationError(ErrInvalidBbox, err.Error())
	}
	if err := ValidateCoords(b.Bottom, b.Right); err != nil {
		return NewValidationError(ErrInvalidBbox, err.Error())
	}
	if !b.Valid() {
		return NewValidationError(ErrInvalidBbox, fmt.Sprintf("box %s is inverted", b))
	}
	return nil
}

// ValidateLoadBounds additionally caps the area of a box passed to the map
// call.
func ValidateLoadBounds(b entity.Bounds) error {
	if err := ValidateBounds(b); err != nil {
		return err
	}
	if area := (b.Right - b.Left) * (b.Top - b.Bottom); area > MaxLoadArea {
		return NewError(ErrInvalidBbox, fmt.Sprintf("box covers %.4f square degrees, limit is %.2f", area, MaxLoadArea)).
			WithGuidance("Split the area into smaller boxes")
	}
	return nil
}
