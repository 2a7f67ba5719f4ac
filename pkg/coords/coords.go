// Package coords reads node positions written in the common notations:
// decimal degrees ("51.5007, -0.1246"), degrees-minutes-seconds
// ("51°30'02"N 0°07'28"W") and MGRS ("30UXC9922609814").
package coords

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/akhenakh/mgrs"

	"github.com/NERVsystems/osmstore/pkg/core"
)

type Format string

const (
	FormatDecimal Format = "decimal"
	FormatDMS     Format = "dms"
	FormatMGRS    Format = "mgrs"
)

// Position is a parsed WGS84 position.
type Position struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Format Format  `json:"format"`
}

var (
	// zone, latitude band, 100km square, even count of digits
	mgrsRe = regexp.MustCompile(`^(\d{1,2})([C-HJ-NP-X])([A-HJ-NP-Z]{2})((?:\d\d){0,5})$`)

	dmsRe = regexp.MustCompile(`(?i)^(\d+)[°d\s]+(\d+)['′m\s]+(\d+(?:\.\d+)?)["″s]?\s*([NS])[\s,]+(\d+)[°d\s]+(\d+)['′m\s]+(\d+(?:\.\d+)?)["″s]?\s*([EW])$`)

	decimalRe = regexp.MustCompile(`^(-?\d+(?:\.\d+)?)\s*[,\s]\s*(-?\d+(?:\.\d+)?)$`)
)

// Parse detects the notation of s and converts it. Decimal input is read
// as latitude first.
func Parse(s string) (Position, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Position{}, core.NewValidationError(core.ErrMissingParameter, "position is empty")
	}

	var (
		p   Position
		err error
	)
	compact := strings.ToUpper(strings.ReplaceAll(s, " ", ""))
	switch {
	case mgrsRe.MatchString(compact):
		p, err = parseMGRS(compact)
	case dmsRe.MatchString(s):
		p, err = parseDMS(s)
	case decimalRe.MatchString(s):
		p, err = parseDecimal(s)
	default:
		return Position{}, core.NewValidationError(core.ErrInvalidCoordinates,
			fmt.Sprintf("unrecognized position %q", s))
	}
	if err != nil {
		return Position{}, err
	}

	if err := core.ValidateCoords(p.Lat, p.Lon); err != nil {
		return Position{}, err
	}
	return p, nil
}

func parseMGRS(s string) (Position, error) {
	lat, lon, err := mgrs.MGRSToLatLng(s)
	if err != nil {
		return Position{}, core.NewValidationError(core.ErrInvalidCoordinates,
			fmt.Sprintf("MGRS %q: %v", s, err))
	}
	return Position{Lat: lat, Lon: lon, Format: FormatMGRS}, nil
}

func parseDMS(s string) (Position, error) {
	m := dmsRe.FindStringSubmatch(s)

	lat, err := dmsValue(m[1], m[2], m[3], 90)
	if err != nil {
		return Position{}, err
	}
	lon, err := dmsValue(m[5], m[6], m[7], 180)
	if err != nil {
		return Position{}, err
	}
	if strings.EqualFold(m[4], "S") {
		lat = -lat
	}
	if strings.EqualFold(m[8], "W") {
		lon = -lon
	}
	return Position{Lat: lat, Lon: lon, Format: FormatDMS}, nil
}

func dmsValue(deg, mins, secs string, limit float64) (float64, error) {
	d, _ := strconv.ParseFloat(deg, 64)
	m, _ := strconv.ParseFloat(mins, 64)
	s, _ := strconv.ParseFloat(secs, 64)
	if d > limit || m >= 60 || s >= 60 {
		return 0, core.NewValidationError(core.ErrInvalidCoordinates,
			fmt.Sprintf("%s° %s' %s\" is out of range", deg, mins, secs))
	}
	return d + m/60 + s/3600, nil
}

func parseDecimal(s string) (Position, error) {
	m := decimalRe.FindStringSubmatch(s)
	lat, _ := strconv.ParseFloat(m[1], 64)
	lon, _ := strconv.ParseFloat(m[2], 64)
	return Position{Lat: lat, Lon: lon, Format: FormatDecimal}, nil
}

// MGRS formats a position with 1m precision.
func MGRS(lat, lon float64) (string, error) {
	if err := core.ValidateCoords(lat, lon); err != nil {
		return "", err
	}
	s, err := mgrs.LatLngToMGRS(lat, lon, 5)
	if err != nil {
		return "", fmt.Errorf("MGRS conversion: %w", err)
	}
	return s, nil
}
