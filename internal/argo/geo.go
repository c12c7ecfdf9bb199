package argo

import (
	"fmt"
	"math"
	"strconv"
)

// SRIDWGS84 is the spatial reference id of every stored point.
const SRIDWGS84 = 4326

// Point is a WGS84 position. Construct it with NewPoint so the coordinate
// ranges are always checked.
type Point struct {
	Lon float64
	Lat float64
}

// NewPoint validates the coordinates and returns the point. Out-of-range
// values are rejected, never clamped.
func NewPoint(lon, lat float64) (Point, error) {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return Point{}, fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, lat)
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) || lon < -180 || lon > 180 {
		return Point{}, fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, lon)
	}
	return Point{Lon: lon, Lat: lat}, nil
}

// WKT renders the point as "POINT(lon lat)".
func (p Point) WKT() string {
	return "POINT(" + formatCoord(p.Lon) + " " + formatCoord(p.Lat) + ")"
}

// EWKT renders the point with its SRID prefix.
func (p Point) EWKT() string {
	return "SRID=" + strconv.Itoa(SRIDWGS84) + ";" + p.WKT()
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
