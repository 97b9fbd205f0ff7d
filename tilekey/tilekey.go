// Package tilekey maps geographic coordinates to the hemisphere-qualified names of
// one-degree elevation tiles (e.g. N039W001) and to the coarser region buckets the
// remote source groups those tiles under.
package tilekey

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-spatial/geom"

	"github.com/pdok/terrapack/mathhelp"
)

// DefaultSectorSize is the edge in degrees of a source region.
const DefaultSectorSize = 5

const keyLength = 8

var keyRegex = regexp.MustCompile(`^([NS])(\d{3})([EW])(\d{3})$`)

// Key identifies a one-degree tile by its south-west corner, formatted as
// {N|S}{3-digit abs latitude}{E|W}{3-digit abs longitude}.
type Key string

// FormatError is returned when a string is not a well-formed Key.
type FormatError struct {
	Input string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed tile key %q: want %d characters like N039W001", e.Input, keyLength)
}

// FromLatLon floors lat and lon and returns the key of the tile containing them.
// Many coordinates map to one key.
func FromLatLon(lat, lon float64) Key {
	return FromDegrees(mathhelp.FloorInt(lat), mathhelp.FloorInt(lon))
}

// FromDegrees returns the key for integer degrees.
func FromDegrees(lat, lon int) Key {
	ns, ew := byte('N'), byte('E')
	if lat < 0 {
		ns = 'S'
		lat = -lat
	}
	if lon < 0 {
		ew = 'W'
		lon = -lon
	}
	return Key(fmt.Sprintf("%c%03d%c%03d", ns, lat, ew, lon))
}

// Parse validates s and returns it as a Key.
func Parse(s string) (Key, error) {
	if !keyRegex.MatchString(s) {
		return "", &FormatError{Input: s}
	}
	return Key(s), nil
}

// Region returns the key of the sectorSize by sectorSize degree region that contains
// lat/lon. Tiles within the same aligned block share a region key.
func Region(lat, lon float64, sectorSize int) Key {
	if sectorSize <= 0 {
		sectorSize = DefaultSectorSize
	}
	return FromDegrees(
		mathhelp.FloorToMultiple(mathhelp.FloorInt(lat), sectorSize),
		mathhelp.FloorToMultiple(mathhelp.FloorInt(lon), sectorSize),
	)
}

// LatLon is the exact inverse of FromDegrees.
func (k Key) LatLon() (lat, lon int, err error) {
	parts := keyRegex.FindStringSubmatch(string(k))
	if parts == nil {
		return 0, 0, &FormatError{Input: string(k)}
	}
	// the regex guarantees three digits, so Atoi cannot fail
	lat, _ = strconv.Atoi(parts[2])
	lon, _ = strconv.Atoi(parts[4])
	if parts[1] == "S" {
		lat = -lat
	}
	if parts[3] == "W" {
		lon = -lon
	}
	return lat, lon, nil
}

// Region returns the region key of the tile.
func (k Key) Region(sectorSize int) (Key, error) {
	lat, lon, err := k.LatLon()
	if err != nil {
		return "", err
	}
	return Region(float64(lat), float64(lon), sectorSize), nil
}

// Extent is the one degree box covered by the tile as minLon, minLat, maxLon, maxLat.
func (k Key) Extent() (geom.Extent, error) {
	lat, lon, err := k.LatLon()
	if err != nil {
		return geom.Extent{}, err
	}
	return geom.Extent{float64(lon), float64(lat), float64(lon + 1), float64(lat + 1)}, nil
}

func (k Key) String() string {
	return string(k)
}

// ParseRegionSpan parses a published region name such as N080W030_N090E000 into the
// extent between its two corner keys.
func ParseRegionSpan(name string) (geom.Extent, error) {
	lower, upper, ok := strings.Cut(name, "_")
	if !ok {
		return geom.Extent{}, fmt.Errorf("region %q has no '_' separator", name)
	}
	minLat, minLon, err := Key(lower).LatLon()
	if err != nil {
		return geom.Extent{}, err
	}
	maxLat, maxLon, err := Key(upper).LatLon()
	if err != nil {
		return geom.Extent{}, err
	}
	return geom.Extent{float64(minLon), float64(minLat), float64(maxLon), float64(maxLat)}, nil
}

// Grid returns the keys of all tiles with minLat <= lat <= maxLat and
// minLon <= lon <= maxLon, longitude-major like the source's own listing.
func Grid(minLat, maxLat, minLon, maxLon int) []Key {
	if maxLat < minLat || maxLon < minLon {
		return nil
	}
	keys := make([]Key, 0, (maxLat-minLat+1)*(maxLon-minLon+1))
	for lon := minLon; lon <= maxLon; lon++ {
		for lat := minLat; lat <= maxLat; lat++ {
			keys = append(keys, FromDegrees(lat, lon))
		}
	}
	return keys
}
