package normalize

import (
	"github.com/twpayne/go-geom"

	"github.com/sells-group/listing-sync/internal/model"
)

// validGeo returns the point when lat/lng are in range, not the (0,0) null
// island placeholder, and inside bounds when bounds are set.
func validGeo(lat, lng float64, bounds *geom.Bounds) *model.GeoPoint {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil
	}
	if lat == 0 && lng == 0 {
		return nil
	}
	if bounds != nil && !bounds.IsEmpty() && !bounds.OverlapsPoint(geom.XY, geom.Coord{lng, lat}) {
		return nil
	}
	return &model.GeoPoint{Lat: lat, Lng: lng}
}
