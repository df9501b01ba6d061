package display

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// FeatureCollection renders the overlays as GeoJSON. Circles become points
// with a radius property since GeoJSON has no circle geometry.
func (f Frame) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	for _, o := range f.Overlays {
		var feature *geojson.Feature
		switch o.Kind {
		case KindMarker:
			feature = geojson.NewFeature(o.Position.Point())
			feature.Properties["popup"] = o.Popup
			if o.Icon != nil {
				feature.Properties["icon"] = o.Icon.URL
			}
		case KindCircle:
			feature = geojson.NewFeature(o.Center.Point())
			feature.Properties["radius"] = o.Radius
			feature.Properties["color"] = o.Color
		case KindPolyline:
			line := make(orb.LineString, 0, len(o.Points))
			for _, p := range o.Points {
				line = append(line, p.Point())
			}
			feature = geojson.NewFeature(line)
			feature.Properties["color"] = o.Color
		default:
			continue
		}
		feature.Properties["kind"] = string(o.Kind)
		feature.Properties["target"] = o.Target
		fc.Append(feature)
	}

	if f.Center != nil {
		fc.ExtraMembers = geojson.Properties{"center": f.Center.Point(), "zoom": f.Zoom}
	}
	return fc
}
