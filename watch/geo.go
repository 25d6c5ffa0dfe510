package watch

import "math"

const earthRadiusKm = 6371.0

// Port is a known harbour. Encounters near one are legitimate port activity.
type Port struct {
	Name      string  `json:"name" yaml:"name" validate:"required"`
	Latitude  float64 `json:"lat" yaml:"lat" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"lon" yaml:"lon" validate:"gte=-180,lte=180"`
}

// DefaultPorts are the Sunda Strait harbours the monitor ships with.
func DefaultPorts() []Port {
	return []Port{
		{Name: "Merak", Latitude: -5.8933, Longitude: 106.0086},
		{Name: "Ciwandan", Latitude: -5.9525, Longitude: 106.0358},
		{Name: "Bojonegara", Latitude: -5.8995, Longitude: 106.0657},
		{Name: "Bakauheni", Latitude: -5.8711, Longitude: 105.7421},
		{Name: "Panjang", Latitude: -5.4558, Longitude: 105.3134},
		{Name: "Ciwandan 2", Latitude: -6.02147, Longitude: 105.95485},
		{Name: "Labuan", Latitude: -6.395829, Longitude: 105.807895},
		{Name: "Citeureup", Latitude: -6.491586, Longitude: 105.725007},
		{Name: "Tarahan", Latitude: -5.565, Longitude: 105.372998},
	}
}

// Region is an optional bounding box applied to the signal query.
type Region struct {
	MinLat float64 `json:"min_lat" validate:"gte=-90,lte=90"`
	MaxLat float64 `json:"max_lat" validate:"gte=-90,lte=90,gtefield=MinLat"`
	MinLon float64 `json:"min_lon" validate:"gte=-180,lte=180"`
	MaxLon float64 `json:"max_lon" validate:"gte=-180,lte=180,gtefield=MinLon"`
}

// DefaultRegion covers the Sunda Strait.
func DefaultRegion() Region {
	return Region{MinLat: -6.5, MaxLat: -5.5, MinLon: 105.0, MaxLon: 106.0}
}

// Contains reports whether the point lies inside the box, edges included.
func (r Region) Contains(lat, lon float64) bool {
	return lat >= r.MinLat && lat <= r.MaxLat && lon >= r.MinLon && lon <= r.MaxLon
}

// haversineKm returns the great-circle distance between two points in km.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// unitVector projects a lat/lon onto the unit sphere.
func unitVector(lat, lon float64) [3]float64 {
	phi := lat * math.Pi / 180
	lambda := lon * math.Pi / 180
	cosPhi := math.Cos(phi)
	return [3]float64{cosPhi * math.Cos(lambda), cosPhi * math.Sin(lambda), math.Sin(phi)}
}

// chordSquared converts a surface distance into the squared straight-line
// distance between the two points on the unit sphere.
func chordSquared(km float64) float64 {
	theta := km / earthRadiusKm
	if theta >= math.Pi {
		return 4
	}
	c := 2 * math.Sin(theta/2)
	return c * c
}

// nearestPort returns the closest port and its distance. ok is false when
// ports is empty.
func nearestPort(lat, lon float64, ports []Port) (Port, float64, bool) {
	var (
		best   Port
		bestKm = math.Inf(1)
	)
	for _, p := range ports {
		d := haversineKm(lat, lon, p.Latitude, p.Longitude)
		if d < bestKm {
			best, bestKm = p, d
		}
	}
	if len(ports) == 0 {
		return Port{}, 0, false
	}
	return best, bestKm, true
}
