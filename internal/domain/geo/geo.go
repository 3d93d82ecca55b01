// Пакет geo - расстояния по большому кругу и проверка геозоны объекта.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusM - радиус Земли для формулы гаверсинусов, метры.
const EarthRadiusM = 6371000.0

// Point - координата в градусах.
type Point struct {
	Lat float64
	Lon float64
}

// Validate проверяет диапазоны широты и долготы.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("широта вне диапазона [-90, 90]: %v", p.Lat)
	}
	if math.IsNaN(p.Lon) || p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("долгота вне диапазона [-180, 180]: %v", p.Lon)
	}
	return nil
}

// Distance возвращает расстояние между точками в метрах по формуле гаверсинусов.
// Симметрична: Distance(a, b) == Distance(b, a), Distance(a, a) == 0.
func Distance(a, b Point) float64 {
	if a == b {
		return 0
	}
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	// Ошибки округления могут вывести h чуть за 1
	h = math.Min(1, math.Max(0, h))

	return 2 * EarthRadiusM * math.Asin(math.Sqrt(h))
}

// Fence - круговая геозона объекта.
type Fence struct {
	Centre  Point
	RadiusM float64
}

// Contains сообщает, попадает ли точка в геозону (граница включительно).
func (f Fence) Contains(p Point) bool {
	return Distance(f.Centre, p) <= f.RadiusM
}
