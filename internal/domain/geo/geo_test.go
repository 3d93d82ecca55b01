package geo

import (
	"math"
	"testing"
)

var moscowCentre = Point{Lat: 55.7558262, Lon: 37.6172999}

func TestDistance_Symmetric(t *testing.T) {
	points := []Point{
		moscowCentre,
		{Lat: 55.7594102, Lon: 37.6172999},
		{Lat: 41.2995, Lon: 69.2401},
		{Lat: -33.8688, Lon: 151.2093},
		{Lat: 0, Lon: 179.9999},
		{Lat: 0, Lon: -179.9999},
	}
	for _, a := range points {
		if d := Distance(a, a); d != 0 {
			t.Errorf("Distance(%v, %v) = %v, ожидается 0", a, a, d)
		}
		for _, b := range points {
			if Distance(a, b) != Distance(b, a) {
				t.Errorf("Distance несимметрична для %v и %v: %v != %v", a, b, Distance(a, b), Distance(b, a))
			}
		}
	}
}

func TestDistance_KnownValues(t *testing.T) {
	tests := []struct {
		name string
		a, b Point
		want float64
		tol  float64
	}{
		{"400 м на север", moscowCentre, Point{Lat: 55.7594102, Lon: 37.6172999}, 398.5, 2},
		{"около 10 км", moscowCentre, Point{Lat: 55.85, Lon: 37.62}, 10480, 50},
		{"градус по экватору", Point{0, 0}, Point{0, 1}, 111195, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.a, tt.b)
			if math.Abs(got-tt.want) > tt.tol {
				t.Errorf("Distance = %.1f, ожидается %.1f ± %.1f", got, tt.want, tt.tol)
			}
		})
	}
}

func TestFence_Contains(t *testing.T) {
	fence := Fence{Centre: moscowCentre, RadiusM: 500}

	if !fence.Contains(Point{Lat: 55.7594102, Lon: 37.6172999}) {
		t.Error("точка в ~400 м должна быть внутри геозоны 500 м")
	}
	if fence.Contains(Point{Lat: 55.85, Lon: 37.62}) {
		t.Error("точка в ~10 км не должна быть внутри геозоны")
	}

	// Точка ровно на границе считается внутри
	edge := Point{Lat: 55.7594102, Lon: 37.6172999}
	exact := Fence{Centre: moscowCentre, RadiusM: Distance(moscowCentre, edge)}
	if !exact.Contains(edge) {
		t.Error("точка на границе должна быть внутри")
	}
	// На метр дальше радиуса - снаружи
	tight := Fence{Centre: moscowCentre, RadiusM: Distance(moscowCentre, edge) - 1}
	if tight.Contains(edge) {
		t.Error("точка в 1 м за границей должна быть снаружи")
	}
}

func TestPoint_Validate(t *testing.T) {
	tests := []struct {
		p       Point
		wantErr bool
	}{
		{moscowCentre, false},
		{Point{Lat: 91, Lon: 0}, true},
		{Point{Lat: 0, Lon: -181}, true},
		{Point{Lat: math.NaN(), Lon: 0}, true},
	}
	for _, tt := range tests {
		if err := tt.p.Validate(); (err != nil) != tt.wantErr {
			t.Errorf("Validate(%v) = %v, wantErr %v", tt.p, err, tt.wantErr)
		}
	}
}
