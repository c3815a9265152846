package geo

import "testing"

func TestBBoxContains(t *testing.T) {
	b := BBox{MinLon: 100, MinLat: 0, MaxLon: 110, MaxLat: 10}
	tests := []struct {
		lon, lat float64
		want     bool
	}{
		{105, 5, true},
		{100, 0, true},
		{110, 10, true},
		{99.9, 5, false},
		{105, 10.1, false},
	}
	for _, tt := range tests {
		if got := b.Contains(tt.lon, tt.lat); got != tt.want {
			t.Errorf("Contains(%v,%v) = %v, want %v", tt.lon, tt.lat, got, tt.want)
		}
	}
}

func TestAPACContainsCapitals(t *testing.T) {
	for _, name := range []string{"tokyo", "sydney", "new delhi", "auckland", "singapore"} {
		p, ok := LookupPlace(name)
		if !ok {
			t.Fatalf("place %q missing", name)
		}
		if !APAC.Contains(p.Lon, p.Lat) {
			t.Errorf("%s outside APAC", name)
		}
	}
	if APAC.Contains(2.35, 48.85) {
		t.Error("Paris should be outside APAC")
	}
}

func TestCountryBBox(t *testing.T) {
	b, ok := CountryBBox("jp")
	if !ok {
		t.Fatal("JP box missing")
	}
	tokyo, _ := LookupPlace("Tokyo")
	if !b.Contains(tokyo.Lon, tokyo.Lat) {
		t.Error("Tokyo outside JP box")
	}
	if _, ok := CountryBBox("ZZ"); ok {
		t.Error("unexpected box for ZZ")
	}
}
