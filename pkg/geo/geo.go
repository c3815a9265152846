// Package geo holds the bounding boxes and place coordinates used by the
// hazard adapter, the hotspot filter and map actions.
package geo

import "strings"

// BBox is a lon/lat rectangle. It does not wrap the antimeridian.
type BBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// Contains reports whether the point lies inside the box, edges included.
func (b BBox) Contains(lon, lat float64) bool {
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// Center returns [lon, lat].
func (b BBox) Center() [2]float64 {
	return [2]float64{(b.MinLon + b.MaxLon) / 2, (b.MinLat + b.MaxLat) / 2}
}

// APAC covers South, East and Southeast Asia and Oceania.
var APAC = BBox{MinLon: 60, MinLat: -50, MaxLon: 180, MaxLat: 55}

// countryBoxes is keyed by ISO2.
var countryBoxes = map[string]BBox{
	"AU": {112.9, -43.7, 153.7, -10.6},
	"BN": {114.0, 4.0, 115.4, 5.1},
	"KH": {102.3, 10.4, 107.6, 14.7},
	"CN": {73.5, 18.2, 134.8, 53.6},
	"HK": {113.8, 22.1, 114.4, 22.6},
	"IN": {68.1, 6.7, 97.4, 35.5},
	"ID": {95.0, -11.0, 141.0, 6.1},
	"JP": {122.9, 24.0, 145.8, 45.6},
	"LA": {100.1, 13.9, 107.7, 22.5},
	"MY": {99.6, 0.8, 119.3, 7.4},
	"MM": {92.2, 9.8, 101.2, 28.5},
	"NZ": {166.4, -47.3, 178.6, -34.4},
	"PH": {116.9, 4.6, 126.6, 21.1},
	"SG": {103.6, 1.2, 104.1, 1.5},
	"KR": {125.1, 33.1, 129.6, 38.6},
	"TW": {119.3, 21.9, 122.0, 25.3},
	"TH": {97.3, 5.6, 105.6, 20.5},
	"VN": {102.1, 8.6, 109.5, 23.4},
}

// CountryBBox looks up a country's box by ISO2 code.
func CountryBBox(iso2 string) (BBox, bool) {
	b, ok := countryBoxes[strings.ToUpper(iso2)]
	return b, ok
}

// Place is a named point for map zooming.
type Place struct {
	Name string
	Lon  float64
	Lat  float64
}

var places = map[string]Place{
	"tokyo":        {"Tokyo", 139.6917, 35.6895},
	"japan":        {"Japan", 138.2529, 36.2048},
	"beijing":      {"Beijing", 116.4074, 39.9042},
	"shanghai":     {"Shanghai", 121.4737, 31.2304},
	"china":        {"China", 104.1954, 35.8617},
	"hong kong":    {"Hong Kong", 114.1694, 22.3193},
	"taipei":       {"Taipei", 121.5654, 25.0330},
	"taiwan":       {"Taiwan", 120.9605, 23.6978},
	"seoul":        {"Seoul", 126.9780, 37.5665},
	"south korea":  {"South Korea", 127.7669, 35.9078},
	"singapore":    {"Singapore", 103.8198, 1.3521},
	"bangkok":      {"Bangkok", 100.5018, 13.7563},
	"thailand":     {"Thailand", 100.9925, 15.8700},
	"hanoi":        {"Hanoi", 105.8342, 21.0278},
	"vietnam":      {"Vietnam", 108.2772, 14.0583},
	"manila":       {"Manila", 120.9842, 14.5995},
	"philippines":  {"Philippines", 121.7740, 12.8797},
	"jakarta":      {"Jakarta", 106.8456, -6.2088},
	"indonesia":    {"Indonesia", 113.9213, -0.7893},
	"kuala lumpur": {"Kuala Lumpur", 101.6869, 3.1390},
	"malaysia":     {"Malaysia", 101.9758, 4.2105},
	"new delhi":    {"New Delhi", 77.2090, 28.6139},
	"mumbai":       {"Mumbai", 72.8777, 19.0760},
	"india":        {"India", 78.9629, 20.5937},
	"sydney":       {"Sydney", 151.2093, -33.8688},
	"australia":    {"Australia", 133.7751, -25.2744},
	"auckland":     {"Auckland", 174.7633, -36.8485},
	"new zealand":  {"New Zealand", 174.8860, -40.9006},
	"yangon":       {"Yangon", 96.1951, 16.8661},
	"myanmar":      {"Myanmar", 95.9560, 21.9162},
	"phnom penh":   {"Phnom Penh", 104.9282, 11.5564},
	"cambodia":     {"Cambodia", 104.9910, 12.5657},
	"vientiane":    {"Vientiane", 102.6331, 17.9757},
	"laos":         {"Laos", 102.4955, 19.8563},
	"brunei":       {"Brunei", 114.7277, 4.5353},
}

// LookupPlace resolves a place name case-insensitively.
func LookupPlace(name string) (Place, bool) {
	p, ok := places[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}
