package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// APACCountries is the default country list, in display order.
var APACCountries = []string{
	"Australia", "Brunei", "Cambodia", "China", "Hong Kong", "India",
	"Indonesia", "Japan", "Laos", "Malaysia", "Myanmar", "New Zealand",
	"Philippines", "Singapore", "South Korea", "Taiwan", "Thailand", "Vietnam",
}

var apacISO2 = map[string]string{
	"Australia":   "AU",
	"Brunei":      "BN",
	"Cambodia":    "KH",
	"China":       "CN",
	"Hong Kong":   "HK",
	"India":       "IN",
	"Indonesia":   "ID",
	"Japan":       "JP",
	"Laos":        "LA",
	"Malaysia":    "MY",
	"Myanmar":     "MM",
	"New Zealand": "NZ",
	"Philippines": "PH",
	"Singapore":   "SG",
	"South Korea": "KR",
	"Taiwan":      "TW",
	"Thailand":    "TH",
	"Vietnam":     "VN",
}

// advisoryAliases covers names the advisory feed spells differently.
var advisoryAliases = map[string][]string{
	"China":          {"China", "People's Republic of China"},
	"South Korea":    {"South Korea", "Korea", "Republic of Korea"},
	"North Korea":    {"North Korea", "Democratic People's Republic of Korea", "DPRK"},
	"Russia":         {"Russia", "Russian Federation"},
	"United Kingdom": {"United Kingdom", "UK", "Britain", "Great Britain"},
	"United States":  {"United States", "USA", "US", "America"},
	"Myanmar":        {"Myanmar", "Burma"},
	"Brunei":         {"Brunei", "Brunei Darussalam"},
	"Cambodia":       {"Cambodia", "Kampuchea"},
	"Laos":           {"Laos", "Lao People's Democratic Republic"},
	"Ivory Coast":    {"Ivory Coast", "Côte d'Ivoire", "Cote d'Ivoire"},
	"East Timor":     {"East Timor", "Timor-Leste"},
	"Macedonia":      {"Macedonia", "North Macedonia"},
}

// CountryInfo is the subset of REST Countries data the adapters use.
type CountryInfo struct {
	ISO2         string
	Official     string
	Common       string
	AltSpellings []string
	Currency     string
	Latitude     *float64
	Longitude    *float64
}

type restCountry struct {
	CCA2 string `json:"cca2"`
	Name struct {
		Common   string `json:"common"`
		Official string `json:"official"`
	} `json:"name"`
	AltSpellings []string        `json:"altSpellings"`
	Currencies   json.RawMessage `json:"currencies"`
	LatLng       []float64       `json:"latlng"`
}

// Resolver maps free-form country names to ISO2 codes and name variants.
// Lookups are cached for the lifetime of an entry's TTL.
type Resolver struct {
	baseURL    string
	httpClient *http.Client
	cache      *expirable.LRU[string, *CountryInfo]
	log        *slog.Logger
}

func NewResolver(baseURL string, ttl time.Duration, log *slog.Logger) *Resolver {
	return &Resolver{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(TimeoutMedium),
		cache:      expirable.NewLRU[string, *CountryInfo](256, nil, ttl),
		log:        log,
	}
}

// Lookup fetches country metadata by name.
func (r *Resolver) Lookup(ctx context.Context, name string) (*CountryInfo, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if info, ok := r.cache.Get(key); ok {
		return info, nil
	}

	var rows []restCountry
	if err := getJSON(ctx, r.httpClient, r.baseURL+"/"+url.PathEscape(strings.TrimSpace(name)), nil, &rows); err != nil {
		return nil, fmt.Errorf("sources.Lookup: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sources.Lookup: country %q not found", name)
	}
	row := rows[0]
	info := &CountryInfo{
		ISO2:         strings.ToUpper(row.CCA2),
		Official:     row.Name.Official,
		Common:       row.Name.Common,
		AltSpellings: row.AltSpellings,
		Currency:     firstKey(row.Currencies),
	}
	if len(row.LatLng) > 0 {
		info.Latitude = &row.LatLng[0]
	}
	if len(row.LatLng) > 1 {
		info.Longitude = &row.LatLng[1]
	}
	r.cache.Add(key, info)
	return info, nil
}

// ISO2 resolves a country name: static table, then REST Countries, then the
// first two letters upper-cased.
func (r *Resolver) ISO2(ctx context.Context, name string) string {
	name = strings.TrimSpace(name)
	if code, ok := apacISO2[name]; ok {
		return code
	}
	if info, err := r.Lookup(ctx, name); err == nil && info.ISO2 != "" {
		return info.ISO2
	} else if err != nil {
		r.log.DebugContext(ctx, "iso2 lookup failed", "country", name, "error", err)
	}
	return guessISO2(name)
}

func guessISO2(name string) string {
	runes := []rune(strings.ToUpper(name))
	if len(runes) > 2 {
		runes = runes[:2]
	}
	return string(runes)
}

// Variants returns the name spellings to try against the advisory feed,
// de-duplicated case-insensitively in first-seen order.
func (r *Resolver) Variants(ctx context.Context, name string) []string {
	name = strings.TrimSpace(name)
	candidates := []string{name}

	lctx, cancel := context.WithTimeout(ctx, TimeoutShort)
	defer cancel()
	if info, err := r.Lookup(lctx, name); err == nil {
		candidates = append(candidates, orDefault(info.Official, name), orDefault(info.Common, name))
		candidates = append(candidates, info.AltSpellings...)
	} else {
		r.log.DebugContext(ctx, "official name lookup failed", "country", name, "error", err)
	}
	candidates = append(candidates, advisoryAliases[name]...)
	return dedupeFold(candidates)
}

func dedupeFold(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		k := strings.ToLower(v)
		if v == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// firstKey returns the first key of a JSON object in document order.
func firstKey(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return ""
	}
	tok, err := dec.Token()
	if err != nil {
		return ""
	}
	key, _ := tok.(string)
	return key
}
