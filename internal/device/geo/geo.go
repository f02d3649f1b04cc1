// Package geo resolves client IP addresses to approximate locations.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"sitekeeper/internal/device/domain"
)

// LocalLabel is the location label of private and loopback addresses.
const LocalLabel = "Local"

// Locator resolves an IP to a location. Implementations never fail: unresolvable addresses yield
// a Location labelled domain.Unknown.
type Locator interface {
	Locate(ctx context.Context, ip string) domain.Location
}

// IPAPILocator queries an ip-api.com compatible JSON endpoint.
type IPAPILocator struct {
	baseURL string
	client  *http.Client
}

// NewIPAPILocator returns a locator for baseURL (e.g. http://ip-api.com/json) with a 5 s timeout.
func NewIPAPILocator(baseURL string) *IPAPILocator {
	return &IPAPILocator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

type ipAPIResponse struct {
	Status  string  `json:"status"`
	Country string  `json:"country"`
	City    string  `json:"city"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

func (l *IPAPILocator) Locate(ctx context.Context, ip string) domain.Location {
	if IsLocal(ip) {
		return domain.Location{Label: LocalLabel}
	}
	unknown := domain.Location{Label: domain.Unknown}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", l.baseURL, ip), nil)
	if err != nil {
		return unknown
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return unknown
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return unknown
	}
	var result ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return unknown
	}
	if result.Status == "fail" || result.City == "" || result.Country == "" {
		return unknown
	}
	lat, lon := result.Lat, result.Lon
	return domain.Location{
		Label:   fmt.Sprintf("%s, %s", result.City, result.Country),
		City:    result.City,
		Country: result.Country,
		Lat:     &lat,
		Lon:     &lon,
	}
}

// IsLocal reports whether ip is loopback, private, link-local or unparseable-empty.
func IsLocal(ip string) bool {
	if ip == "" {
		return true
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsLinkLocalUnicast() || parsed.IsUnspecified()
}

// StaticLocator returns fixed locations per IP. Used in tests and database-less runs.
type StaticLocator map[string]domain.Location

func (s StaticLocator) Locate(_ context.Context, ip string) domain.Location {
	if loc, ok := s[ip]; ok {
		return loc
	}
	if IsLocal(ip) {
		return domain.Location{Label: LocalLabel}
	}
	return domain.Location{Label: domain.Unknown}
}
