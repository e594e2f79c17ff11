package order

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"drone-delivery/internal/ports"
)

// Viewbox bounding address search to the Almaty service area
// (left,top,right,bottom).
const almatyViewbox = "76.7,43.35,77.1,43.0"

// GeocodeProxy forwards address lookups to the upstream geocoding
// provider with a small in-memory TTL cache. The cache keeps repeated
// map interactions from hammering the rate-limited upstream.
type GeocodeProxy struct {
	baseURL string
	ttl     time.Duration
	http    *http.Client

	mu    sync.Mutex
	cache map[string]cachedPayload
}

type cachedPayload struct {
	expiresAt time.Time
	payload   json.RawMessage
}

func NewGeocodeProxy(baseURL string, ttl time.Duration) *GeocodeProxy {
	return &GeocodeProxy{
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		http:    &http.Client{Timeout: 10 * time.Second},
		cache:   make(map[string]cachedPayload),
	}
}

var _ ports.Geocoder = (*GeocodeProxy)(nil)

// Search resolves a free-form address. Queries that do not mention the
// service city get it appended so the upstream ranks local results
// first.
func (g *GeocodeProxy) Search(ctx context.Context, query string) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("format", "jsonv2")
	params.Set("q", normalizeQuery(query))
	params.Set("limit", "5")
	params.Set("viewbox", almatyViewbox)
	params.Set("bounded", "1")
	params.Set("addressdetails", "1")
	params.Set("countrycodes", "kz")
	return g.get(ctx, "/search", params)
}

// Reverse resolves coordinates to the nearest address.
func (g *GeocodeProxy) Reverse(ctx context.Context, lat, lng float64) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("format", "jsonv2")
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	params.Set("zoom", "18")
	params.Set("addressdetails", "1")
	return g.get(ctx, "/reverse", params)
}

func (g *GeocodeProxy) get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	key := path + "?" + params.Encode()

	if payload, ok := g.cached(key); ok {
		return payload, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+key, nil)
	if err != nil {
		return nil, fmt.Errorf("build geocode request: %w", err)
	}
	req.Header.Set("User-Agent", "DroneApp/1.0 (local demo)")
	req.Header.Set("Accept-Language", "ru")

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocoding upstream unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("geocoding upstream returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read geocode response: %w", err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("geocoding upstream returned invalid JSON")
	}

	g.store(key, body)
	return body, nil
}

func (g *GeocodeProxy) cached(key string) (json.RawMessage, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.cache[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(g.cache, key)
		return nil, false
	}
	return entry.payload, true
}

func (g *GeocodeProxy) store(key string, payload json.RawMessage) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache[key] = cachedPayload{
		expiresAt: time.Now().Add(g.ttl),
		payload:   payload,
	}
}

// normalizeQuery appends the city and country unless the query already
// names the city.
func normalizeQuery(q string) string {
	value := strings.TrimSpace(q)
	if value == "" {
		return value
	}
	lower := strings.ToLower(value)
	if strings.Contains(lower, "алматы") || strings.Contains(lower, "almaty") {
		return value
	}
	return value + ", Алматы, Казахстан"
}
