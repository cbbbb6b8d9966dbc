package distance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"fieldroute/internal/config"
)

// ErrProvider marks upstream distance-lookup failures. Callers degrade
// (edges stay unknown) instead of failing the run.
var ErrProvider = errors.New("distance provider failure")

// Provider resolves travel-time minutes for origin x destination pairs.
// The result maps Key(from, to) to minutes; pairs the upstream could not
// resolve are absent, not zero.
type Provider interface {
	Matrix(ctx context.Context, origins, destinations []string) (map[string]int, error)
	Name() string
}

// HTTPProvider calls a JSON matrix endpoint. The request body is
// {"origins": [...], "destinations": [...]} and the response carries
// durations in seconds, row per origin, null for unresolvable pairs.
type HTTPProvider struct {
	url     string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewHTTPProvider builds a provider from injected configuration; it reads
// no process-level state.
func NewHTTPProvider(cfg config.DistanceConfig) *HTTPProvider {
	return &HTTPProvider{
		url:     cfg.URL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

func (p *HTTPProvider) Name() string { return "http" }

type matrixRequest struct {
	Origins      []string `json:"origins"`
	Destinations []string `json:"destinations"`
}

type matrixResponse struct {
	Durations [][]*float64 `json:"durations"`
}

func (p *HTTPProvider) Matrix(ctx context.Context, origins, destinations []string) (map[string]int, error) {
	if len(origins) == 0 || len(destinations) == 0 {
		return map[string]int{}, nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	body, err := json.Marshal(matrixRequest{Origins: origins, Destinations: destinations})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("X-Api-Key", p.apiKey)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrProvider, resp.StatusCode)
	}
	var mr matrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	if len(mr.Durations) != len(origins) {
		return nil, fmt.Errorf("%w: expected %d rows, got %d", ErrProvider, len(origins), len(mr.Durations))
	}
	out := make(map[string]int, len(origins)*len(destinations))
	for i, row := range mr.Durations {
		if len(row) != len(destinations) {
			return nil, fmt.Errorf("%w: row %d has %d cols, want %d", ErrProvider, i, len(row), len(destinations))
		}
		for j, sec := range row {
			if sec == nil {
				continue
			}
			out[Key(origins[i], destinations[j])] = int(math.Round(*sec / 60.0))
		}
	}
	return out, nil
}

// StaticProvider serves edges from a fixed table. Used for dev configs and
// tests; pairs without an entry are simply absent from results.
type StaticProvider struct {
	edges map[string]int
}

func NewStaticProvider(edges []config.StaticEdge) *StaticProvider {
	m := make(map[string]int, len(edges))
	for _, e := range edges {
		m[Key(e.From, e.To)] = e.Minutes
	}
	return &StaticProvider{edges: m}
}

// NewStaticProviderFromMap builds a provider over Key(from,to) -> minutes.
func NewStaticProviderFromMap(edges map[string]int) *StaticProvider {
	m := make(map[string]int, len(edges))
	for k, v := range edges {
		m[k] = v
	}
	return &StaticProvider{edges: m}
}

func (p *StaticProvider) Name() string { return "static" }

func (p *StaticProvider) Matrix(_ context.Context, origins, destinations []string) (map[string]int, error) {
	out := map[string]int{}
	for _, from := range origins {
		for _, to := range destinations {
			if from == to {
				out[Key(from, to)] = 0
				continue
			}
			if m, ok := p.edges[Key(from, to)]; ok {
				out[Key(from, to)] = m
			}
		}
	}
	return out, nil
}
