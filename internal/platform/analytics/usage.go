// Package analytics tracks dashboard API usage per route and per user so
// operators can see which views are hot, which fail and how slow the
// AI-backed routes are.
package analytics

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/renalsim/renalsim/internal/platform/auth"
	"github.com/renalsim/renalsim/internal/platform/middleware"
)

// RequestMetric captures a single API request.
type RequestMetric struct {
	Timestamp    time.Time     `json:"timestamp"`
	Method       string        `json:"method"`
	Route        string        `json:"route"`
	StatusCode   int           `json:"status_code"`
	Duration     time.Duration `json:"duration"`
	UserID       string        `json:"user_id"`
	ResponseSize int64         `json:"response_size"`
}

// endpoint keys counters by method and route template, e.g.
// "GET /patients/:id".
func (m *RequestMetric) endpoint() string {
	return m.Method + " " + m.Route
}

type endpointStats struct {
	Endpoint      string
	TotalRequests int64
	TotalErrors   int64
	TotalDuration int64 // nanoseconds
	StatusCounts  map[int]int64
	mu            sync.Mutex
}

type userStats struct {
	UserID        string
	TotalRequests int64
	TotalErrors   int64
	LastRequestAt time.Time
	mu            sync.Mutex
}

// EndpointSummary aggregates one route.
type EndpointSummary struct {
	Endpoint        string        `json:"endpoint"`
	TotalRequests   int64         `json:"total_requests"`
	ErrorRate       float64       `json:"error_rate"`
	AvgLatency      time.Duration `json:"avg_latency"`
	P95Latency      time.Duration `json:"p95_latency"`
	StatusBreakdown map[int]int64 `json:"status_breakdown"`
}

// UserSummary aggregates one authenticated user.
type UserSummary struct {
	UserID        string    `json:"user_id"`
	TotalRequests int64     `json:"total_requests"`
	ErrorRate     float64   `json:"error_rate"`
	LastSeen      time.Time `json:"last_seen"`
}

// UsageOverview is the headline view.
type UsageOverview struct {
	TotalRequests   int64              `json:"total_requests"`
	TotalErrors     int64              `json:"total_errors"`
	ErrorRate       float64            `json:"error_rate"`
	AvgLatency      time.Duration      `json:"avg_latency"`
	UniqueUsers     int                `json:"unique_users"`
	UniqueEndpoints int                `json:"unique_endpoints"`
	TopEndpoints    []*EndpointSummary `json:"top_endpoints"`
	TopUsers        []*UserSummary     `json:"top_users"`
}

// TimeSeriesBucket holds the metrics of one interval.
type TimeSeriesBucket struct {
	Timestamp    time.Time     `json:"timestamp"`
	RequestCount int64         `json:"request_count"`
	ErrorCount   int64         `json:"error_count"`
	AvgLatency   time.Duration `json:"avg_latency"`
}

// UsageTracker keeps a ring buffer of recent requests plus running
// per-endpoint and per-user counters. It is safe for concurrent use.
type UsageTracker struct {
	metrics       []*RequestMetric
	maxMetrics    int
	writePos      int
	full          bool
	endpoints     map[string]*endpointStats
	users         map[string]*userStats
	mu            sync.RWMutex
	totalRequests int64
	totalErrors   int64
	totalDuration int64 // nanoseconds
}

// NewUsageTracker creates a tracker remembering up to maxMetrics requests.
func NewUsageTracker(maxMetrics int) *UsageTracker {
	if maxMetrics <= 0 {
		maxMetrics = 10000
	}
	return &UsageTracker{
		metrics:    make([]*RequestMetric, 0, maxMetrics),
		maxMetrics: maxMetrics,
		endpoints:  make(map[string]*endpointStats),
		users:      make(map[string]*userStats),
	}
}

// Record stores a metric and updates the counters.
func (ut *UsageTracker) Record(metric *RequestMetric) {
	isError := metric.StatusCode >= 400

	atomic.AddInt64(&ut.totalRequests, 1)
	if isError {
		atomic.AddInt64(&ut.totalErrors, 1)
	}
	atomic.AddInt64(&ut.totalDuration, int64(metric.Duration))

	key := metric.endpoint()

	ut.mu.Lock()
	if ut.full {
		ut.metrics[ut.writePos] = metric
	} else {
		ut.metrics = append(ut.metrics, metric)
	}
	ut.writePos++
	if ut.writePos >= ut.maxMetrics {
		ut.writePos = 0
		ut.full = true
	}

	ep, ok := ut.endpoints[key]
	if !ok {
		ep = &endpointStats{Endpoint: key, StatusCounts: make(map[int]int64)}
		ut.endpoints[key] = ep
	}

	var us *userStats
	if metric.UserID != "" {
		us, ok = ut.users[metric.UserID]
		if !ok {
			us = &userStats{UserID: metric.UserID}
			ut.users[metric.UserID] = us
		}
	}
	ut.mu.Unlock()

	ep.mu.Lock()
	ep.TotalRequests++
	if isError {
		ep.TotalErrors++
	}
	ep.TotalDuration += int64(metric.Duration)
	ep.StatusCounts[metric.StatusCode]++
	ep.mu.Unlock()

	if us != nil {
		us.mu.Lock()
		us.TotalRequests++
		if isError {
			us.TotalErrors++
		}
		if metric.Timestamp.After(us.LastRequestAt) {
			us.LastRequestAt = metric.Timestamp
		}
		us.mu.Unlock()
	}
}

// GetEndpointStats returns the summary of one "METHOD route" key.
func (ut *UsageTracker) GetEndpointStats(endpoint string) *EndpointSummary {
	ut.mu.RLock()
	ep, ok := ut.endpoints[endpoint]
	ut.mu.RUnlock()
	if !ok {
		return nil
	}
	return ut.buildEndpointSummary(ep)
}

// GetOverview returns the headline usage summary.
func (ut *UsageTracker) GetOverview() *UsageOverview {
	total := atomic.LoadInt64(&ut.totalRequests)
	errs := atomic.LoadInt64(&ut.totalErrors)
	dur := atomic.LoadInt64(&ut.totalDuration)

	o := &UsageOverview{
		TotalRequests: total,
		TotalErrors:   errs,
	}
	if total > 0 {
		o.ErrorRate = float64(errs) / float64(total)
		o.AvgLatency = time.Duration(dur / total)
	}

	ut.mu.RLock()
	o.UniqueUsers = len(ut.users)
	o.UniqueEndpoints = len(ut.endpoints)
	ut.mu.RUnlock()

	o.TopEndpoints = ut.GetTopEndpoints(5)
	o.TopUsers = ut.GetTopUsers(5)
	return o
}

// GetTopEndpoints returns the busiest endpoints, ties broken by name.
func (ut *UsageTracker) GetTopEndpoints(limit int) []*EndpointSummary {
	ut.mu.RLock()
	stats := make([]*endpointStats, 0, len(ut.endpoints))
	for _, ep := range ut.endpoints {
		stats = append(stats, ep)
	}
	ut.mu.RUnlock()

	summaries := make([]*EndpointSummary, 0, len(stats))
	for _, ep := range stats {
		summaries = append(summaries, ut.buildEndpointSummary(ep))
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].TotalRequests != summaries[j].TotalRequests {
			return summaries[i].TotalRequests > summaries[j].TotalRequests
		}
		return summaries[i].Endpoint < summaries[j].Endpoint
	})
	if limit < len(summaries) {
		summaries = summaries[:limit]
	}
	return summaries
}

// GetTopUsers returns the most active users, ties broken by id.
func (ut *UsageTracker) GetTopUsers(limit int) []*UserSummary {
	ut.mu.RLock()
	summaries := make([]*UserSummary, 0, len(ut.users))
	for _, us := range ut.users {
		us.mu.Lock()
		s := &UserSummary{
			UserID:        us.UserID,
			TotalRequests: us.TotalRequests,
			LastSeen:      us.LastRequestAt,
		}
		if us.TotalRequests > 0 {
			s.ErrorRate = float64(us.TotalErrors) / float64(us.TotalRequests)
		}
		us.mu.Unlock()
		summaries = append(summaries, s)
	}
	ut.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].TotalRequests != summaries[j].TotalRequests {
			return summaries[i].TotalRequests > summaries[j].TotalRequests
		}
		return summaries[i].UserID < summaries[j].UserID
	})
	if limit < len(summaries) {
		summaries = summaries[:limit]
	}
	return summaries
}

// GetTimeSeries buckets the remembered requests of the last duration.
func (ut *UsageTracker) GetTimeSeries(interval, duration time.Duration, now time.Time) []*TimeSeriesBucket {
	start := now.Add(-duration).Truncate(interval)
	n := int(now.Sub(start)/interval) + 1

	buckets := make([]*TimeSeriesBucket, n)
	sums := make([]time.Duration, n)
	for i := range buckets {
		buckets[i] = &TimeSeriesBucket{Timestamp: start.Add(time.Duration(i) * interval)}
	}

	ut.mu.RLock()
	for _, m := range ut.metrics {
		if m.Timestamp.Before(start) || m.Timestamp.After(now) {
			continue
		}
		idx := int(m.Timestamp.Sub(start) / interval)
		if idx >= n {
			continue
		}
		buckets[idx].RequestCount++
		if m.StatusCode >= 400 {
			buckets[idx].ErrorCount++
		}
		sums[idx] += m.Duration
	}
	ut.mu.RUnlock()

	for i, b := range buckets {
		if b.RequestCount > 0 {
			b.AvgLatency = sums[i] / time.Duration(b.RequestCount)
		}
	}
	return buckets
}

func (ut *UsageTracker) buildEndpointSummary(ep *endpointStats) *EndpointSummary {
	ep.mu.Lock()
	s := &EndpointSummary{
		Endpoint:        ep.Endpoint,
		TotalRequests:   ep.TotalRequests,
		StatusBreakdown: make(map[int]int64, len(ep.StatusCounts)),
	}
	if ep.TotalRequests > 0 {
		s.ErrorRate = float64(ep.TotalErrors) / float64(ep.TotalRequests)
		s.AvgLatency = time.Duration(ep.TotalDuration / ep.TotalRequests)
	}
	for code, count := range ep.StatusCounts {
		s.StatusBreakdown[code] = count
	}
	ep.mu.Unlock()

	s.P95Latency = ut.p95(ep.Endpoint)
	return s
}

// p95 is computed over the requests still in the ring buffer.
func (ut *UsageTracker) p95(endpoint string) time.Duration {
	ut.mu.RLock()
	var durations []time.Duration
	for _, m := range ut.metrics {
		if m.endpoint() == endpoint {
			durations = append(durations, m.Duration)
		}
	}
	ut.mu.RUnlock()

	if len(durations) == 0 {
		return 0
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	idx := int(float64(len(durations)) * 0.95)
	if idx >= len(durations) {
		idx = len(durations) - 1
	}
	return durations[idx]
}

// UsageMiddleware records every request that matched a route. Unmatched
// paths are collapsed so scanners cannot grow the endpoint map.
func UsageMiddleware(tracker *UsageTracker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" || strings.HasSuffix(route, "/*") {
				route = "unmatched"
			}
			status := c.Response().Status
			if err != nil {
				status = statusOf(err)
			}

			tracker.Record(&RequestMetric{
				Timestamp:    start,
				Method:       c.Request().Method,
				Route:        route,
				StatusCode:   status,
				Duration:     time.Since(start),
				UserID:       auth.UserIDFromContext(c.Request().Context()),
				ResponseSize: c.Response().Size,
			})
			return err
		}
	}
}

// statusOf mirrors how the error handler will answer a handler error.
func statusOf(err error) int {
	var de *middleware.DetailedError
	if errors.As(err, &de) {
		return de.Code
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// UsageHandler serves the usage endpoints.
type UsageHandler struct {
	tracker *UsageTracker
}

func NewUsageHandler(tracker *UsageTracker) *UsageHandler {
	return &UsageHandler{tracker: tracker}
}

// RegisterRoutes mounts the admin-only usage routes.
func (h *UsageHandler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/admin/usage", auth.RequireRole(auth.RoleAdmin))
	g.GET("", h.HandleOverview)
	g.GET("/endpoints", h.HandleTopEndpoints)
	g.GET("/users", h.HandleTopUsers)
	g.GET("/timeseries", h.HandleTimeSeries)
}

func (h *UsageHandler) HandleOverview(c echo.Context) error {
	return c.JSON(http.StatusOK, h.tracker.GetOverview())
}

func (h *UsageHandler) HandleTopEndpoints(c echo.Context) error {
	return c.JSON(http.StatusOK, h.tracker.GetTopEndpoints(limitParam(c, 20)))
}

func (h *UsageHandler) HandleTopUsers(c echo.Context) error {
	return c.JSON(http.StatusOK, h.tracker.GetTopUsers(limitParam(c, 20)))
}

// HandleTimeSeries accepts interval and duration such as "5m" or "7d".
func (h *UsageHandler) HandleTimeSeries(c echo.Context) error {
	interval := parseDurationParam(c.QueryParam("interval"), time.Minute)
	duration := parseDurationParam(c.QueryParam("duration"), time.Hour)
	if duration/interval > 10000 {
		return echo.NewHTTPError(http.StatusBadRequest, "too many buckets")
	}
	return c.JSON(http.StatusOK, h.tracker.GetTimeSeries(interval, duration, time.Now()))
}

func limitParam(c echo.Context, def int) int {
	if l := c.QueryParam("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// parseDurationParam parses "1m", "1h" or "7d"; anything else (including
// non-positive values) yields def.
func parseDurationParam(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil || n <= 0 {
			return def
		}
		return time.Duration(n) * 24 * time.Hour
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
